package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Subprotocol is negotiated on every duplex connection.
const Subprotocol = "realtime"

const (
	defaultEventBuffer = 64
	closeTimeout       = 5 * time.Second
)

// ErrClosed is returned by [Duplex.Send] once the connection is closed,
// whether locally or by the remote end.
var ErrClosed = errors.New("transport: duplex closed")

// DialOption configures [Dial].
type DialOption func(*dialConfig)

type dialConfig struct {
	start       any
	httpClient  *http.Client
	header      http.Header
	eventBuffer int
}

// WithStartMessage sends v as the first frame right after the connection
// opens.
func WithStartMessage(v any) DialOption {
	return func(c *dialConfig) { c.start = v }
}

// WithDialHTTPClient sets the HTTP client used for the opening handshake.
func WithDialHTTPClient(hc *http.Client) DialOption {
	return func(c *dialConfig) { c.httpClient = hc }
}

// WithHeader adds headers to the opening handshake.
func WithHeader(h http.Header) DialOption {
	return func(c *dialConfig) { c.header = h }
}

// WithEventBuffer sets the capacity of the [Duplex.Events] channel.
func WithEventBuffer(n int) DialOption {
	return func(c *dialConfig) { c.eventBuffer = n }
}

// Duplex is one persistent WebSocket connection to the backend. Outbound
// messages are JSON text frames; inbound frames are decoded with
// [ParseEvent] and published on [Duplex.Events].
//
// The Events channel must be drained by the owner. It is closed when the
// connection ends, right before [Duplex.Done] is closed.
type Duplex struct {
	conn   *websocket.Conn
	url    string
	events chan Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	err       error
	closeOnce sync.Once
}

// Dial opens a duplex connection to rawURL with the [Subprotocol] and starts
// its receive loop.
func Dial(ctx context.Context, rawURL string, opts ...DialOption) (*Duplex, error) {
	cfg := dialConfig{eventBuffer: defaultEventBuffer}
	for _, o := range opts {
		o(&cfg)
	}

	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		HTTPClient:   cfg.httpClient,
		HTTPHeader:   cfg.header,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", rawURL, err)
	}

	dctx, cancel := context.WithCancel(context.Background())
	d := &Duplex{
		conn:   conn,
		url:    rawURL,
		events: make(chan Event, cfg.eventBuffer),
		done:   make(chan struct{}),
		ctx:    dctx,
		cancel: cancel,
	}

	if cfg.start != nil {
		if err := d.Send(ctx, cfg.start); err != nil {
			cancel()
			conn.Close(websocket.StatusInternalError, "start failed")
			return nil, fmt.Errorf("transport: send start: %w", err)
		}
	}

	go d.receiveLoop()

	slog.Debug("duplex connected", "url", rawURL)
	return d, nil
}

// URL returns the address the connection was dialed with.
func (d *Duplex) URL() string { return d.url }

// Events returns the channel of decoded inbound events.
func (d *Duplex) Events() <-chan Event { return d.events }

// Done is closed when the connection has ended for any reason.
func (d *Duplex) Done() <-chan struct{} { return d.done }

// Open reports whether the connection is usable for sending.
func (d *Duplex) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// Err returns the error that ended the connection, or nil if it is open or
// was closed cleanly.
func (d *Duplex) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Send writes v as one JSON text frame.
func (d *Duplex) Send(ctx context.Context, v any) error {
	if !d.Open() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	if err := d.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: duplex write: %w", err)
	}
	return nil
}

func (d *Duplex) receiveLoop() {
	defer func() {
		close(d.events)
		close(d.done)
	}()

	for {
		_, data, err := d.conn.Read(d.ctx)
		if err != nil {
			d.markClosed(err)
			return
		}

		ev, ok := ParseEvent(data)
		if !ok {
			slog.Debug("duplex: ignoring frame", "url", d.url, "bytes", len(data))
			continue
		}
		select {
		case d.events <- ev:
		case <-d.ctx.Done():
			d.markClosed(nil)
			return
		}
	}
}

// markClosed records why the connection ended. Normal closures and local
// shutdown are not errors.
func (d *Duplex) markClosed(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	wasClosed := d.closed
	d.closed = true
	if err == nil || wasClosed || d.ctx.Err() != nil {
		return
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Info("duplex closed by remote", "url", d.url)
		return
	}
	d.err = err
	slog.Warn("duplex connection lost", "url", d.url, "err", err)
}

// Close sends the final messages, if any, then closes the connection with a
// normal closure status. Only the first call has an effect.
func (d *Duplex) Close(ctx context.Context, final ...any) error {
	var sendErr error
	d.closeOnce.Do(func() {
		for _, msg := range final {
			if err := d.Send(ctx, msg); err != nil {
				sendErr = errors.Join(sendErr, err)
			}
		}

		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		err := d.conn.Close(websocket.StatusNormalClosure, "session finished")
		d.cancel()

		select {
		case <-d.done:
		case <-time.After(closeTimeout):
		}
		if err != nil {
			slog.Debug("duplex close handshake", "url", d.url, "err", err)
		}
	})
	return sendErr
}
