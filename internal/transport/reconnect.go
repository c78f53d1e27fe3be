package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Dialer opens a fresh duplex connection.
type Dialer func(ctx context.Context) (*Duplex, error)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Dial opens a connection. It should send any start message itself, for
	// example with [WithStartMessage]. Required.
	Dial Dialer

	// MaxRetries is the number of redial attempts per outage. Default: 10.
	MaxRetries int

	// Backoff is the delay after the first failed attempt. It doubles up to
	// MaxBackoff. Default: 1s.
	Backoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 30s.
	MaxBackoff time.Duration

	// OnReconnect is called with each replacement connection. May be nil.
	OnReconnect func(*Duplex)

	// OnGiveUp is called when an outage outlasts MaxRetries. May be nil.
	OnGiveUp func()
}

// Reconnector keeps a duplex connection alive. When the remote end drops the
// connection it redials with exponential backoff and hands the replacement
// to OnReconnect.
//
// A connection closed through [Reconnector.Stop] is not redialed. All
// methods are safe for concurrent use.
type Reconnector struct {
	dial        Dialer
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(*Duplex)
	onGiveUp    func()

	mu       sync.Mutex
	conn     *Duplex
	done     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
	started  bool
}

// NewReconnector creates a [Reconnector].
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		dial:        cfg.Dial,
		maxRetries:  maxRetries,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		onReconnect: cfg.OnReconnect,
		onGiveUp:    cfg.OnGiveUp,
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
}

// Connect performs the initial dial.
func (r *Reconnector) Connect(ctx context.Context) (*Duplex, error) {
	conn, err := r.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: initial connect: %w", err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return conn, nil
}

// Connection returns the current connection. It may be closed while a
// redial is in progress, or nil if none was ever established.
func (r *Reconnector) Connection() *Duplex {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Monitor starts watching the current connection in a background goroutine.
// It returns immediately; call it at most once.
func (r *Reconnector) Monitor(ctx context.Context) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	go func() {
		defer close(r.exited)
		r.monitorLoop(ctx)
	}()
}

// Stop ends monitoring and closes the current connection after sending the
// final messages. Safe to call multiple times.
func (r *Reconnector) Stop(ctx context.Context, final ...any) error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.exited
	}

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		return conn.Close(ctx, final...)
	}
	return nil
}

func (r *Reconnector) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		conn := r.Connection()
		var lost <-chan struct{}
		if conn != nil {
			lost = conn.Done()
		}

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-lost:
			if r.stopped() {
				return
			}
			if !r.attemptReconnect(ctx) {
				return
			}
		}
	}
}

// attemptReconnect redials with exponential backoff. It reports whether a
// new connection was installed.
func (r *Reconnector) attemptReconnect(ctx context.Context) bool {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if ctx.Err() != nil || r.stopped() {
			return false
		}

		slog.Info("attempting duplex reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
		)

		conn, err := r.dial(ctx)
		if err == nil {
			r.mu.Lock()
			if r.stopped() {
				r.mu.Unlock()
				_ = conn.Close(ctx)
				return false
			}
			r.conn = conn
			r.mu.Unlock()

			slog.Info("duplex reconnected", "url", conn.URL(), "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(conn)
			}
			return true
		}

		slog.Warn("duplex reconnection attempt failed", "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("duplex reconnection failed after max retries", "max_retries", r.maxRetries)
	if r.onGiveUp != nil {
		r.onGiveUp()
	}
	return false
}
