package session

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/internal/transport"
	"github.com/MrWong99/huddle/pkg/audio"
)

// ErrStreamerStarted is returned by [Streamer.Run] when called twice.
var ErrStreamerStarted = errors.New("session: streamer already started")

// Sender delivers one chunk and reports the route that accepted it.
// [*transport.Router] implements it.
type Sender interface {
	Send(ctx context.Context, ch transport.Chunk) (string, error)
}

// RetryConfig controls retransmission of chunks that no route accepted.
type RetryConfig struct {
	// MaxAttempts is the total number of sends per chunk, including the
	// first. Default: 3.
	MaxAttempts int

	// Backoff is the delay before the first retry. It doubles on each
	// further retry. Default: 200ms.
	Backoff time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
}

// StreamerConfig configures a [Streamer].
type StreamerConfig struct {
	Session *Session
	Sender  Sender
	Retry   RetryConfig

	// Acks, when set, receives acknowledgements from [Streamer.Attach] and
	// is the source of chunks for [Streamer.Redeliver].
	Acks *transport.AckTracker

	// Metrics receives per-chunk measurements. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Stats summarises a streamer's deliveries.
type Stats struct {
	// Delivered counts chunks accepted per route.
	Delivered map[string]uint64

	// Retries counts retransmissions, including redeliveries.
	Retries uint64

	// Dropped counts payloads that exhausted every attempt.
	Dropped uint64
}

// Streamer is the single goroutine that numbers and delivers the audio of
// one [Session].
//
// A chunk's index is consumed only once a route accepts it. A payload that
// exhausts its attempts is dropped and the next payload reuses the index, so
// the indices the backend sees are contiguous.
type Streamer struct {
	sess    *Session
	sender  Sender
	retry   RetryConfig
	acks    *transport.AckTracker
	metrics *observe.Metrics

	redeliver chan struct{}
	done      chan struct{}

	startOnce sync.Once

	mu    sync.Mutex
	stats Stats
}

// NewStreamer creates a [Streamer]. Call [Streamer.Run] to start it.
func NewStreamer(cfg StreamerConfig) *Streamer {
	cfg.Retry.applyDefaults()
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Streamer{
		sess:      cfg.Session,
		sender:    cfg.Sender,
		retry:     cfg.Retry,
		acks:      cfg.Acks,
		metrics:   cfg.Metrics,
		redeliver: make(chan struct{}, 1),
		done:      make(chan struct{}),
		stats:     Stats{Delivered: make(map[string]uint64)},
	}
}

// Run starts delivering payloads in a new goroutine. The goroutine exits once
// payloads is closed and drained, or when ctx is cancelled.
func (s *Streamer) Run(ctx context.Context, payloads <-chan audio.Payload) error {
	err := ErrStreamerStarted
	s.startOnce.Do(func() {
		err = nil
		go s.loop(ctx, payloads)
	})
	return err
}

// Wait blocks until the streamer goroutine has exited or ctx is done. A
// streamer that was never started returns immediately.
func (s *Streamer) Wait(ctx context.Context) error {
	s.startOnce.Do(func() { close(s.done) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Redeliver asks the streamer to resend every unacknowledged chunk as a
// replay, typically after the duplex reconnected. Requests made while one is
// pending are coalesced. It is a no-op without an ack tracker.
func (s *Streamer) Redeliver() {
	if s.acks == nil {
		return
	}
	select {
	case s.redeliver <- struct{}{}:
	default:
	}
}

// Attach consumes events from a duplex connection until the channel closes.
// Acknowledgements clear the ack tracker; error events are logged.
func (s *Streamer) Attach(events <-chan transport.Event) {
	go func() {
		for ev := range events {
			switch ev.Type {
			case transport.EventAck:
				if s.acks != nil {
					s.acks.Ack(ev)
				}
			case transport.EventError:
				slog.Warn("session: backend reported an error",
					"session_id", s.sess.ID(),
					"detail", ev.Detail,
				)
			default:
				slog.Debug("session: ignoring event on audio connection",
					"session_id", s.sess.ID(),
					"type", ev.Type,
				)
			}
		}
	}()
}

// Stats returns a snapshot of delivery statistics.
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Delivered = maps.Clone(s.stats.Delivered)
	return out
}

func (s *Streamer) loop(ctx context.Context, payloads <-chan audio.Payload) {
	defer close(s.done)
	for {
		select {
		case p, ok := <-payloads:
			if !ok {
				return
			}
			if s.deliver(ctx, s.sess.seal(p)) {
				s.sess.commit()
			}
		case <-s.redeliver:
			s.resendPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Streamer) resendPending(ctx context.Context) {
	pending := s.acks.Pending()
	if len(pending) == 0 {
		return
	}
	slog.Info("session: redelivering unacknowledged chunks",
		"session_id", s.sess.ID(),
		"count", len(pending),
	)
	for _, ch := range pending {
		s.countRetry(ctx)
		s.deliver(ctx, ch.AsReplay())
	}
}

// deliver sends ch with retries and reports whether a route accepted it.
func (s *Streamer) deliver(ctx context.Context, ch transport.Chunk) bool {
	start := time.Now()
	backoff := s.retry.Backoff

	var (
		route string
		err   error
	)
attempts:
	for attempt := 1; ; attempt++ {
		route, err = s.sender.Send(ctx, ch)
		if err == nil {
			break
		}
		slog.Warn("session: chunk send failed",
			"session_id", ch.SessionID,
			"chunk_index", ch.Index,
			"attempt", attempt,
			"err", err,
		)
		// With every route unavailable or behind an open breaker, waiting
		// only backs up capture.
		if attempt >= s.retry.MaxAttempts || ctx.Err() != nil || errors.Is(err, resilience.ErrNoneTried) {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
			break attempts
		}
		backoff *= 2
		ch = ch.AsReplay()
		s.countRetry(ctx)
	}

	s.metrics.RecordChunk(ctx, route, len(ch.Payload.Data), time.Since(start), err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Dropped++
		slog.Error("session: chunk dropped",
			"session_id", ch.SessionID,
			"chunk_index", ch.Index,
			"err", err,
		)
		return false
	}
	s.stats.Delivered[route]++
	slog.Debug("session: chunk delivered",
		"session_id", ch.SessionID,
		"chunk_index", ch.Index,
		"route", route,
		"replay", ch.Replay,
	)
	return true
}

func (s *Streamer) countRetry(ctx context.Context) {
	s.metrics.ChunkRetries.Add(ctx, 1)
	s.mu.Lock()
	s.stats.Retries++
	s.mu.Unlock()
}
