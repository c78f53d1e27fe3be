package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/huddle/internal/resilience"
)

// Route names reported by [Router.Send].
const (
	RouteDuplex = "duplex"
	RouteHTTP   = "http"
)

// ChunkUploader delivers a chunk over request/response HTTP.
// [*HTTPClient] implements it.
type ChunkUploader interface {
	UploadChunk(ctx context.Context, ch Chunk) error
}

// route is one way of delivering a chunk.
type route interface {
	resilience.Availability
	send(ctx context.Context, ch Chunk) error
}

type duplexRoute struct{ r *Router }

func (d duplexRoute) Available() bool {
	dx := d.r.Duplex()
	return dx != nil && dx.Open()
}

func (d duplexRoute) send(ctx context.Context, ch Chunk) error {
	dx := d.r.Duplex()
	if dx == nil {
		return ErrClosed
	}
	if err := dx.Send(ctx, ch.Message()); err != nil {
		return err
	}
	if d.r.acks != nil {
		d.r.acks.Track(ch)
	}
	return nil
}

type httpRoute struct {
	r  *Router
	up ChunkUploader
}

func (h httpRoute) Available() bool { return h.up != nil }

func (h httpRoute) send(ctx context.Context, ch Chunk) error {
	if err := h.up.UploadChunk(ctx, ch); err != nil {
		return err
	}
	// A redelivery accepted over HTTP will never be acked on the duplex.
	if h.r.acks != nil {
		h.r.acks.Forget(ch)
	}
	return nil
}

// RouterConfig configures a [Router].
type RouterConfig struct {
	// Duplex is the initial duplex connection. May be nil.
	Duplex *Duplex

	// HTTP is the fallback route. May be nil when only the duplex is used.
	HTTP ChunkUploader

	// PreferDuplex tries the duplex before HTTP. When false every chunk is
	// uploaded over HTTP.
	PreferDuplex bool

	// Acks, when set, tracks chunks delivered over the duplex.
	Acks *AckTracker

	// Breaker tunes the per-route circuit breakers.
	Breaker resilience.CircuitBreakerConfig

	// OnFallback is called whenever a route is passed over.
	OnFallback func(route string, reason error)
}

// Router chooses a route for every chunk: the duplex while it is open, HTTP
// otherwise. Each route sits behind its own circuit breaker. Safe for
// concurrent use.
type Router struct {
	mu     sync.RWMutex
	duplex *Duplex

	acks  *AckTracker
	group *resilience.FallbackGroup[route]
}

// NewRouter creates a [Router].
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{duplex: cfg.Duplex, acks: cfg.Acks}
	fcfg := resilience.FallbackConfig{
		CircuitBreaker: cfg.Breaker,
		OnFallback:     cfg.OnFallback,
	}
	if cfg.PreferDuplex {
		r.group = resilience.NewFallbackGroup[route](duplexRoute{r}, RouteDuplex, fcfg)
		r.group.AddFallback(RouteHTTP, httpRoute{r, cfg.HTTP})
	} else {
		r.group = resilience.NewFallbackGroup[route](httpRoute{r, cfg.HTTP}, RouteHTTP, fcfg)
	}
	return r
}

// Duplex returns the current duplex connection, which may be nil or closed.
func (r *Router) Duplex() *Duplex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.duplex
}

// SetDuplex swaps in a new duplex connection, typically after a reconnect.
func (r *Router) SetDuplex(d *Duplex) {
	r.mu.Lock()
	r.duplex = d
	r.mu.Unlock()
	if b := r.group.Breaker(RouteDuplex); b != nil && d != nil {
		b.Reset()
	}
}

// Send delivers ch over the first usable route and returns that route's name.
// The error wraps [resilience.ErrAllFailed] when no route accepted the chunk.
func (r *Router) Send(ctx context.Context, ch Chunk) (string, error) {
	name, err := r.group.Execute(func(rt route) error {
		return rt.send(ctx, ch)
	})
	if err != nil && ctx.Err() != nil {
		return "", errors.Join(err, ctx.Err())
	}
	return name, err
}
