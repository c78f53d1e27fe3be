// Package app wires the huddle subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the admin endpoints until its context ends, and
// Shutdown tears everything down in order. Recording and questions go
// through the [Orchestrator] returned by [App.Orchestrator].
//
// For testing, inject doubles via functional options (WithDevice,
// WithArchive, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/health"
	"github.com/MrWong99/huddle/internal/meeting"
	"github.com/MrWong99/huddle/internal/meeting/postgres"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/transport"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/audio/opus"
	"github.com/MrWong99/huddle/pkg/audio/portaudio"
)

// adminShutdownTimeout bounds the graceful stop of the admin server.
const adminShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	device   audio.Device
	encoders audio.EncoderFactory
	archive  meeting.Store
	client   *http.Client
	metrics  *observe.Metrics
	tick     <-chan time.Time

	backend *transport.HTTPClient
	orch    *Orchestrator
	health  *health.Handler

	// archivePinger is set when the archive lives in a database.
	archivePinger health.Pinger

	// closers are called in order during Shutdown.
	closers []func() error

	encodersSet bool
	stopOnce    sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects a microphone instead of opening the PortAudio default
// input device.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithEncoders injects the native encoder factory. A nil factory forces
// manual buffering.
func WithEncoders(f audio.EncoderFactory) Option {
	return func(a *App) {
		a.encoders = f
		a.encodersSet = true
	}
}

// WithArchive injects a meeting store instead of creating one from config.
func WithArchive(s meeting.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithHTTPClient sets the base *http.Client for backend requests. Its
// Timeout applies to plain requests only; websocket handshakes use a copy
// without a timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.client = c }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTick drives manual capture flushes from ch instead of a ticker.
func WithTick(ch <-chan time.Time) Option {
	return func(a *App) { a.tick = ch }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated (see [config.Load]).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audio ─────────────────────────────────────────────────────────
	a.initAudio()

	// ── 2. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 3. Backend clients ───────────────────────────────────────────────
	base := a.client
	if base == nil {
		base = &http.Client{Timeout: cfg.Backend.Timeout}
	}
	a.backend = transport.NewHTTPClient(cfg.Backend.URL,
		transport.WithHTTPClient(observe.HTTPClient(base)),
	)
	dial := observe.HTTPClient(base)
	dial.Timeout = 0

	// ── 4. Orchestrator ──────────────────────────────────────────────────
	a.orch = NewOrchestrator(OrchestratorConfig{
		Config:     cfg,
		HTTP:       a.backend,
		DialClient: dial,
		Device:     a.device,
		Encoders:   a.encoders,
		Tick:       a.tick,
		Archive:    a.archive,
		Metrics:    a.metrics,
	})

	// ── 5. Readiness ─────────────────────────────────────────────────────
	a.health = health.New(health.Backend(a.backend))
	if a.archivePinger != nil {
		a.health.Add(health.Archive(a.archivePinger))
	}

	slog.Info("app initialised",
		"backend", cfg.Backend.URL,
		"capture", cfg.Capture.Strategy,
		"prefer_duplex", cfg.Transport.DuplexPreferred(),
		"query_mode", cfg.Query.Mode,
		"archive", archiveKind(a.archivePinger),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initAudio sets up the microphone and the native encoder factory.
func (a *App) initAudio() {
	if a.device == nil {
		a.device = portaudio.New(portaudio.Config{
			SampleRate:      a.cfg.Capture.SampleRate,
			FramesPerBuffer: a.cfg.Capture.FramesPerBuffer,
		})
	}
	if !a.encodersSet && a.cfg.Capture.Strategy != capture.ModeManual {
		a.encoders = opus.Factory
	}
}

// initArchive opens the PostgreSQL archive when a DSN is configured and
// falls back to an in-memory store otherwise.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil {
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		a.archive = meeting.NewMemoryStore()
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.archive = store
	a.archivePinger = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func archiveKind(p health.Pinger) string {
	if p != nil {
		return "postgres"
	}
	return "memory"
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the session and query orchestrator.
func (a *App) Orchestrator() *Orchestrator { return a.orch }

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config { return a.cfg }

// AdminHandler returns the admin HTTP handler: /healthz, /readyz and
// /metrics wrapped by the tracing middleware.
func (a *App) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	return observe.Middleware(a.metrics)(mux)
}

// Doctor runs every readiness check, including the microphone, and returns
// the combined report.
func (a *App) Doctor(ctx context.Context) health.Report {
	checkers := []health.Checker{
		health.Backend(a.backend),
		health.Microphone(a.device),
	}
	if a.archivePinger != nil {
		checkers = append(checkers, health.Archive(a.archivePinger))
	}
	return health.Run(ctx, checkers...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the admin endpoints on observe.listen_addr (when set) and
// blocks until ctx is cancelled. It returns ctx's error on a normal stop.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Observe.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.AdminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("admin server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown finishes any active session and then tears down the remaining
// subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.orch.Close(ctx); err != nil {
			slog.Warn("orchestrator close error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
