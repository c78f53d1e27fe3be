// Command huddle records meetings into a remote notes backend and answers
// questions about them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/huddle/internal/app"
	"github.com/MrWong99/huddle/internal/cli"
	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/output"
	"github.com/MrWong99/huddle/internal/version"
)

// shutdownTimeout bounds teardown after the command finished.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		output.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var teardown []func(context.Context) error
	deps := &cli.Dependencies{
		Out: os.Stdout,
		In:  os.Stdin,
		Setup: func(ctx context.Context, deps *cli.Dependencies) error {
			closers, err := setup(ctx, deps)
			teardown = closers
			return err
		},
	}

	err := cli.NewRootCmd(deps).ExecuteContext(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(teardown) - 1; i >= 0; i-- {
		if terr := teardown[i](shutdownCtx); terr != nil {
			slog.Warn("shutdown error", "err", terr)
		}
	}
	return err
}

// setup loads the configuration, installs the logger and telemetry, and
// builds the application. It returns teardown functions in start order.
func setup(ctx context.Context, deps *cli.Dependencies) ([]func(context.Context) error, error) {
	// ── Load configuration ────────────────────────────────────────────────────
	// A missing file is fine: defaults plus HUDDLE_* variables apply.
	cfg, err := config.Load(deps.ConfigPath)
	if err != nil {
		return nil, err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Log.Level))
	slog.Debug("huddle starting",
		"version", version.Version,
		"config", deps.ConfigPath,
		"backend", cfg.Backend.URL,
		"log_level", cfg.Log.Level,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observe.ServiceName,
		ServiceVersion: version.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	closers := []func(context.Context) error{shutdownOTel}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		return closers, err
	}
	closers = append(closers, application.Shutdown)

	deps.Config = cfg
	deps.App = application
	return closers, nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
