package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/huddle/internal/capture"
)

// Environment variables that override file settings.
const (
	EnvBackendURL  = "HUDDLE_BACKEND_URL"
	EnvLogLevel    = "HUDDLE_LOG_LEVEL"
	EnvPostgresDSN = "HUDDLE_POSTGRES_DSN"
)

// DefaultBackendURL is used when neither the file nor the environment names a
// backend.
const DefaultBackendURL = "http://localhost:8000"

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and validates the result. A missing file is not an
// error: the defaults and the environment are used instead.
//
// Variables from a .env file in the working directory are loaded first
// without replacing variables already set in the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: could not load .env file", "err", err)
	}

	if path == "" {
		return finish(&Config{})
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config: file not found, using defaults", "path", path)
		return finish(&Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv copies the HUDDLE_* overrides returned by lookup into cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBackendURL); ok && v != "" {
		cfg.Backend.URL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = LogLevel(v)
	}
	if v, ok := lookup(EnvPostgresDSN); ok && v != "" {
		cfg.Archive.PostgresDSN = v
	}
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Backend.URL, DefaultBackendURL)
	setDefault(&cfg.Backend.Timeout, 30*time.Second)
	setDefault(&cfg.Log.Level, LogInfo)

	setDefault(&cfg.Capture.Strategy, capture.ModeAuto)
	setDefault(&cfg.Capture.FlushInterval, time.Second)
	setDefault(&cfg.Capture.Bitrate, 64000)

	if cfg.Transport.PreferDuplex == nil {
		prefer := true
		cfg.Transport.PreferDuplex = &prefer
	}
	setDefault(&cfg.Transport.Retry.MaxAttempts, 3)
	setDefault(&cfg.Transport.Retry.Backoff, 200*time.Millisecond)
	setDefault(&cfg.Transport.Breaker.MaxFailures, 5)
	setDefault(&cfg.Transport.Breaker.ResetTimeout, 30*time.Second)
	setDefault(&cfg.Transport.Reconnect.MaxRetries, 10)
	setDefault(&cfg.Transport.Reconnect.Backoff, time.Second)
	setDefault(&cfg.Transport.Reconnect.MaxBackoff, 30*time.Second)

	setDefault(&cfg.Query.Mode, QueryDuplex)
	setDefault(&cfg.Query.Policy, PolicyReject)
	setDefault(&cfg.Query.Timeout, time.Minute)

	setDefault(&cfg.Observe.ServiceName, "huddle")
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Backend
	if u, err := url.Parse(cfg.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url %q must be an absolute http or https URL", cfg.Backend.URL))
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, fmt.Errorf("backend.timeout %s must not be negative", cfg.Backend.Timeout))
	}

	// Log
	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	// Capture
	if !cfg.Capture.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("capture.strategy %q is invalid; valid values: auto, native, manual", cfg.Capture.Strategy))
	}
	if cfg.Capture.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.flush_interval %s must not be negative", cfg.Capture.FlushInterval))
	}
	if cfg.Capture.Bitrate < 6000 || cfg.Capture.Bitrate > 510000 {
		errs = append(errs, fmt.Errorf("capture.bitrate %d is out of range [6000, 510000]", cfg.Capture.Bitrate))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must not be negative", cfg.Capture.FramesPerBuffer))
	}

	// Transport
	t := cfg.Transport
	if t.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("transport.retry.max_attempts %d must be at least 1", t.Retry.MaxAttempts))
	}
	if t.Breaker.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("transport.breaker.max_failures %d must be at least 1", t.Breaker.MaxFailures))
	}
	if t.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect.max_retries %d must not be negative", t.Reconnect.MaxRetries))
	}
	if t.Reconnect.MaxBackoff < t.Reconnect.Backoff {
		errs = append(errs, fmt.Errorf("transport.reconnect.max_backoff %s is shorter than backoff %s", t.Reconnect.MaxBackoff, t.Reconnect.Backoff))
	}
	if t.RedeliverUnacked && !t.DuplexPreferred() {
		slog.Warn("transport.redeliver_unacked has no effect when prefer_duplex is false")
	}

	// Query
	if !cfg.Query.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("query.mode %q is invalid; valid values: duplex, http", cfg.Query.Mode))
	}
	if !cfg.Query.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("query.policy %q is invalid; valid values: reject, queue, allow", cfg.Query.Policy))
	}
	if cfg.Query.Timeout < 0 {
		errs = append(errs, fmt.Errorf("query.timeout %s must not be negative", cfg.Query.Timeout))
	}

	return errors.Join(errs...)
}
