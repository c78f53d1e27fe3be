// Package config provides the configuration schema and loader for huddle.
package config

import (
	"time"

	"github.com/MrWong99/huddle/internal/capture"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// QueryMode selects how questions reach the backend.
type QueryMode string

const (
	// QueryDuplex streams the answer over the realtime connection and falls
	// back to HTTP when the connection cannot be used.
	QueryDuplex QueryMode = "duplex"

	// QueryHTTP sends every question as a single HTTP request.
	QueryHTTP QueryMode = "http"
)

// IsValid reports whether m is a recognised query mode.
func (m QueryMode) IsValid() bool {
	return m == QueryDuplex || m == QueryHTTP
}

// QueryPolicy decides what happens to a question submitted while an answer
// is still pending.
type QueryPolicy string

const (
	// PolicyReject refuses the new question.
	PolicyReject QueryPolicy = "reject"

	// PolicyQueue holds the new question until the pending answer is done.
	PolicyQueue QueryPolicy = "queue"

	// PolicyAllow sends the new question immediately.
	PolicyAllow QueryPolicy = "allow"
)

// IsValid reports whether p is a recognised policy.
func (p QueryPolicy) IsValid() bool {
	switch p {
	case PolicyReject, PolicyQueue, PolicyAllow:
		return true
	}
	return false
}

// Config is the root configuration structure for huddle.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Log       LogConfig       `yaml:"log"`
	Capture   CaptureConfig   `yaml:"capture"`
	Transport TransportConfig `yaml:"transport"`
	Query     QueryConfig     `yaml:"query"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// BackendConfig locates the meeting backend.
type BackendConfig struct {
	// URL is the http(s) base URL of the backend. The websocket endpoints
	// are derived from it. Overridden by HUDDLE_BACKEND_URL.
	URL string `yaml:"url"`

	// Timeout bounds each HTTP request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is the minimum level logged. Default: info. Overridden by
	// HUDDLE_LOG_LEVEL.
	Level LogLevel `yaml:"level"`
}

// CaptureConfig controls the microphone pipeline.
type CaptureConfig struct {
	// Strategy is auto, native or manual. Default: auto.
	Strategy capture.Mode `yaml:"strategy"`

	// FlushInterval is how often manual buffering emits a chunk. Default: 1s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Bitrate of the native Opus encoder. Default: 64000.
	Bitrate int `yaml:"bitrate"`

	// FramesPerBuffer is the device read block size. Zero uses the device
	// driver default.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// SampleRate requests a device capture rate. Zero uses the device's
	// default rate.
	SampleRate int `yaml:"sample_rate"`

	// RecordWAV, when set, keeps a local WAV copy of the raw capture at
	// this path.
	RecordWAV string `yaml:"record_wav"`
}

// TransportConfig controls chunk delivery.
type TransportConfig struct {
	// PreferDuplex sends chunks over the websocket while it is open and
	// uses HTTP only as fallback. Default: true.
	PreferDuplex *bool `yaml:"prefer_duplex"`

	Retry RetryConfig `yaml:"retry"`

	// RedeliverUnacked resends chunks the backend has not acknowledged
	// after the websocket reconnects.
	RedeliverUnacked bool `yaml:"redeliver_unacked"`

	Breaker   BreakerConfig   `yaml:"breaker"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// DuplexPreferred reports the effective prefer_duplex setting.
func (t TransportConfig) DuplexPreferred() bool {
	return t.PreferDuplex == nil || *t.PreferDuplex
}

// RetryConfig controls per-chunk retransmission.
type RetryConfig struct {
	// MaxAttempts per chunk including the first send. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff before the first retry; doubles afterwards. Default: 200ms.
	Backoff time.Duration `yaml:"backoff"`
}

// BreakerConfig tunes the per-route circuit breakers.
type BreakerConfig struct {
	// MaxFailures before a route is skipped. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout before a skipped route is tried again. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ReconnectConfig controls websocket redialing after a remote closure.
type ReconnectConfig struct {
	// MaxRetries before giving up. Default: 10.
	MaxRetries int `yaml:"max_retries"`

	// Backoff before the first redial; doubles up to MaxBackoff.
	// Defaults: 1s and 30s.
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// QueryConfig controls questions about past meetings.
type QueryConfig struct {
	// Mode is duplex or http. Default: duplex.
	Mode QueryMode `yaml:"mode"`

	// Policy is reject, queue or allow. Default: reject.
	Policy QueryPolicy `yaml:"policy"`

	// Timeout bounds how long a streamed answer may take to finish before
	// it is recorded as an error and the realtime connection is dropped.
	// Default: 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// ArchiveConfig selects where finalized meeting notes are kept.
type ArchiveConfig struct {
	// PostgresDSN stores notes in PostgreSQL. When empty notes are kept in
	// memory for the life of the process. Overridden by HUDDLE_POSTGRES_DSN.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ObserveConfig controls the admin server and telemetry.
type ObserveConfig struct {
	// ListenAddr serves /healthz, /readyz and /metrics. Empty disables the
	// admin server.
	ListenAddr string `yaml:"listen_addr"`

	// ServiceName reported in telemetry. Default: huddle.
	ServiceName string `yaml:"service_name"`
}
