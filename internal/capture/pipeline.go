package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/audio/opus"
	"github.com/MrWong99/huddle/pkg/audio/wav"
)

// ErrBusy is returned by [Pipeline.Start] when the pipeline is not idle.
var ErrBusy = errors.New("capture: pipeline is already running")

// payloadBuffer is the capacity of the outbound payload channel. Capture
// never waits on the network: once a slow consumer fills this buffer,
// further payloads are dropped and counted until it catches up.
const payloadBuffer = 64

// State is the lifecycle state of a [Pipeline].
type State int

const (
	// StateIdle means no microphone is held.
	StateIdle State = iota

	// StateCapturing means frames are being consumed and payloads produced.
	StateCapturing

	// StateDraining means a stop is in progress and the final flush is
	// being written.
	StateDraining
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Config configures a [Pipeline].
type Config struct {
	// Device is the microphone to capture from. Required.
	Device audio.Device

	// Encoders creates native encoders. Nil disables the native strategy.
	Encoders audio.EncoderFactory

	// Mode selects the strategy preference. Default: [ModeAuto].
	Mode Mode

	// Bitrate is the native encoder bitrate. Default: 64000.
	Bitrate int

	// FlushInterval is the manual strategy flush period. Default: 1s.
	FlushInterval time.Duration

	// Tick, when non-nil, drives manual flushes instead of a wall-clock
	// ticker.
	Tick <-chan time.Time

	// RecordPath, when set, keeps a local WAV copy of the raw capture.
	RecordPath string
}

// Pipeline owns the microphone for one recording at a time and runs the
// selected [Strategy]. All methods are safe for concurrent use.
type Pipeline struct {
	cfg Config

	mu       sync.Mutex
	state    State
	stream   audio.Stream
	strategy Strategy
	out      chan audio.Payload

	// dropped totals payloads discarded by strategies that have stopped.
	dropped uint64
}

// New creates an idle Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = opus.DefaultBitrate
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &Pipeline{cfg: cfg}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Kind returns the running strategy's kind. The second result is false when
// the pipeline is idle.
func (p *Pipeline) Kind() (Kind, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.strategy == nil {
		return 0, false
	}
	return p.strategy.Kind(), true
}

// Buffered returns the number of samples held by a running manual strategy,
// or zero otherwise.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.strategy.(*Manual); ok {
		return m.Buffered()
	}
	return 0
}

// Dropped returns how many payloads were discarded because the consumer
// fell behind, across every recording this pipeline ran.
func (p *Pipeline) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.dropped
	if p.strategy != nil {
		n += p.strategy.Dropped()
	}
	return n
}

// Start opens the microphone and begins producing payloads on the returned
// channel, which is closed by [Pipeline.Stop] after the final flush.
//
// If the device cannot be opened, Start returns the (wrapped) device error
// and the pipeline stays idle. A native encoder that fails to initialise is
// not an error: the pipeline logs it and buffers manually instead.
func (p *Pipeline) Start(ctx context.Context) (<-chan audio.Payload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return nil, ErrBusy
	}
	if p.cfg.Device == nil {
		return nil, fmt.Errorf("capture: open microphone: %w", audio.ErrDeviceUnavailable)
	}

	stream, err := p.cfg.Device.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: open microphone: %w", err)
	}

	if p.cfg.RecordPath != "" {
		rec, err := wav.Create(p.cfg.RecordPath, stream.SampleRate(), stream.Channels())
		if err != nil {
			slog.Warn("capture: local recording disabled", "path", p.cfg.RecordPath, "err", err)
		} else {
			stream = wav.Tee(stream, rec)
		}
	}

	strategy := p.newStrategy()
	out := make(chan audio.Payload, payloadBuffer)
	strategy.Start(stream, out)

	p.stream = stream
	p.strategy = strategy
	p.out = out
	p.state = StateCapturing

	slog.Info("capture started",
		"strategy", strategy.Kind(),
		"device_format", audio.FormatString(stream.SampleRate(), stream.Channels()),
	)
	return out, nil
}

// newStrategy tries the preferred variant and falls back to manual
// buffering when the native encoder cannot be created.
func (p *Pipeline) newStrategy() Strategy {
	if SelectKind(p.cfg.Mode, p.cfg.Encoders) == KindNativeEncode {
		enc, err := p.cfg.Encoders(audio.TargetSampleRate, p.cfg.Bitrate)
		if err == nil {
			return NewNative(enc)
		}
		slog.Warn("capture: native encoder unavailable, falling back to manual buffering", "err", err)
	}
	return NewManual(p.cfg.FlushInterval, p.cfg.Tick)
}

// Stop synchronously ends the recording: frame consumption stops, buffered
// audio is flushed to the payload channel, the channel is closed, and the
// microphone is released. Stop on an idle pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != StateCapturing {
		p.mu.Unlock()
		return nil
	}
	p.state = StateDraining
	strategy, stream, out := p.strategy, p.stream, p.out
	p.mu.Unlock()

	strategy.Stop()
	close(out)
	err := stream.Close()

	dropped := strategy.Dropped()
	p.mu.Lock()
	p.dropped += dropped
	p.stream = nil
	p.strategy = nil
	p.out = nil
	p.state = StateIdle
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("capture: release microphone: %w", err)
	}
	slog.Info("capture stopped", "dropped_payloads", dropped)
	return nil
}
