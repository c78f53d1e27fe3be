// Package portaudio implements [audio.Device] on top of the system's default
// PortAudio input device.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/huddle/pkg/audio"
)

// DefaultFramesPerBuffer is the number of frames read per callback-sized
// block. At 48 kHz this is roughly 85 ms of audio.
const DefaultFramesPerBuffer = 4096

var (
	_ audio.Device = (*Microphone)(nil)
	_ audio.Stream = (*stream)(nil)
)

// Config configures a [Microphone].
type Config struct {
	// SampleRate requests a capture rate in Hz. Zero uses the device's
	// default rate.
	SampleRate int

	// FramesPerBuffer is the block size read from the device. Defaults to
	// [DefaultFramesPerBuffer].
	FramesPerBuffer int
}

// Microphone opens the default PortAudio input device in mono.
type Microphone struct {
	cfg Config
}

// New returns a Microphone with the given configuration.
func New(cfg Config) *Microphone {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return &Microphone{cfg: cfg}
}

// Open implements [audio.Device]. Failures to open or start the stream wrap
// [audio.ErrPermissionDenied] when the host reports an access error and
// [audio.ErrDeviceUnavailable] otherwise.
func (m *Microphone) Open(_ context.Context) (audio.Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %v", audio.ErrDeviceUnavailable, err)
	}

	info, err := portaudio.DefaultInputDevice()
	if err != nil || info == nil || info.MaxInputChannels < 1 {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: default input: %w", audio.ErrDeviceUnavailable)
	}

	rate := m.cfg.SampleRate
	if rate <= 0 {
		rate = int(info.DefaultSampleRate)
	}

	buf := make([]float32, m.cfg.FramesPerBuffer)
	ps, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open %q: %w: %v", info.Name, classifyOpenError(err), err)
	}
	if err := ps.Start(); err != nil {
		_ = ps.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start %q: %w: %v", info.Name, classifyOpenError(err), err)
	}

	s := &stream{
		ps:         ps,
		buf:        buf,
		sampleRate: rate,
		frames:     make(chan audio.Frame, 16),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go s.readLoop()

	slog.Info("microphone opened",
		"device", info.Name,
		"format", audio.FormatString(rate, 1),
		"frames_per_buffer", len(buf),
	)
	return s, nil
}

// permissionMarkers are fragments of host error text that indicate the OS
// refused microphone access. PortAudio surfaces these only as host error
// strings (ALSA EACCES, CoreAudio and WASAPI access errors).
var permissionMarkers = []string{
	"permission denied",
	"not permitted",
	"access denied",
	"access is denied",
	"unauthorized",
	"eacces",
}

// classifyOpenError maps a PortAudio open or start failure onto the sentinel
// the capture pipeline reports.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, m := range permissionMarkers {
		if strings.Contains(msg, m) {
			return audio.ErrPermissionDenied
		}
	}
	return audio.ErrDeviceUnavailable
}

// stream is a running PortAudio capture.
type stream struct {
	ps         *portaudio.Stream
	buf        []float32
	sampleRate int

	frames     chan audio.Frame
	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }
func (s *stream) SampleRate() int            { return s.sampleRate }
func (s *stream) Channels() int              { return 1 }

// readLoop performs blocking reads until Close is requested. PortAudio
// streams must not be read and stopped concurrently, so Close waits for this
// goroutine to exit before touching the stream.
func (s *stream) readLoop() {
	defer close(s.readerDone)
	defer close(s.frames)

	start := time.Now()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.ps.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			slog.Warn("microphone read failed", "err", err)
			return
		}

		samples := make([]float32, len(s.buf))
		copy(samples, s.buf)
		frame := audio.Frame{
			Samples:    samples,
			SampleRate: s.sampleRate,
			Channels:   1,
			Timestamp:  time.Since(start),
		}

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// Close implements [audio.Stream].
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.readerDone
		s.closeErr = errors.Join(s.ps.Stop(), s.ps.Close(), portaudio.Terminate())
	})
	return s.closeErr
}
