// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Stream], and [audio.Encoder] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(48000, 1)
//	dev := &mock.Device{OpenResult: stream}
//	s, err := dev.Open(ctx)
//	stream.Push(audio.Frame{Samples: samples, SampleRate: 48000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/huddle/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream] fed by the test through
// [Stream.Push].
type Stream struct {
	mu sync.Mutex

	frames     chan audio.Frame
	sampleRate int
	channels   int
	closed     bool

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns a Stream that reports the given format. Its frame channel
// is buffered so tests can push ahead of the consumer.
func NewStream(sampleRate, channels int) *Stream {
	return &Stream{
		frames:     make(chan audio.Frame, 256),
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.Frame { return s.frames }

// SampleRate implements [audio.Stream].
func (s *Stream) SampleRate() int { return s.sampleRate }

// Channels implements [audio.Stream].
func (s *Stream) Channels() int { return s.channels }

// Push delivers f to the consumer. It reports false if the stream is closed.
func (s *Stream) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- f
	return true
}

// Close implements [audio.Stream]. The frame channel is closed on the first
// call only; every call is counted.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is the [audio.Stream] returned by Open.
	OpenResult audio.Stream

	// OpenError is the error returned by Open.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.Device]. Returns OpenResult / OpenError.
func (d *Device) Open(_ context.Context) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	return d.OpenResult, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// Encoder is a mock implementation of [audio.Encoder]. Every FrameSize input
// samples produce one packet whose bytes are the little-endian PCM of that
// frame, which keeps packet contents easy to assert on.
type Encoder struct {
	mu sync.Mutex

	// FrameSize is the number of samples per packet. Defaults to 480.
	FrameSize int

	// Rate is returned by SampleRate. Defaults to 24000.
	Rate int

	// EncodeError is returned by Encode when non-nil.
	EncodeError error

	pending []int16

	// Encoded records every sample passed to Encode, in order.
	Encoded []int16

	// CallCountEncode records how many times Encode was called.
	CallCountEncode int

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Codec implements [audio.Encoder]. Always [audio.CodecOpus].
func (e *Encoder) Codec() audio.Codec { return audio.CodecOpus }

// SampleRate implements [audio.Encoder].
func (e *Encoder) SampleRate() int {
	if e.Rate == 0 {
		return audio.TargetSampleRate
	}
	return e.Rate
}

func (e *Encoder) frameSize() int {
	if e.FrameSize <= 0 {
		return 480
	}
	return e.FrameSize
}

// Encode implements [audio.Encoder].
func (e *Encoder) Encode(pcm []int16) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountEncode++
	if e.EncodeError != nil {
		return nil, e.EncodeError
	}
	e.Encoded = append(e.Encoded, pcm...)
	e.pending = append(e.pending, pcm...)
	var packets [][]byte
	for len(e.pending) >= e.frameSize() {
		packets = append(packets, audio.Int16sToBytes(e.pending[:e.frameSize()]))
		e.pending = e.pending[e.frameSize():]
	}
	return packets, nil
}

// Flush implements [audio.Encoder]. The remainder is zero-padded to a full
// frame.
func (e *Encoder) Flush() ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountFlush++
	if len(e.pending) == 0 {
		return nil, nil
	}
	frame := make([]int16, e.frameSize())
	copy(frame, e.pending)
	e.pending = nil
	return [][]byte{audio.Int16sToBytes(frame)}, nil
}

// Close implements [audio.Encoder].
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountClose++
	return nil
}

// Counts returns a consistent snapshot of the call counters as
// (encode, flush, close).
func (e *Encoder) Counts() (encode, flush, closeCount int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CallCountEncode, e.CallCountFlush, e.CallCountClose
}
