// Package opus provides the native [audio.Encoder] used by the capture
// pipeline's encode path. It wraps libopus through gopus and emits one Opus
// packet per 20 ms of mono audio.
package opus

import (
	"errors"
	"fmt"
	"sync"

	"layeh.com/gopus"

	"github.com/MrWong99/huddle/pkg/audio"
)

const (
	// FrameDurationMs is the duration of a single Opus frame.
	FrameDurationMs = 20

	// DefaultBitrate is the target bitrate in bits per second.
	DefaultBitrate = 64000

	// maxPacketBytes bounds the size of one encoded packet.
	maxPacketBytes = 4000
)

// ErrClosed is returned by [Encoder.Encode] and [Encoder.Flush] after Close.
var ErrClosed = errors.New("opus: encoder closed")

var _ audio.Encoder = (*Encoder)(nil)

// frameEncoder encodes exactly one frame of PCM into one packet.
type frameEncoder func(pcm []int16) ([]byte, error)

// Encoder is a mono Opus encoder that accepts arbitrarily sized PCM slices
// and buffers them into fixed 20 ms frames.
type Encoder struct {
	sampleRate int
	frameSize  int
	encode     frameEncoder

	mu      sync.Mutex
	pending []int16
	closed  bool
}

// New creates a mono Opus encoder for sampleRate (8000, 12000, 16000, 24000
// or 48000 Hz) at the given bitrate. A bitrate <= 0 selects [DefaultBitrate].
func New(sampleRate, bitrate int) (*Encoder, error) {
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	enc, err := gopus.NewEncoder(sampleRate, audio.TargetChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	enc.SetBitrate(bitrate)

	frameSize := sampleRate * FrameDurationMs / 1000
	return newEncoder(sampleRate, frameSize, func(pcm []int16) ([]byte, error) {
		return enc.Encode(pcm, frameSize, maxPacketBytes)
	}), nil
}

// Factory adapts [New] to [audio.EncoderFactory].
func Factory(sampleRate, bitrate int) (audio.Encoder, error) {
	return New(sampleRate, bitrate)
}

func newEncoder(sampleRate, frameSize int, fn frameEncoder) *Encoder {
	return &Encoder{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		encode:     fn,
	}
}

// Codec implements [audio.Encoder].
func (e *Encoder) Codec() audio.Codec { return audio.CodecOpus }

// SampleRate implements [audio.Encoder].
func (e *Encoder) SampleRate() int { return e.sampleRate }

// Encode implements [audio.Encoder]. Samples that do not fill a whole frame
// stay buffered until the next call or [Encoder.Flush].
func (e *Encoder) Encode(pcm []int16) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	e.pending = append(e.pending, pcm...)
	var packets [][]byte
	for len(e.pending) >= e.frameSize {
		pkt, err := e.encode(e.pending[:e.frameSize])
		if err != nil {
			return packets, fmt.Errorf("opus: encode: %w", err)
		}
		packets = append(packets, pkt)
		e.pending = e.pending[e.frameSize:]
	}
	// Compact so the backing array does not grow without bound.
	e.pending = append(e.pending[:0:0], e.pending...)
	return packets, nil
}

// Flush implements [audio.Encoder]. A partial frame is zero-padded to the
// full frame size before encoding.
func (e *Encoder) Flush() ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if len(e.pending) == 0 {
		return nil, nil
	}

	frame := make([]int16, e.frameSize)
	copy(frame, e.pending)
	e.pending = nil

	pkt, err := e.encode(frame)
	if err != nil {
		return nil, fmt.Errorf("opus: flush: %w", err)
	}
	return [][]byte{pkt}, nil
}

// Close implements [audio.Encoder]. gopus keeps the libopus state in
// Go-managed memory, so Close only drops the buffered samples.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.pending = nil
	return nil
}
