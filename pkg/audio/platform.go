// Package audio defines the capture-side audio abstractions and the sample
// utilities shared by the capture pipeline and the transport.
//
// The primary abstractions are:
//
//   - [Device] opens an exclusive capture [Stream] on a microphone.
//   - [Stream] delivers [Frame] values until it is closed.
//   - [Encoder] turns 16-bit PCM into compressed packets.
//
// Implementations live in adapter packages (audio/portaudio, audio/opus).
// The interfaces are intentionally narrow so that the capture pipeline can be
// driven by in-memory fakes in tests (see audio/mock).
//
// The package also provides the conversions every chunk passes through:
// [Resample] to the 24 kHz target rate, [Quantize] to int16 PCM, and
// [EncodeBase64] for the JSON wire format.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned (possibly wrapped) by [Device.Open] when
// the operating system refuses access to the microphone.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrDeviceUnavailable is returned (possibly wrapped) by [Device.Open] when no
// usable input device exists.
var ErrDeviceUnavailable = errors.New("audio: no input device available")

// Stream is an open microphone capture.
//
// The channel returned by Frames is closed after Close has been called or
// when the device stops delivering audio. Implementations must be safe for
// concurrent use and Close must be idempotent.
type Stream interface {
	// Frames returns the read-only channel of captured frames.
	Frames() <-chan Frame

	// SampleRate is the native rate of the device in Hz.
	SampleRate() int

	// Channels is the number of interleaved channels per frame.
	Channels() int

	// Close stops capturing and releases the device handle. Calling Close
	// more than once is a no-op that returns nil.
	Close() error
}

// Device is an audio input that can be opened for exclusive capture.
type Device interface {
	// Open acquires the microphone and starts capturing. ctx governs the
	// open attempt only; the returned stream stays live until closed.
	//
	// Returns an error wrapping [ErrPermissionDenied] or
	// [ErrDeviceUnavailable] when capture cannot start.
	Open(ctx context.Context) (Stream, error)
}

// Encoder compresses mono 16-bit PCM into codec packets.
//
// Encode may buffer samples internally until a full codec frame is available
// and returns every packet completed by the call. Flush pads and encodes any
// buffered remainder. Implementations are not required to be safe for
// concurrent use.
type Encoder interface {
	// Codec identifies the packets produced.
	Codec() Codec

	// SampleRate is the rate the encoder expects its input at.
	SampleRate() int

	// Encode consumes pcm and returns completed packets.
	Encode(pcm []int16) ([][]byte, error)

	// Flush encodes any buffered partial frame.
	Flush() ([][]byte, error)

	// Close releases encoder resources. Idempotent.
	Close() error
}

// EncoderFactory creates an [Encoder] for the given mono sample rate and
// target bitrate in bits per second.
type EncoderFactory func(sampleRate, bitrate int) (Encoder, error)
