package audio

import "time"

// Target stream parameters expected by the meeting backend.
const (
	// TargetSampleRate is the rate every outbound chunk is normalised to.
	TargetSampleRate = 24000

	// TargetChannels is the channel count of every outbound chunk.
	TargetChannels = 1
)

// Codec identifies how the bytes of a [Payload] are encoded.
type Codec string

const (
	// CodecOpus marks raw Opus packets.
	CodecOpus Codec = "opus"

	// CodecPCM16 marks signed 16-bit little-endian PCM.
	CodecPCM16 Codec = "pcm_s16le"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecOpus || c == CodecPCM16
}

// Frame is a single block of captured audio as delivered by a [Stream].
// Samples are normalised floats in [-1, 1], interleaved when Channels > 1.
type Frame struct {
	// Samples holds the captured audio.
	Samples []float32

	// SampleRate in Hz of the capturing device (e.g., 44100 or 48000).
	SampleRate int

	// Channels is the number of interleaved channels in Samples.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Payload is one unit of encoded audio produced by the capture pipeline.
// It carries no sequence number; the session assigns one when the payload
// is accepted for transport.
type Payload struct {
	// Codec describes Data.
	Codec Codec

	// SampleRate of the encoded audio in Hz.
	SampleRate int

	// Channels of the encoded audio. Always 1.
	Channels int

	// Data holds the encoded bytes.
	Data []byte

	// TranscodeTo, when set, asks the backend to transcode Data into the
	// given codec on arrival. Only PCM payloads carry it.
	TranscodeTo Codec
}
