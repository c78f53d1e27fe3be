// Package capture turns a live microphone [audio.Stream] into a sequence of
// transport-ready [audio.Payload] values.
//
// A [Pipeline] owns the microphone for the duration of one recording and runs
// exactly one [Strategy]:
//
//   - [KindNativeEncode] pushes resampled PCM through an [audio.Encoder] and
//     emits one Opus payload per encoded packet.
//   - [KindManualBuffer] accumulates raw samples and, on a fixed interval,
//     resamples and quantizes them into one PCM payload that asks the backend
//     to transcode to Opus.
//
// The strategy is chosen once per start by [SelectKind]. If the native encoder
// cannot be created the pipeline falls back to manual buffering.
package capture

import (
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Kind tags the capture strategy variant.
type Kind int

const (
	// KindNativeEncode encodes on the client with a native encoder.
	KindNativeEncode Kind = iota

	// KindManualBuffer buffers raw samples and sends PCM.
	KindManualBuffer
)

// String returns the human-readable name of the strategy kind.
func (k Kind) String() string {
	switch k {
	case KindNativeEncode:
		return "native"
	case KindManualBuffer:
		return "manual"
	default:
		return "unknown"
	}
}

// Mode is the configured strategy preference.
type Mode string

const (
	// ModeAuto prefers native encoding when an encoder is available.
	ModeAuto Mode = "auto"

	// ModeNative requires native encoding but still falls back to manual
	// buffering if the encoder fails to initialise.
	ModeNative Mode = "native"

	// ModeManual always uses manual buffering.
	ModeManual Mode = "manual"
)

// IsValid reports whether m is a recognised mode. The empty mode is treated
// as [ModeAuto].
func (m Mode) IsValid() bool {
	switch m {
	case "", ModeAuto, ModeNative, ModeManual:
		return true
	}
	return false
}

// Strategy is the common interface of both capture variants.
type Strategy interface {
	// Kind reports which variant this is.
	Kind() Kind

	// Start begins consuming frames from stream in a background goroutine
	// and writes payloads to out. It must be called at most once.
	Start(stream audio.Stream, out chan<- audio.Payload)

	// Stop stops frame consumption, writes any buffered audio to out, and
	// releases strategy resources. It returns only after the final payload
	// has been written; out is not written to afterwards. Idempotent.
	Stop()

	// Dropped reports how many payloads were discarded because out was full.
	Dropped() uint64
}

// dropCounter discards payloads when the consumer falls behind. While
// capturing, a full channel must not stall the microphone; only the final
// flush on stop waits for room.
type dropCounter struct {
	n atomic.Uint64
}

// offer queues p without blocking and reports whether it was queued.
func (d *dropCounter) offer(out chan<- audio.Payload, p audio.Payload) bool {
	select {
	case out <- p:
		return true
	default:
	}
	if d.n.Add(1) == 1 {
		slog.Warn("capture: payload queue full, dropping audio")
	}
	return false
}

// Dropped implements [Strategy].
func (d *dropCounter) Dropped() uint64 { return d.n.Load() }

// SelectKind decides which strategy a pipeline should try first given the
// configured mode and whether a native encoder factory is available.
func SelectKind(mode Mode, factory audio.EncoderFactory) Kind {
	if mode == ModeManual || factory == nil {
		return KindManualBuffer
	}
	return KindNativeEncode
}

// pcmPayload builds the manual-buffer payload for samples captured at
// srcRate.
func pcmPayload(samples []float32, srcRate int) audio.Payload {
	resampled := audio.Resample([][]float32{samples}, srcRate)
	return audio.Payload{
		Codec:       audio.CodecPCM16,
		SampleRate:  audio.TargetSampleRate,
		Channels:    audio.TargetChannels,
		Data:        audio.Int16sToBytes(audio.Quantize(resampled)),
		TranscodeTo: audio.CodecOpus,
	}
}
