package audio

import (
	"fmt"
	"math"
)

// Resample concatenates buffers captured at srcRate and converts the result
// to [TargetSampleRate]. See [ResampleTo].
func Resample(buffers [][]float32, srcRate int) []float32 {
	return ResampleTo(buffers, srcRate, TargetSampleRate)
}

// ResampleTo concatenates buffers and resamples the mono result from srcRate
// to dstRate using linear interpolation. The output holds
// round(len(input) * dstRate / srcRate) samples. When the rates match, or
// either rate is not positive, the concatenation is returned unchanged.
func ResampleTo(buffers [][]float32, srcRate, dstRate int) []float32 {
	in := concat(buffers)
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(in) == 0 {
		return in
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(math.Round(float64(len(in)) / ratio))
	out := make([]float32, outLen)
	last := len(in) - 1

	for i := range outLen {
		pos := float64(i) * ratio
		lo := int(pos)
		if lo > last {
			lo = last
		}
		hi := lo + 1
		if hi > last {
			hi = last
		}
		frac := float32(pos - float64(lo))
		out[i] = in[lo] + (in[hi]-in[lo])*frac
	}
	return out
}

// Resampler converts a mono stream delivered in arbitrary blocks from one
// rate to another. Unlike [ResampleTo], interpolation runs across block
// boundaries and output positions are derived from the running sample count,
// so a stream fed block by block yields what one whole-buffer call would,
// within one output sample. A Resampler is not safe for concurrent use.
type Resampler struct {
	srcRate, dstRate int
	ratio            float64

	in       int64 // input samples consumed
	out      int64 // output samples produced
	prev     float32
	havePrev bool
}

// NewResampler returns a Resampler from srcRate to dstRate. Non-positive or
// equal rates pass samples through unchanged.
func NewResampler(srcRate, dstRate int) *Resampler {
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate > 0 && dstRate > 0 {
		r.ratio = float64(srcRate) / float64(dstRate)
	}
	return r
}

func (r *Resampler) passthrough() bool {
	return r.ratio == 0 || r.srcRate == r.dstRate
}

// Process consumes block and returns every output sample whose position lies
// before the block's last input sample. The last sample is held back so the
// next block can interpolate against it.
func (r *Resampler) Process(block []float32) []float32 {
	if r.passthrough() || len(block) == 0 {
		r.in += int64(len(block))
		r.out += int64(len(block))
		return block
	}

	buf := block
	start := r.in
	if r.havePrev {
		buf = make([]float32, 0, len(block)+1)
		buf = append(buf, r.prev)
		buf = append(buf, block...)
		start--
	}
	r.in += int64(len(block))

	var out []float32
	last := len(buf) - 1
	for {
		pos := float64(r.out)*r.ratio - float64(start)
		lo := int(pos)
		if lo >= last {
			break
		}
		frac := float32(pos - float64(lo))
		out = append(out, buf[lo]+(buf[lo+1]-buf[lo])*frac)
		r.out++
	}
	r.prev = buf[last]
	r.havePrev = true
	return out
}

// Flush returns the samples still owed for the input consumed so far, so the
// total output reaches round(in * dstRate / srcRate). Positions past the
// last input sample repeat it.
func (r *Resampler) Flush() []float32 {
	if r.passthrough() || !r.havePrev {
		return nil
	}
	want := int64(math.Round(float64(r.in) / r.ratio))
	var out []float32
	for ; r.out < want; r.out++ {
		out = append(out, r.prev)
	}
	return out
}

// DownmixMono averages interleaved channels into a single channel. Mono input
// is returned unchanged.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func concat(buffers [][]float32) []float32 {
	switch len(buffers) {
	case 0:
		return nil
	case 1:
		return buffers[0]
	}
	n := 0
	for _, b := range buffers {
		n += len(b)
	}
	out := make([]float32, 0, n)
	for _, b := range buffers {
		out = append(out, b...)
	}
	return out
}

// FormatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func FormatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
