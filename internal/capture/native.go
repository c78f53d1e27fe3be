package capture

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/huddle/pkg/audio"
)

var _ Strategy = (*Native)(nil)

// Native is the native-encode capture strategy. Device frames are resampled
// to the encoder's rate, quantized, and encoded; each packet becomes one
// payload.
type Native struct {
	enc audio.Encoder

	dropCounter

	// rs is owned by the run goroutine.
	rs     *audio.Resampler
	rsRate int

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	started bool
}

// NewNative returns a native strategy that owns enc. The encoder is closed by
// [Native.Stop].
func NewNative(enc audio.Encoder) *Native {
	return &Native{
		enc:  enc,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Kind implements [Strategy].
func (n *Native) Kind() Kind { return KindNativeEncode }

// Start implements [Strategy].
func (n *Native) Start(stream audio.Stream, out chan<- audio.Payload) {
	n.mu.Lock()
	n.started = true
	n.mu.Unlock()

	go func() {
		defer close(n.done)
		n.run(stream.Frames(), out)
	}()
}

func (n *Native) run(frames <-chan audio.Frame, out chan<- audio.Payload) {
	var warned bool
	encode := func(f audio.Frame, final bool) {
		if err := n.encodeFrame(f, out, final); err != nil && !warned {
			warned = true
			slog.Warn("capture: native encode failed; dropping audio", "err", err)
		}
	}

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			encode(f, false)
		case <-n.stop:
			for frames != nil {
				select {
				case f, ok := <-frames:
					if !ok {
						frames = nil
						continue
					}
					encode(f, true)
				default:
					frames = nil
				}
			}
			n.flush(out)
			return
		}
	}
}

// encodeFrame resamples and encodes one device frame. Frames read after a
// stop request are final and wait for room in out.
func (n *Native) encodeFrame(f audio.Frame, out chan<- audio.Payload, final bool) error {
	var tail []float32
	if n.rs == nil || n.rsRate != f.SampleRate {
		if n.rs != nil {
			tail = n.rs.Flush()
		}
		n.rs = audio.NewResampler(f.SampleRate, n.enc.SampleRate())
		n.rsRate = f.SampleRate
	}
	resampled := n.rs.Process(audio.DownmixMono(f.Samples, f.Channels))
	if len(tail) > 0 {
		resampled = append(tail, resampled...)
	}
	return n.encode(resampled, out, final)
}

func (n *Native) encode(samples []float32, out chan<- audio.Payload, final bool) error {
	if len(samples) == 0 {
		return nil
	}
	packets, err := n.enc.Encode(audio.Quantize(samples))
	n.emit(packets, out, final)
	return err
}

func (n *Native) flush(out chan<- audio.Payload) {
	if n.rs != nil {
		if err := n.encode(n.rs.Flush(), out, true); err != nil {
			slog.Warn("capture: native encode failed", "err", err)
		}
	}
	packets, err := n.enc.Flush()
	if err != nil {
		slog.Warn("capture: native flush failed", "err", err)
	}
	n.emit(packets, out, true)
}

func (n *Native) emit(packets [][]byte, out chan<- audio.Payload, final bool) {
	for _, pkt := range packets {
		p := audio.Payload{
			Codec:      n.enc.Codec(),
			SampleRate: n.enc.SampleRate(),
			Channels:   audio.TargetChannels,
			Data:       pkt,
		}
		if final {
			out <- p
		} else {
			n.offer(out, p)
		}
	}
}

// Stop implements [Strategy]. The encoder's partial frame is flushed and the
// encoder is closed exactly once, even if Start was never called.
func (n *Native) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
	})
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()
	if started {
		<-n.done
	}
	n.closeOnce.Do(func() {
		if err := n.enc.Close(); err != nil {
			slog.Warn("capture: close encoder", "err", err)
		}
	})
}
