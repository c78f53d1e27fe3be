package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/huddle/pkg/audio"
)

// DefaultFlushInterval is how often the manual strategy emits a PCM payload.
const DefaultFlushInterval = time.Second

var _ Strategy = (*Manual)(nil)

// Manual is the manual-buffer capture strategy. Samples are appended at the
// device rate and drained on every tick.
type Manual struct {
	dropCounter

	interval time.Duration
	tick     <-chan time.Time

	mu   sync.Mutex
	buf  []float32
	rate int

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewManual returns a manual strategy that flushes every interval. When tick
// is non-nil it replaces the wall-clock ticker, which lets callers control
// flush timing precisely.
func NewManual(interval time.Duration, tick <-chan time.Time) *Manual {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Manual{
		interval: interval,
		tick:     tick,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Kind implements [Strategy].
func (m *Manual) Kind() Kind { return KindManualBuffer }

// Buffered returns the number of mono samples waiting for the next flush.
func (m *Manual) Buffered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

// Start implements [Strategy].
func (m *Manual) Start(stream audio.Stream, out chan<- audio.Payload) {
	m.mu.Lock()
	m.rate = stream.SampleRate()
	m.started = true
	m.mu.Unlock()

	tick := m.tick
	var ticker *time.Ticker
	if tick == nil {
		ticker = time.NewTicker(m.interval)
		tick = ticker.C
	}

	go func() {
		defer close(m.done)
		if ticker != nil {
			defer ticker.Stop()
		}
		m.run(stream.Frames(), tick, out)
	}()
}

func (m *Manual) run(frames <-chan audio.Frame, tick <-chan time.Time, out chan<- audio.Payload) {
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			m.append(f)
		case <-tick:
			m.flush(out, false)
		case <-m.stop:
			m.drainQueued(frames)
			m.flush(out, true)
			return
		}
	}
}

// drainQueued consumes frames that were captured before the stop request but
// not yet read, without waiting for new ones.
func (m *Manual) drainQueued(frames <-chan audio.Frame) {
	if frames == nil {
		return
	}
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			m.append(f)
		default:
			return
		}
	}
}

func (m *Manual) append(f audio.Frame) {
	samples := audio.DownmixMono(f.Samples, f.Channels)
	m.mu.Lock()
	m.buf = append(m.buf, samples...)
	m.mu.Unlock()
}

// flush emits the buffered samples. The final flush waits for room in out;
// earlier ones drop the payload when out is full.
func (m *Manual) flush(out chan<- audio.Payload, final bool) {
	m.mu.Lock()
	samples := m.buf
	m.buf = nil
	rate := m.rate
	m.mu.Unlock()

	if len(samples) == 0 {
		return
	}
	p := pcmPayload(samples, rate)
	slog.Debug("capture: manual flush",
		"samples", len(samples),
		"bytes", len(p.Data),
	)
	if final {
		out <- p
		return
	}
	m.offer(out, p)
}

// Stop implements [Strategy]. The partial tail is always flushed.
func (m *Manual) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if started {
		<-m.done
	}
}
