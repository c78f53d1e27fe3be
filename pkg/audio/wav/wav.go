// Package wav keeps a local 16-bit WAV copy of captured audio. [Tee] wraps an
// [audio.Stream] so every frame delivered to the capture pipeline is also
// written to disk.
package wav

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/huddle/pkg/audio"
)

const (
	bitDepth  = 16
	formatPCM = 1
)

// Recorder writes frames to a WAV file. It is safe for concurrent use.
type Recorder struct {
	path       string
	sampleRate int
	channels   int

	mu     sync.Mutex
	f      *os.File
	enc    *gowav.Encoder
	closed bool
}

// Create opens path for writing and prepares a WAV header for the given
// format. The header is finalised by [Recorder.Close].
func Create(path string, sampleRate, channels int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %q: %w", path, err)
	}
	return &Recorder{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
		f:          f,
		enc:        gowav.NewEncoder(f, sampleRate, bitDepth, channels, formatPCM),
	}, nil
}

// Path returns the file the recorder writes to.
func (r *Recorder) Path() string { return r.path }

// Write appends frame to the file. Frames in a different format than the
// recorder was created with are rejected.
func (r *Recorder) Write(frame audio.Frame) error {
	if frame.SampleRate != r.sampleRate || frame.Channels != r.channels {
		return fmt.Errorf("wav: frame format %s does not match recorder format %s",
			audio.FormatString(frame.SampleRate, frame.Channels),
			audio.FormatString(r.sampleRate, r.channels))
	}

	pcm := audio.Quantize(frame.Samples)
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("wav: recorder closed")
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: r.channels, SampleRate: r.sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("wav: write: %w", err)
	}
	return nil
}

// Close finalises the header and closes the file. Safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(r.enc.Close(), r.f.Close())
}

// teeStream forwards frames from an inner stream while recording them.
type teeStream struct {
	inner audio.Stream
	rec   *Recorder
	out   chan audio.Frame
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Tee returns a stream that delivers the frames of s unchanged and writes
// each one to rec. Closing the returned stream closes s and then rec. Write
// failures are logged once and do not interrupt delivery.
func Tee(s audio.Stream, rec *Recorder) audio.Stream {
	t := &teeStream{
		inner: s,
		rec:   rec,
		out:   make(chan audio.Frame, cap(s.Frames())),
		done:  make(chan struct{}),
	}
	go t.forward()
	return t
}

func (t *teeStream) forward() {
	defer close(t.done)
	defer close(t.out)
	var warned bool
	for f := range t.inner.Frames() {
		if err := t.rec.Write(f); err != nil && !warned {
			warned = true
			slog.Warn("wav: recording frame failed", "path", t.rec.Path(), "err", err)
		}
		t.out <- f
	}
}

func (t *teeStream) Frames() <-chan audio.Frame { return t.out }
func (t *teeStream) SampleRate() int            { return t.inner.SampleRate() }
func (t *teeStream) Channels() int              { return t.inner.Channels() }

func (t *teeStream) Close() error {
	t.closeOnce.Do(func() {
		err := t.inner.Close()
		// Drain whatever the consumer left behind so forward can exit.
		go audio.Drain(t.out)
		<-t.done
		t.closeErr = errors.Join(err, t.rec.Close())
	})
	return t.closeErr
}
