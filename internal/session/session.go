// Package session owns a single recording attempt: its identity, lifecycle
// and the chunk counter that numbers audio on its way to the backend.
//
// The [Streamer] is the only goroutine that touches the counter. It receives
// unnumbered [audio.Payload] values from the capture pipeline, seals each into
// a [transport.Chunk] and delivers it through a [Sender], retrying failed
// sends with the same index and the replay marker set.
package session

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/huddle/internal/meeting"
	"github.com/MrWong99/huddle/internal/transport"
	"github.com/MrWong99/huddle/pkg/audio"
)

// State is the lifecycle state of a [Session].
type State int

const (
	// StateActive means audio is being captured and streamed.
	StateActive State = iota

	// StateFinishing means capture has stopped and the recording is being
	// finalized.
	StateFinishing

	// StateClosed means the session released its resources.
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFinishing:
		return "finishing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Info is a point-in-time snapshot of a [Session].
type Info struct {
	ID        string
	Title     string
	StartedAt time.Time
	State     State

	// Participants are the attendees named when the session started.
	Participants []string

	// Chunks is the number of chunks the transport accepted so far.
	Chunks uint64
}

// Session is one recording attempt. Its methods are safe for concurrent use;
// only the [Streamer] advances the chunk counter.
type Session struct {
	id           string
	title        string
	named        bool // title came from WithTitle
	participants []string
	startedAt    time.Time

	mu    sync.Mutex
	state State

	// next is the index the next chunk receives. Written only by the
	// streamer goroutine.
	next atomic.Uint64
}

// Option customizes a [Session] created by [New].
type Option func(*Session)

// WithTitle names the meeting. A blank title keeps the default.
func WithTitle(title string) Option {
	return func(s *Session) {
		if t := strings.TrimSpace(title); t != "" {
			s.title = t
			s.named = true
		}
	}
}

// WithParticipants records who attends. Blank names are skipped.
func WithParticipants(names ...string) Option {
	return func(s *Session) {
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				s.participants = append(s.participants, n)
			}
		}
	}
}

// New creates an active session started at now with a fresh UUIDv7 ID. The
// title defaults to [meeting.DefaultTitle].
func New(now time.Time, opts ...Option) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("session: new id: %w", err)
	}
	s := &Session{
		id:        id.String(),
		title:     meeting.DefaultTitle(now),
		startedAt: now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Title returns the meeting title.
func (s *Session) Title() string { return s.title }

// Named reports whether the title was chosen by the user rather than
// defaulted.
func (s *Session) Named() bool { return s.named }

// Participants returns the attendees named at start.
func (s *Session) Participants() []string { return slices.Clone(s.participants) }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginFinish moves an active session to [StateFinishing]. It reports false
// when the session was not active.
func (s *Session) BeginFinish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	s.state = StateFinishing
	return true
}

// Close moves the session to [StateClosed].
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:           s.id,
		Title:        s.title,
		StartedAt:    s.startedAt,
		State:        s.State(),
		Participants: s.Participants(),
		Chunks:       s.next.Load(),
	}
}

// seal numbers p with the next free index without consuming it.
func (s *Session) seal(p audio.Payload) transport.Chunk {
	return transport.Chunk{
		SessionID: s.id,
		Index:     s.next.Load(),
		Payload:   p,
	}
}

// commit consumes the index of a chunk the transport accepted.
func (s *Session) commit() {
	s.next.Add(1)
}
