// Package conversation assembles the question-and-answer history shown to the
// user. Answers may arrive whole (HTTP) or as a stream of text deltas over the
// realtime connection; [Log] folds both into a list of [Turn] values.
package conversation

import (
	"sync"

	"github.com/MrWong99/huddle/internal/transport"
)

// ErrorText opens every error turn.
const ErrorText = "Sorry, an error occurred while fetching the answer."

// Role identifies who produced a [Turn].
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation.
type Turn struct {
	Role Role
	Text string

	// Open is true while an assistant turn is still receiving deltas.
	Open bool

	// Error marks an assistant turn that reports a failed query.
	Error bool
}

// Update describes one change to a [Log].
type Update struct {
	// Index of the changed turn.
	Index int

	// Turn is the turn after the change.
	Turn Turn

	// Delta is the text appended by a streamed delta. Empty for other
	// changes.
	Delta string
}

// Observer receives every [Update] in the order the changes were made. It
// must not block for long; it may read the log.
type Observer func(Update)

// Option configures a [Log].
type Option func(*Log)

// WithObserver registers fn to receive updates.
func WithObserver(fn Observer) Option {
	return func(l *Log) { l.observers = append(l.observers, fn) }
}

// Log is the conversation history. At most one assistant turn is open at a
// time. Safe for concurrent use.
type Log struct {
	// write serialises mutations together with their notifications so that
	// observers see updates in order.
	write sync.Mutex

	mu        sync.RWMutex
	turns     []Turn
	observers []Observer
}

// NewLog creates an empty [Log].
func NewLog(opts ...Option) *Log {
	l := &Log{}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Observe registers fn to receive all future updates.
func (l *Log) Observe(fn Observer) {
	l.write.Lock()
	defer l.write.Unlock()
	l.mu.Lock()
	l.observers = append(l.observers, fn)
	l.mu.Unlock()
}

// AddUser appends a user turn, closing any open assistant turn.
func (l *Log) AddUser(text string) {
	l.write.Lock()
	defer l.write.Unlock()
	var ups []Update
	if u, ok := l.closeOpen(); ok {
		ups = append(ups, u)
	}
	ups = append(ups, l.push(Turn{Role: RoleUser, Text: text}))
	l.notify(ups...)
}

// Apply folds a realtime event into the log. A text delta extends the open
// assistant turn or starts one; text done closes it; an error event closes
// it and appends an error turn. It reports whether ev changed the log.
func (l *Log) Apply(ev transport.Event) bool {
	l.write.Lock()
	defer l.write.Unlock()

	switch ev.Type {
	case transport.EventTextDelta:
		l.notify(l.appendDelta(ev.Delta))
		return true
	case transport.EventTextDone:
		u, ok := l.closeOpen()
		if ok {
			l.notify(u)
		}
		return ok
	case transport.EventError:
		l.addError(ev.Detail)
		return true
	}
	return false
}

// AddAssistant appends a complete assistant reply, closing any open turn.
func (l *Log) AddAssistant(text string) {
	l.write.Lock()
	defer l.write.Unlock()
	var ups []Update
	if u, ok := l.closeOpen(); ok {
		ups = append(ups, u)
	}
	ups = append(ups, l.push(Turn{Role: RoleAssistant, Text: text}))
	l.notify(ups...)
}

// AddError appends a closed assistant turn flagged as an error. The text is
// [ErrorText] followed by the error message.
func (l *Log) AddError(err error) {
	l.write.Lock()
	defer l.write.Unlock()
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	l.addError(detail)
}

// Turns returns a copy of the history.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Open reports whether an assistant turn is still receiving deltas.
func (l *Log) Open() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.openIndex() >= 0
}

// Len returns the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

func (l *Log) addError(detail string) {
	var ups []Update
	if u, ok := l.closeOpen(); ok {
		ups = append(ups, u)
	}
	text := ErrorText
	if detail != "" {
		text += " " + detail
	}
	ups = append(ups, l.push(Turn{Role: RoleAssistant, Text: text, Error: true}))
	l.notify(ups...)
}

func (l *Log) appendDelta(delta string) Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.openIndex()
	if i < 0 {
		l.turns = append(l.turns, Turn{Role: RoleAssistant, Open: true})
		i = len(l.turns) - 1
	}
	l.turns[i].Text += delta
	return Update{Index: i, Turn: l.turns[i], Delta: delta}
}

func (l *Log) push(t Turn) Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, t)
	return Update{Index: len(l.turns) - 1, Turn: t}
}

func (l *Log) closeOpen() (Update, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.openIndex()
	if i < 0 {
		return Update{}, false
	}
	l.turns[i].Open = false
	return Update{Index: i, Turn: l.turns[i]}, true
}

// openIndex returns the index of the open assistant turn or -1. Only the
// last turn can be open. Callers hold mu.
func (l *Log) openIndex() int {
	n := len(l.turns)
	if n > 0 && l.turns[n-1].Role == RoleAssistant && l.turns[n-1].Open {
		return n - 1
	}
	return -1
}

// notify runs with write held and mu released.
func (l *Log) notify(ups ...Update) {
	l.mu.RLock()
	obs := l.observers
	l.mu.RUnlock()
	for _, u := range ups {
		for _, fn := range obs {
			fn(u)
		}
	}
}
