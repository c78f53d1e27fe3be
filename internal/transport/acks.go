package transport

import (
	"slices"
	"sync"
)

// AckTracker remembers chunks delivered over a duplex connection until the
// backend acknowledges them. After a reconnect the still-pending chunks can
// be redelivered. Safe for concurrent use.
type AckTracker struct {
	mu      sync.Mutex
	pending map[uint64]Chunk
}

// NewAckTracker creates an empty [AckTracker].
func NewAckTracker() *AckTracker {
	return &AckTracker{pending: make(map[uint64]Chunk)}
}

// Track records ch as awaiting acknowledgement.
func (t *AckTracker) Track(ch Chunk) {
	t.mu.Lock()
	t.pending[ch.Index] = ch
	t.mu.Unlock()
}

// Ack clears the chunk acknowledged by ev. Events for another session are
// ignored. It reports whether a pending chunk was cleared.
func (t *AckTracker) Ack(ev Event) bool {
	if ev.Type != EventAck {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pending[ev.ChunkIndex]
	if !ok {
		return false
	}
	if ev.SessionID != "" && ev.SessionID != ch.SessionID {
		return false
	}
	delete(t.pending, ev.ChunkIndex)
	return true
}

// Forget stops tracking ch, typically because another route delivered it.
// A pending chunk from a different session is left in place.
func (t *AckTracker) Forget(ch Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[ch.Index]; ok && p.SessionID == ch.SessionID {
		delete(t.pending, ch.Index)
	}
}

// Pending returns the unacknowledged chunks in index order.
func (t *AckTracker) Pending() []Chunk {
	t.mu.Lock()
	out := make([]Chunk, 0, len(t.pending))
	for _, ch := range t.pending {
		out = append(out, ch)
	}
	t.mu.Unlock()
	slices.SortFunc(out, func(a, b Chunk) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of unacknowledged chunks.
func (t *AckTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
