package meeting

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process [Store]. Notes are lost when the process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]Note
	seq   int
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notes: make(map[string]Note)}
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, n Note) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		for {
			s.seq++
			n.ID = fmt.Sprintf("%04d", s.seq)
			if _, taken := s.notes[n.ID]; !taken {
				break
			}
		}
	}
	n.Participants = slices.Clone(n.Participants)
	s.notes[n.ID] = n
	return n, nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return Note{}, fmt.Errorf("meeting: get %q: %w", id, ErrNotFound)
	}
	n.Participants = slices.Clone(n.Participants)
	return n, nil
}

// List implements [Store].
func (s *MemoryStore) List(_ context.Context) ([]Note, error) {
	s.mu.RLock()
	out := make([]Note, 0, len(s.notes))
	for _, n := range s.notes {
		n.Participants = slices.Clone(n.Participants)
		out = append(out, n)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Note) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return compareIDs(b.ID, a.ID)
	})
	return out, nil
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
