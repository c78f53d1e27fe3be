// Package meeting defines the archive of finalized meeting notes.
//
// A [Note] is produced when a recording session finalizes successfully. Notes
// are kept by a [Store]: [MemoryStore] for the lifetime of the process, or the
// PostgreSQL implementation in the postgres sub-package when an archive DSN is
// configured.
package meeting

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.Get] when no note has the requested ID.
var ErrNotFound = errors.New("meeting: note not found")

// titleLayout renders a default title such as "Project Sync - 3/14/2026 09:05 AM".
const titleLayout = "1/2/2006 03:04 PM"

// DefaultTitle returns the title given to a recording started at t.
func DefaultTitle(t time.Time) string {
	return "Project Sync - " + t.Format(titleLayout)
}

// Note is a finalized meeting.
type Note struct {
	// ID identifies the note. Backend-assigned IDs are kept verbatim; a
	// [Store] assigns a zero-padded sequence ("0001") when ID is empty.
	ID string

	// SessionID is the recording session the note was produced from.
	SessionID string

	Title        string
	Participants []string
	Transcript   string

	// Timestamp is when the meeting was recorded.
	Timestamp time.Time
}

// Store persists meeting notes.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores n, replacing any note with the same ID, and returns the
	// stored note with its ID filled in.
	Save(ctx context.Context, n Note) (Note, error)

	// Get returns the note with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (Note, error)

	// List returns all notes, newest first.
	List(ctx context.Context) ([]Note, error)
}
