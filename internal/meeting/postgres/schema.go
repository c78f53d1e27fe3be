// Package postgres provides a PostgreSQL-backed [meeting.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	note, _ = store.Save(ctx, note)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlMeetingNotes creates the notes table. Notes without a backend ID draw a
// zero-padded ID from meeting_note_seq.
const ddlMeetingNotes = `
CREATE SEQUENCE IF NOT EXISTS meeting_note_seq;

CREATE TABLE IF NOT EXISTS meeting_notes (
    id           TEXT         PRIMARY KEY
                              DEFAULT lpad(nextval('meeting_note_seq')::text, 4, '0'),
    session_id   TEXT         NOT NULL DEFAULT '',
    title        TEXT         NOT NULL DEFAULT '',
    participants TEXT[]       NOT NULL DEFAULT '{}',
    transcript   TEXT         NOT NULL DEFAULT '',
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_meeting_notes_recorded_at
    ON meeting_notes (recorded_at DESC);
`

// Migrate creates the archive tables. It is idempotent and safe to call on
// every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlMeetingNotes); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
