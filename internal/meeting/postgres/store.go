package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/huddle/internal/meeting"
)

var _ meeting.Store = (*Store)(nil)

// Store is a [meeting.Store] backed by the meeting_notes table.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save implements [meeting.Store]. An empty ID is assigned from the sequence.
func (s *Store) Save(ctx context.Context, n meeting.Note) (meeting.Note, error) {
	if n.Participants == nil {
		n.Participants = []string{}
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var row pgx.Row
	if n.ID == "" {
		const q = `
			INSERT INTO meeting_notes (session_id, title, participants, transcript, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`
		row = s.pool.QueryRow(ctx, q, n.SessionID, n.Title, n.Participants, n.Transcript, n.Timestamp)
	} else {
		const q = `
			INSERT INTO meeting_notes (id, session_id, title, participants, transcript, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
			    session_id   = EXCLUDED.session_id,
			    title        = EXCLUDED.title,
			    participants = EXCLUDED.participants,
			    transcript   = EXCLUDED.transcript,
			    recorded_at  = EXCLUDED.recorded_at
			RETURNING id`
		row = s.pool.QueryRow(ctx, q, n.ID, n.SessionID, n.Title, n.Participants, n.Transcript, n.Timestamp)
	}
	if err := row.Scan(&n.ID); err != nil {
		return meeting.Note{}, fmt.Errorf("postgres store: save: %w", err)
	}
	return n, nil
}

// Get implements [meeting.Store].
func (s *Store) Get(ctx context.Context, id string) (meeting.Note, error) {
	const q = `
		SELECT id, session_id, title, participants, transcript, recorded_at
		FROM   meeting_notes
		WHERE  id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return meeting.Note{}, fmt.Errorf("postgres store: get: %w", err)
	}
	n, err := pgx.CollectExactlyOneRow(rows, scanNote)
	if errors.Is(err, pgx.ErrNoRows) {
		return meeting.Note{}, fmt.Errorf("postgres store: get %q: %w", id, meeting.ErrNotFound)
	}
	if err != nil {
		return meeting.Note{}, fmt.Errorf("postgres store: get: %w", err)
	}
	return n, nil
}

// List implements [meeting.Store].
func (s *Store) List(ctx context.Context) ([]meeting.Note, error) {
	const q = `
		SELECT id, session_id, title, participants, transcript, recorded_at
		FROM   meeting_notes
		ORDER  BY recorded_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	notes, err := pgx.CollectRows(rows, scanNote)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return notes, nil
}

func scanNote(row pgx.CollectableRow) (meeting.Note, error) {
	var n meeting.Note
	err := row.Scan(&n.ID, &n.SessionID, &n.Title, &n.Participants, &n.Transcript, &n.Timestamp)
	return n, err
}
