package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/huddle/internal/meeting"
	"github.com/MrWong99/huddle/internal/meeting/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if HUDDLE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HUDDLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HUDDLE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a [postgres.Store] on a freshly dropped schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS meeting_notes",
		"DROP SEQUENCE IF EXISTS meeting_note_seq",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_SaveAssignsIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Save(ctx, meeting.Note{Title: "first"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a.ID != "0001" {
		t.Errorf("ID = %q, want 0001", a.ID)
	}

	kept, err := store.Save(ctx, meeting.Note{ID: "remote-7", Title: "remote"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if kept.ID != "remote-7" {
		t.Errorf("ID = %q, want remote-7", kept.ID)
	}
}

func TestStore_GetAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	old, _ := store.Save(ctx, meeting.Note{
		SessionID:    "s-1",
		Title:        "old",
		Participants: []string{"ana", "ben"},
		Transcript:   "hello",
		Timestamp:    base,
	})
	if _, err := store.Save(ctx, meeting.Note{Title: "new", Timestamp: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, old.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Transcript != "hello" || got.SessionID != "s-1" || len(got.Participants) != 2 {
		t.Errorf("Get = %+v", got)
	}
	if !got.Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, base)
	}

	notes, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(notes) != 2 || notes[0].Title != "new" {
		t.Errorf("List = %+v, want newest first", notes)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, meeting.ErrNotFound) {
		t.Errorf("Get missing err = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, meeting.Note{ID: "0042", Title: "draft"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save(ctx, meeting.Note{ID: "0042", Title: "final"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(ctx, "0042")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "final" {
		t.Errorf("Title = %q, want final", got.Title)
	}
}
