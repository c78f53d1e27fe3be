package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/huddle/internal/conversation"
	"github.com/MrWong99/huddle/internal/meeting"
)

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1400 * time.Millisecond, "1s"},
		{61 * time.Second, "1m 1s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNote(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	NewFormatter(&buf).Note(meeting.Note{ID: "0007", Title: "Retro", Transcript: "  went well \n"})

	out := buf.String()
	for _, want := range []string{"Retro", "id: 0007", "recorded: -", "\nwent well\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestAnswer(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	f := NewFormatter(&buf)
	f.Answer(conversation.Turn{Role: conversation.RoleAssistant, Text: "fine"})
	f.Answer(conversation.Turn{Role: conversation.RoleAssistant, Text: "nope", Error: true})

	if got, want := buf.String(), "fine\n❌ nope\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
