// Package output renders command results for the terminal.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/huddle/internal/conversation"
	"github.com/MrWong99/huddle/internal/meeting"
	"github.com/MrWong99/huddle/internal/session"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) RecordingStarted(info session.Info) {
	fmt.Fprintf(f.w, "🎙️  Recording %q (session %s)\n", info.Title, info.ID)
	fmt.Fprintf(f.w, "   Press Ctrl+C to finish.\n")
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	fmt.Fprintf(f.w, "⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

func (f *Formatter) Finalizing() {
	fmt.Fprintf(f.w, "📝 Finalizing meeting notes...\n")
}

func (f *Formatter) Note(n meeting.Note) {
	fmt.Fprintf(f.w, "\n📁 %s\n", n.Title)
	fmt.Fprintf(f.w, "   id: %s  recorded: %s\n", n.ID, formatTime(n.Timestamp))
	if len(n.Participants) > 0 {
		fmt.Fprintf(f.w, "   participants: %s\n", strings.Join(n.Participants, ", "))
	}
	if n.Transcript != "" {
		fmt.Fprintf(f.w, "\n%s\n", strings.TrimSpace(n.Transcript))
	}
}

func (f *Formatter) MeetingListHeader() {
	fmt.Fprintf(f.w, "📁 Meetings:\n\n")
}

func (f *Formatter) MeetingListItem(n meeting.Note) {
	fmt.Fprintf(f.w, "  %s  %s  %s\n", n.ID, formatTime(n.Timestamp), n.Title)
}

// Prompt writes the interactive chat prompt.
func (f *Formatter) Prompt() {
	fmt.Fprint(f.w, "> ")
}

// Delta writes a streamed piece of an answer without a line break.
func (f *Formatter) Delta(text string) {
	fmt.Fprint(f.w, text)
}

// EndAnswer terminates a streamed answer.
func (f *Formatter) EndAnswer() {
	fmt.Fprintln(f.w)
}

// Answer writes a complete assistant turn.
func (f *Formatter) Answer(t conversation.Turn) {
	if t.Error {
		f.Error(t.Text)
		return
	}
	fmt.Fprintf(f.w, "%s\n", t.Text)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
