package conversation_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/huddle/internal/conversation"
	"github.com/MrWong99/huddle/internal/transport"
)

func delta(s string) transport.Event {
	return transport.Event{Type: transport.EventTextDelta, Delta: s}
}

var done = transport.Event{Type: transport.EventTextDone}

func TestLog_StreamedSequence(t *testing.T) {
	t.Parallel()
	l := conversation.NewLog()

	l.Apply(delta("Hel"))
	l.Apply(delta("lo"))
	if !l.Open() {
		t.Error("Open = false while deltas are arriving")
	}
	l.Apply(done)
	l.AddUser("x")
	l.Apply(delta("Hi"))
	l.Apply(done)

	want := []conversation.Turn{
		{Role: conversation.RoleAssistant, Text: "Hello"},
		{Role: conversation.RoleUser, Text: "x"},
		{Role: conversation.RoleAssistant, Text: "Hi"},
	}
	got := l.Turns()
	if len(got) != len(want) {
		t.Fatalf("turns = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if l.Open() {
		t.Error("Open = true after done")
	}
}

func TestLog_DeltaAfterClosedTurnStartsNewTurn(t *testing.T) {
	t.Parallel()
	l := conversation.NewLog()
	l.AddAssistant("first")
	l.Apply(delta("second"))

	turns := l.Turns()
	if len(turns) != 2 || turns[1].Text != "second" || !turns[1].Open {
		t.Errorf("turns = %+v, want a second open turn", turns)
	}
}

func TestLog_UserClosesOpenTurn(t *testing.T) {
	t.Parallel()
	l := conversation.NewLog()
	l.Apply(delta("partial"))
	l.AddUser("next question")

	turns := l.Turns()
	if turns[0].Open {
		t.Error("assistant turn still open after a user turn")
	}
	l.Apply(delta("answer"))
	if got := l.Turns(); len(got) != 3 || got[2].Text != "answer" {
		t.Errorf("turns = %+v", got)
	}
}

func TestLog_DoneWithoutOpenTurn(t *testing.T) {
	t.Parallel()
	l := conversation.NewLog()
	if l.Apply(done) {
		t.Error("done without an open turn reported a change")
	}
	if l.Apply(transport.Event{Type: transport.EventAck}) {
		t.Error("ack reported a change")
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}

func TestLog_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		do   func(*conversation.Log)
		want string
	}{
		{
			name: "remote error",
			do: func(l *conversation.Log) {
				l.AddError(&transport.RemoteError{Status: 500, Detail: "boom"})
			},
			want: conversation.ErrorText + " HTTP Error 500: boom",
		},
		{
			name: "nil error",
			do:   func(l *conversation.Log) { l.AddError(nil) },
			want: conversation.ErrorText,
		},
		{
			name: "error event closes open turn",
			do: func(l *conversation.Log) {
				l.Apply(delta("half"))
				l.Apply(transport.Event{Type: transport.EventError, Detail: "model overloaded"})
			},
			want: conversation.ErrorText + " model overloaded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := conversation.NewLog()
			tt.do(l)
			turns := l.Turns()
			last := turns[len(turns)-1]
			if !last.Error || last.Open || last.Role != conversation.RoleAssistant {
				t.Errorf("last turn = %+v, want closed assistant error", last)
			}
			if last.Text != tt.want {
				t.Errorf("Text = %q, want %q", last.Text, tt.want)
			}
			if l.Open() {
				t.Error("a turn is still open")
			}
		})
	}
}

func TestLog_ObserverSeesOrderedUpdates(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		deltas strings.Builder
		closed int
	)
	l := conversation.NewLog(conversation.WithObserver(func(u conversation.Update) {
		mu.Lock()
		defer mu.Unlock()
		deltas.WriteString(u.Delta)
		if u.Turn.Role == conversation.RoleAssistant && !u.Turn.Open && u.Delta == "" {
			closed++
		}
	}))

	l.AddUser("q")
	for _, d := range []string{"a", "b", "c"} {
		l.Apply(delta(d))
	}
	l.Apply(done)

	mu.Lock()
	defer mu.Unlock()
	if deltas.String() != "abc" {
		t.Errorf("observed deltas %q, want abc", deltas.String())
	}
	if closed != 1 {
		t.Errorf("observed %d closes, want 1", closed)
	}
}

func TestLog_ObserverMayReadLog(t *testing.T) {
	t.Parallel()
	l := conversation.NewLog()
	var seen int
	l.Observe(func(conversation.Update) { seen = l.Len() })
	l.AddUser("hi")
	if seen != 1 {
		t.Errorf("observer saw Len = %d, want 1", seen)
	}
}

func TestLog_ConcurrentDeltasFoldIntoOneTurn(t *testing.T) {
	t.Parallel()
	l := conversation.NewLog()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Apply(delta("x"))
		}()
	}
	wg.Wait()

	turns := l.Turns()
	if len(turns) != 1 || len(turns[0].Text) != 50 {
		t.Errorf("turns = %d, text length %d, want 1 turn of 50", len(turns), len(turns[0].Text))
	}
}
