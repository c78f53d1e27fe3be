package transport_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/huddle/internal/transport"
	"github.com/coder/websocket"
)

func TestReconnector_RedialsAfterRemoteDrop(t *testing.T) {
	t.Parallel()

	var conns atomic.Int32
	starts := make(chan string, 4)
	srv := startWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		n := conns.Add(1)
		var start map[string]any
		readJSON(t, conn, &start)
		starts <- start["session_id"].(string)
		if n == 1 {
			conn.Close(websocket.StatusInternalError, "backend restart")
			return
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	url := wsURL(srv) + "/ws/audio?session_id=s1"
	reconnected := make(chan *transport.Duplex, 1)
	r := transport.NewReconnector(transport.ReconnectorConfig{
		Dial: func(ctx context.Context) (*transport.Duplex, error) {
			return transport.Dial(ctx, url, transport.WithStartMessage(transport.NewStartMessage("s1")))
		},
		Backoff:     10 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
		OnReconnect: func(d *transport.Duplex) { reconnected <- d },
	})

	first, err := r.Connect(testCtx(t))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Monitor(testCtx(t))
	defer r.Stop(context.Background())

	var second *transport.Duplex
	select {
	case second = <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reconnect")
	}
	if second == first {
		t.Fatal("OnReconnect received the dropped connection")
	}
	if r.Connection() != second {
		t.Error("Connection() should return the replacement")
	}
	for i := 0; i < 2; i++ {
		select {
		case sid := <-starts:
			if sid != "s1" {
				t.Errorf("start[%d] session_id = %q", i, sid)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("start message %d not received", i)
		}
	}
}

func TestReconnector_StopDoesNotRedial(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	srv := startWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	url := wsURL(srv)

	r := transport.NewReconnector(transport.ReconnectorConfig{
		Dial: func(ctx context.Context) (*transport.Duplex, error) {
			dials.Add(1)
			return transport.Dial(ctx, url)
		},
		Backoff: 10 * time.Millisecond,
	})
	if _, err := r.Connect(testCtx(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Monitor(testCtx(t))

	if err := r.Stop(testCtx(t), transport.NewFinishMessage("s1")); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(testCtx(t)); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if r.Connection() != nil {
		t.Error("Connection() should be nil after Stop")
	}
}

func TestReconnector_GivesUp(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	srv := startWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.Close(websocket.StatusInternalError, "gone")
	})
	url := wsURL(srv)

	gaveUp := make(chan struct{})
	r := transport.NewReconnector(transport.ReconnectorConfig{
		Dial: func(ctx context.Context) (*transport.Duplex, error) {
			if dials.Add(1) > 1 {
				return nil, errors.New("connection refused")
			}
			return transport.Dial(ctx, url)
		},
		MaxRetries: 3,
		Backoff:    time.Millisecond,
		OnGiveUp:   func() { close(gaveUp) },
	})
	if _, err := r.Connect(testCtx(t)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Monitor(testCtx(t))
	defer r.Stop(context.Background())

	select {
	case <-gaveUp:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnector did not give up")
	}
	if got := dials.Load(); got != 4 {
		t.Errorf("dials = %d, want 1 initial + 3 retries", got)
	}
}

func TestReconnector_InitialConnectFailure(t *testing.T) {
	t.Parallel()

	r := transport.NewReconnector(transport.ReconnectorConfig{
		Dial: func(ctx context.Context) (*transport.Duplex, error) {
			return nil, errors.New("auth failed")
		},
	})
	if _, err := r.Connect(testCtx(t)); err == nil {
		t.Fatal("expected error")
	}
	if r.Connection() != nil {
		t.Error("Connection() should be nil after failed connect")
	}
}
