package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/huddle/internal/app"
	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/transport"
	"github.com/MrWong99/huddle/pkg/audio"
	"github.com/MrWong99/huddle/pkg/audio/mock"
)

// received is one chunk as the backend saw it.
type received struct {
	route string
	msg   transport.ChunkMessage
}

// fakeBackend serves the backend's websocket and HTTP endpoints and records
// everything it receives. Knobs are set through the setup function passed to
// newFakeBackend, before the server starts.
type fakeBackend struct {
	srv *httptest.Server

	noAudioWS      bool
	noChatWS       bool
	finalizeStatus int
	queryStatus    int
	chatDeltas     []string

	// chatEnd is how a streamed answer ends after its deltas: done (the
	// default), error, close or silent.
	chatEnd string

	// queryGate, when set, holds every HTTP query until a value arrives.
	queryGate chan struct{}

	// chatGate, when set, holds every streamed answer until it is closed.
	chatGate chan struct{}

	// dialGate, when set, holds the realtime handshake until it is closed.
	dialGate chan struct{}

	mu        sync.Mutex
	starts    []transport.StartMessage
	chunks    []received
	finishes  []string
	finalized []string
	queries   []string
	dials     int
}

func newFakeBackend(t *testing.T, setup func(b *fakeBackend)) *fakeBackend {
	t.Helper()
	b := &fakeBackend{finalizeStatus: http.StatusOK, queryStatus: http.StatusOK}
	if setup != nil {
		setup(b)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /ws/audio", b.audio)
	mux.HandleFunc("GET /v1/realtime", b.realtime)
	mux.HandleFunc("POST "+transport.PathUploadChunk, b.upload)
	mux.HandleFunc("POST "+transport.PathFinalize, b.finalize)
	mux.HandleFunc("POST "+transport.PathQuery, b.query)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.srv.URL }

func (b *fakeBackend) accept(w http.ResponseWriter, r *http.Request) *websocket.Conn {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{transport.Subprotocol},
	})
	if err != nil {
		return nil
	}
	return conn
}

func (b *fakeBackend) audio(w http.ResponseWriter, r *http.Request) {
	if b.noAudioWS {
		http.NotFound(w, r)
		return
	}
	conn := b.accept(w, r)
	if conn == nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		switch env.Type {
		case transport.TypeStart:
			var m transport.StartMessage
			_ = json.Unmarshal(data, &m)
			b.mu.Lock()
			b.starts = append(b.starts, m)
			b.mu.Unlock()
		case transport.TypeChunk:
			var m transport.ChunkMessage
			_ = json.Unmarshal(data, &m)
			b.mu.Lock()
			b.chunks = append(b.chunks, received{route: transport.RouteDuplex, msg: m})
			b.mu.Unlock()
			ack := fmt.Sprintf(`{"type":"ack","session_id":%q,"chunk_index":%d}`, m.SessionID, m.ChunkIndex)
			_ = conn.Write(ctx, websocket.MessageText, []byte(ack))
		case transport.TypeFinish:
			var m transport.FinishMessage
			_ = json.Unmarshal(data, &m)
			b.mu.Lock()
			b.finishes = append(b.finishes, m.SessionID)
			b.mu.Unlock()
		}
	}
}

func (b *fakeBackend) realtime(w http.ResponseWriter, r *http.Request) {
	if b.noChatWS {
		http.NotFound(w, r)
		return
	}
	b.mu.Lock()
	b.dials++
	b.mu.Unlock()
	if b.dialGate != nil {
		select {
		case <-b.dialGate:
		case <-r.Context().Done():
			return
		}
	}
	conn := b.accept(w, r)
	if conn == nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var q transport.QueryMessage
		if json.Unmarshal(data, &q) != nil || q.Type != transport.TypeQuery {
			continue
		}
		b.mu.Lock()
		b.queries = append(b.queries, q.Query)
		b.mu.Unlock()
		if b.chatGate != nil {
			select {
			case <-b.chatGate:
			case <-ctx.Done():
				return
			}
		}
		for _, d := range b.chatDeltas {
			msg, _ := json.Marshal(map[string]string{"type": string(transport.EventTextDelta), "delta": d})
			_ = conn.Write(ctx, websocket.MessageText, msg)
		}
		switch b.chatEnd {
		case "error":
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"error","detail":"model overloaded"}`))
		case "close":
			_ = conn.Close(websocket.StatusGoingAway, "restarting")
			return
		case "silent":
		default:
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"response.text.done"}`))
		}
	}
}

func (b *fakeBackend) upload(w http.ResponseWriter, r *http.Request) {
	var m transport.ChunkMessage
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, `{"detail":"bad body"}`, http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.chunks = append(b.chunks, received{route: transport.RouteHTTP, msg: m})
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (b *fakeBackend) finalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	b.finalized = append(b.finalized, req.SessionID)
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if b.finalizeStatus != http.StatusOK {
		w.WriteHeader(b.finalizeStatus)
		_, _ = w.Write([]byte(`{"detail":"transcription failed"}`))
		return
	}
	_, _ = w.Write([]byte(`{"success":true,"note":{"id":"","title":"Weekly sync","transcript":"We shipped it.","timestamp":1700000000}}`))
}

func (b *fakeBackend) query(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	b.queries = append(b.queries, req.Query)
	b.mu.Unlock()

	if b.queryGate != nil {
		select {
		case <-b.queryGate:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if b.queryStatus != http.StatusOK {
		w.WriteHeader(b.queryStatus)
		_, _ = w.Write([]byte(`{"detail":"boom"}`))
		return
	}
	answer, _ := json.Marshal(map[string]string{"answer": "answer to " + req.Query})
	_, _ = w.Write(answer)
}

func (b *fakeBackend) Chunks() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]received(nil), b.chunks...)
}

func (b *fakeBackend) Starts() []transport.StartMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transport.StartMessage(nil), b.starts...)
}

func (b *fakeBackend) Finishes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.finishes...)
}

func (b *fakeBackend) Finalized() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.finalized...)
}

func (b *fakeBackend) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBackend) Queries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.queries...)
}

// harness is an orchestrator wired to a fake backend and a mock microphone
// whose manual flushes are driven by tick.
type harness struct {
	backend *fakeBackend
	orch    *app.Orchestrator
	stream  *mock.Stream
	device  *mock.Device
	tick    chan time.Time
}

// newHarness builds an orchestrator with manual capture and HTTP queries;
// mutate adjusts the config before defaults are applied.
func newHarness(t *testing.T, backend *fakeBackend, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	cfg := &config.Config{}
	cfg.Backend.URL = backend.URL()
	cfg.Capture.Strategy = capture.ModeManual
	cfg.Transport.Retry.Backoff = time.Millisecond
	cfg.Query.Mode = config.QueryHTTP
	if mutate != nil {
		mutate(cfg)
	}
	config.ApplyDefaults(cfg)

	stream := mock.NewStream(48000, 1)
	dev := &mock.Device{OpenResult: stream}
	tick := make(chan time.Time)

	o := app.NewOrchestrator(app.OrchestratorConfig{
		Config:  cfg,
		HTTP:    transport.NewHTTPClient(cfg.Backend.URL),
		Device:  dev,
		Tick:    tick,
		Metrics: testMetrics(t),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return &harness{backend: backend, orch: o, stream: stream, device: dev, tick: tick}
}

// buffered returns the samples awaiting the next manual flush.
func (h *harness) buffered() int {
	info, ok := h.orch.Info()
	if !ok {
		return -1
	}
	return info.Buffered
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// pushSeconds feeds d of constant signal at rate into stream in 100 ms
// frames.
func pushSeconds(t *testing.T, stream *mock.Stream, rate int, d time.Duration) {
	t.Helper()
	perFrame := rate / 10
	total := int(int64(rate) * int64(d) / int64(time.Second))
	for total > 0 {
		n := min(perFrame, total)
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = 0.25
		}
		if !stream.Push(audio.Frame{Samples: samples, SampleRate: rate, Channels: 1}) {
			t.Fatal("push on closed stream")
		}
		total -= n
	}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
