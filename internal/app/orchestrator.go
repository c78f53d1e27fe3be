package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/huddle/internal/capture"
	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/conversation"
	"github.com/MrWong99/huddle/internal/meeting"
	"github.com/MrWong99/huddle/internal/observe"
	"github.com/MrWong99/huddle/internal/resilience"
	"github.com/MrWong99/huddle/internal/session"
	"github.com/MrWong99/huddle/internal/transport"
	"github.com/MrWong99/huddle/pkg/audio"
)

// dialTimeout bounds the websocket handshake when a session starts.
const dialTimeout = 10 * time.Second

var (
	// ErrSessionActive is returned by [Orchestrator.StartSession] while
	// another recording is in progress.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrQueryInFlight is returned by [Orchestrator.SubmitQuery] under the
	// reject policy while an answer is pending.
	ErrQueryInFlight = errors.New("app: a query is already in flight")

	// ErrEmptyQuery is returned for a blank question.
	ErrEmptyQuery = errors.New("app: query is empty")

	// ErrAnswerTimeout is recorded in the conversation when a streamed
	// answer does not finish within the configured query timeout.
	ErrAnswerTimeout = errors.New("no answer from the backend")
)

// SessionInfo describes the active recording.
type SessionInfo struct {
	session.Info

	// Capture is the strategy the pipeline is running.
	Capture capture.Kind

	// Buffered is the number of device samples awaiting the next manual
	// flush.
	Buffered int

	// Transport summarises chunk delivery so far.
	Transport session.Stats
}

// OrchestratorConfig holds the dependencies of an [Orchestrator].
type OrchestratorConfig struct {
	Config *config.Config

	// HTTP is the request/response client for the backend. Required.
	HTTP *transport.HTTPClient

	// DialClient performs websocket handshakes. It must not set a Timeout.
	// Default: [http.DefaultClient].
	DialClient *http.Client

	// Device is the microphone. Required for recording.
	Device audio.Device

	// Encoders creates native Opus encoders. Nil disables native encoding.
	Encoders audio.EncoderFactory

	// Tick drives manual capture flushes instead of a wall-clock ticker.
	Tick <-chan time.Time

	// Archive keeps finalized notes. Default: a [meeting.MemoryStore].
	Archive meeting.Store

	// Log receives the conversation. Default: a new [conversation.Log].
	Log *conversation.Log

	// Metrics default to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now defaults to [time.Now].
	Now func() time.Time
}

// chatConn is a realtime connection used for questions. waiting holds the
// answers still expected on it, oldest first. Guarded by Orchestrator.qmu.
type chatConn struct {
	dx      *transport.Duplex
	waiting []*expectedAnswer
}

// expectedAnswer is one question sent over a chatConn.
type expectedAnswer struct {
	start time.Time
	timer *time.Timer
}

// remove drops e (the oldest answer when e is nil) and stops its timer. It
// reports false when the answer was no longer expected.
func (cc *chatConn) remove(e *expectedAnswer) (*expectedAnswer, bool) {
	i := 0
	if e != nil {
		i = slices.Index(cc.waiting, e)
	}
	if i < 0 || i >= len(cc.waiting) {
		return nil, false
	}
	e = cc.waiting[i]
	cc.waiting = slices.Delete(cc.waiting, i, i+1)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e, true
}

// recording bundles the resources of the active session.
type recording struct {
	sess     *session.Session
	pipeline *capture.Pipeline
	streamer *session.Streamer
	router   *transport.Router
	recon    *transport.Reconnector
	cancel   context.CancelFunc
}

// Orchestrator runs at most one recording session at a time and answers
// questions about past meetings. All exported methods are safe for
// concurrent use.
type Orchestrator struct {
	cfg      *config.Config
	http     *transport.HTTPClient
	dial     *http.Client
	device   audio.Device
	encoders audio.EncoderFactory
	tick     <-chan time.Time
	archive  meeting.Store
	log      *conversation.Log
	metrics  *observe.Metrics
	now      func() time.Time

	mu     sync.Mutex
	active *recording

	// Query state. pending counts questions sent but not yet answered;
	// queue holds questions waiting under the queue policy.
	qmu     sync.Mutex
	pending int
	queue   []string
	chat    *chatConn
	idle    chan struct{} // closed while nothing is pending or queued

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates an [Orchestrator].
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.DialClient == nil {
		cfg.DialClient = http.DefaultClient
	}
	if cfg.Archive == nil {
		cfg.Archive = meeting.NewMemoryStore()
	}
	if cfg.Log == nil {
		cfg.Log = conversation.NewLog()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Orchestrator{
		cfg:      cfg.Config,
		http:     cfg.HTTP,
		dial:     cfg.DialClient,
		device:   cfg.Device,
		encoders: cfg.Encoders,
		tick:     cfg.Tick,
		archive:  cfg.Archive,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		idle:     idle,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Conversation returns the question-and-answer log.
func (o *Orchestrator) Conversation() *conversation.Log { return o.log }

// Archive returns the meeting note store.
func (o *Orchestrator) Archive() meeting.Store { return o.archive }

// Active reports whether a recording is in progress.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Info describes the active recording. The second result is false when no
// session is active.
func (o *Orchestrator) Info() (SessionInfo, bool) {
	o.mu.Lock()
	rec := o.active
	o.mu.Unlock()
	if rec == nil {
		return SessionInfo{}, false
	}
	info := SessionInfo{
		Info:      rec.sess.Info(),
		Buffered:  rec.pipeline.Buffered(),
		Transport: rec.streamer.Stats(),
	}
	info.Capture, _ = rec.pipeline.Kind()
	return info, true
}

// ─── Recording ───────────────────────────────────────────────────────────────

// StartSession begins a new recording. It fails with [ErrSessionActive]
// while another session is active, and with the (wrapped) device error when
// the microphone cannot be opened; in both cases no session is created.
//
// A duplex connection that cannot be established is logged and chunks are
// uploaded over HTTP instead. opts set the meeting title and participants
// carried into the archived note.
func (o *Orchestrator) StartSession(ctx context.Context, opts ...session.Option) (session.Info, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		return session.Info{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, o.active.sess.ID())
	}

	sess, err := session.New(o.now(), opts...)
	if err != nil {
		return session.Info{}, err
	}

	tcfg := o.cfg.Transport
	ccfg := o.cfg.Capture
	pipeline := capture.New(capture.Config{
		Device:        o.device,
		Encoders:      o.encoders,
		Mode:          ccfg.Strategy,
		Bitrate:       ccfg.Bitrate,
		FlushInterval: ccfg.FlushInterval,
		Tick:          o.tick,
		RecordPath:    ccfg.RecordWAV,
	})
	payloads, err := pipeline.Start(ctx)
	if err != nil {
		return session.Info{}, fmt.Errorf("app: start session: %w", err)
	}
	if kind, _ := pipeline.Kind(); kind == capture.KindManualBuffer &&
		capture.SelectKind(ccfg.Strategy, o.encoders) == capture.KindNativeEncode {
		o.metrics.CaptureFallbacks.Add(ctx, 1)
	}

	sessCtx, cancel := context.WithCancel(observe.WithSession(o.ctx, sess.ID()))
	rec := &recording{sess: sess, pipeline: pipeline, cancel: cancel}

	// Acknowledged chunks are only tracked when they may be redelivered;
	// otherwise the tracker would grow for the whole recording.
	var acks *transport.AckTracker
	if tcfg.DuplexPreferred() && tcfg.RedeliverUnacked {
		acks = transport.NewAckTracker()
	}

	rec.router = transport.NewRouter(transport.RouterConfig{
		HTTP:         o.http,
		PreferDuplex: tcfg.DuplexPreferred(),
		Acks:         acks,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  tcfg.Breaker.MaxFailures,
			ResetTimeout: tcfg.Breaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Info("transport route state changed",
					"session_id", sess.ID(), "route", name, "from", from, "to", to)
			},
		},
		OnFallback: func(route string, reason error) {
			o.metrics.RecordFallback(sessCtx, route)
			slog.Debug("transport route passed over",
				"session_id", sess.ID(), "route", route, "err", reason)
		},
	})
	rec.streamer = session.NewStreamer(session.StreamerConfig{
		Session: sess,
		Sender:  rec.router,
		Retry: session.RetryConfig{
			MaxAttempts: tcfg.Retry.MaxAttempts,
			Backoff:     tcfg.Retry.Backoff,
		},
		Acks:    acks,
		Metrics: o.metrics,
	})

	if tcfg.DuplexPreferred() {
		rec.recon = o.connectAudio(ctx, sessCtx, rec)
	}

	if err := rec.streamer.Run(sessCtx, payloads); err != nil {
		cancel()
		_ = pipeline.Stop()
		return session.Info{}, fmt.Errorf("app: start session: %w", err)
	}

	o.active = rec
	o.metrics.ActiveSessions.Add(ctx, 1)

	kind, _ := pipeline.Kind()
	slog.Info("session started",
		"session_id", sess.ID(),
		"title", sess.Title(),
		"capture", kind,
		"duplex", rec.recon != nil,
	)
	return sess.Info(), nil
}

// connectAudio dials the audio duplex for rec and keeps it alive. It returns
// nil when the initial dial fails.
func (o *Orchestrator) connectAudio(ctx, sessCtx context.Context, rec *recording) *transport.Reconnector {
	id := rec.sess.ID()
	url, err := transport.AudioURL(o.cfg.Backend.URL, id)
	if err != nil {
		slog.Warn("session: audio connection disabled", "session_id", id, "err", err)
		return nil
	}

	rcfg := o.cfg.Transport.Reconnect
	recon := transport.NewReconnector(transport.ReconnectorConfig{
		Dial: func(ctx context.Context) (*transport.Duplex, error) {
			return transport.Dial(ctx, url,
				transport.WithStartMessage(transport.NewStartMessage(id)),
				transport.WithDialHTTPClient(o.dial),
				transport.WithHeader(observe.TraceHeader(ctx)),
			)
		},
		MaxRetries: rcfg.MaxRetries,
		Backoff:    rcfg.Backoff,
		MaxBackoff: rcfg.MaxBackoff,
		OnReconnect: func(dx *transport.Duplex) {
			rec.router.SetDuplex(dx)
			rec.streamer.Attach(dx.Events())
			rec.streamer.Redeliver()
			slog.Info("session: audio connection restored", "session_id", id)
		},
		OnGiveUp: func() {
			slog.Warn("session: audio connection lost, uploading over HTTP", "session_id", id)
		},
	})

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	dx, err := recon.Connect(dctx)
	if err != nil {
		slog.Warn("session: audio connection unavailable, uploading over HTTP",
			"session_id", id, "err", err)
		return nil
	}
	rec.router.SetDuplex(dx)
	rec.streamer.Attach(dx.Events())
	recon.Monitor(sessCtx)
	return recon
}

// FinishSession ends the active recording: capture stops and its tail is
// delivered, the backend is told to finish and finalize, and the resulting
// note is archived. The session is released even when finalization fails.
//
// Without an active session FinishSession does nothing and returns nil, nil.
func (o *Orchestrator) FinishSession(ctx context.Context) (*meeting.Note, error) {
	o.mu.Lock()
	rec := o.active
	o.mu.Unlock()
	if rec == nil || !rec.sess.BeginFinish() {
		return nil, nil
	}

	id := rec.sess.ID()
	defer o.release(rec)

	ctx, span := observe.StartSpan(observe.WithSession(ctx, id), "session.finish")
	defer span.End()
	logger := observe.Logger(ctx)

	if err := rec.pipeline.Stop(); err != nil {
		logger.Warn("session: stop capture", "err", err)
	}
	if err := rec.streamer.Wait(ctx); err != nil {
		logger.Warn("session: tail delivery interrupted", "err", err)
	}

	var dx *transport.Duplex
	if rec.recon != nil {
		dx = rec.recon.Connection()
	}
	if dx != nil && dx.Open() {
		if err := dx.Send(ctx, transport.NewFinishMessage(id)); err != nil {
			logger.Warn("session: send finish", "err", err)
		}
	}

	remote, err := o.http.Finalize(ctx, id)
	if err != nil {
		span.RecordError(err)
		o.closeAudio(ctx, rec)
		return nil, fmt.Errorf("app: finish session %s: %w", id, err)
	}

	note := meeting.Note{
		ID:           remote.ID,
		SessionID:    id,
		Title:        remote.Title,
		Participants: rec.sess.Participants(),
		Transcript:   remote.Transcript,
		Timestamp:    remote.Timestamp.Time,
	}
	// A title the user chose beats the backend's; the backend's beats the
	// default.
	if note.Title == "" || rec.sess.Named() {
		note.Title = rec.sess.Title()
	}
	if note.Timestamp.IsZero() {
		note.Timestamp = rec.sess.StartedAt()
	}
	saved, err := o.archive.Save(ctx, note)
	if err != nil {
		logger.Error("session: archive note", "err", err)
		saved = note
	}

	o.closeAudio(ctx, rec)

	stats := rec.streamer.Stats()
	logger.Info("session finished",
		"note_id", saved.ID,
		"chunks", rec.sess.Info().Chunks,
		"dropped", stats.Dropped,
	)
	return &saved, nil
}

func (o *Orchestrator) closeAudio(ctx context.Context, rec *recording) {
	if rec.recon == nil {
		return
	}
	if err := rec.recon.Stop(ctx); err != nil {
		slog.Debug("session: close audio connection", "session_id", rec.sess.ID(), "err", err)
	}
}

// release frees everything rec holds and clears the active slot.
func (o *Orchestrator) release(rec *recording) {
	_ = rec.pipeline.Stop()
	rec.cancel()
	if rec.recon != nil {
		_ = rec.recon.Stop(context.Background())
	}
	rec.sess.Close()

	o.mu.Lock()
	if o.active == rec {
		o.active = nil
	}
	o.mu.Unlock()
	o.metrics.ActiveSessions.Add(context.Background(), -1)
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// SubmitQuery asks the backend a question about past meetings. It works with
// or without an active session. The question is appended to the
// conversation as a user turn and the answer arrives there too; remote
// failures become error turns rather than errors.
//
// While an answer is pending the configured policy applies: reject returns
// [ErrQueryInFlight], queue sends the question after the pending answer is
// done, allow sends it immediately.
func (o *Orchestrator) SubmitQuery(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyQuery
	}

	o.qmu.Lock()
	if o.pending > 0 {
		switch o.cfg.Query.Policy {
		case config.PolicyQueue:
			o.queue = append(o.queue, text)
			o.qmu.Unlock()
			slog.Debug("query queued", "position", len(o.queue))
			return nil
		case config.PolicyAllow:
		default:
			o.qmu.Unlock()
			return ErrQueryInFlight
		}
	}
	if o.pending == 0 && len(o.queue) == 0 {
		o.idle = make(chan struct{})
	}
	o.pending++
	o.qmu.Unlock()

	o.dispatch(ctx, text)
	return nil
}

// WaitIdle blocks until every submitted question has been answered or ctx
// is done.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	o.qmu.Lock()
	idle := o.idle
	o.qmu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether an answer is outstanding or questions are queued.
func (o *Orchestrator) Pending() bool {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	return o.pending > 0 || len(o.queue) > 0
}

// dispatch sends one question. Over the chat duplex it returns once the
// question is sent and the answer streams into the log; over HTTP it blocks
// until the answer arrives.
func (o *Orchestrator) dispatch(ctx context.Context, text string) {
	o.log.AddUser(text)
	start := o.now()

	if o.cfg.Query.Mode == config.QueryDuplex {
		err := o.sendChat(ctx, text, start)
		if err == nil {
			return
		}
		o.metrics.RecordFallback(ctx, transport.RouteDuplex)
		slog.Warn("query: realtime connection unavailable, falling back to HTTP", "err", err)
	}

	ctx, span := observe.StartSpan(ctx, "query")
	answer, err := o.http.Query(ctx, text)
	span.End()
	if err != nil {
		slog.Warn("query failed", "route", transport.RouteHTTP, "err", err)
		o.log.AddError(err)
	} else {
		o.log.AddAssistant(answer)
	}
	o.metrics.RecordQuery(ctx, transport.RouteHTTP, o.now().Sub(start), err)
	o.complete()
}

// sendChat sends text over the chat duplex, dialing it first if needed.
func (o *Orchestrator) sendChat(ctx context.Context, text string, start time.Time) error {
	cc, err := o.chatConnection(ctx)
	if err != nil {
		return err
	}

	// Register before sending so an answer that arrives immediately finds
	// its entry.
	e := &expectedAnswer{start: start}
	o.qmu.Lock()
	cc.waiting = append(cc.waiting, e)
	if d := o.cfg.Query.Timeout; d > 0 {
		e.timer = time.AfterFunc(d, func() { o.expire(cc, e, d) })
	}
	o.qmu.Unlock()

	if err := cc.dx.Send(ctx, transport.NewQueryMessage(text)); err != nil {
		o.qmu.Lock()
		_, ok := cc.remove(e)
		o.qmu.Unlock()
		if !ok {
			// The connection closed under us and the answer was already
			// recorded as an error.
			return nil
		}
		return err
	}
	return nil
}

// chatConnection returns the open chat duplex, dialing a new one without
// holding qmu so queries and WaitIdle are not blocked by the handshake.
func (o *Orchestrator) chatConnection(ctx context.Context) (*chatConn, error) {
	o.qmu.Lock()
	cc := o.chat
	o.qmu.Unlock()
	if cc != nil && cc.dx.Open() {
		return cc, nil
	}

	url, err := transport.RealtimeURL(o.cfg.Backend.URL)
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	dx, err := transport.Dial(dctx, url,
		transport.WithDialHTTPClient(o.dial),
		transport.WithHeader(observe.TraceHeader(ctx)),
	)
	cancel()
	if err != nil {
		return nil, err
	}

	o.qmu.Lock()
	if cur := o.chat; cur != nil && cur != cc && cur.dx.Open() {
		// A concurrent question dialed first.
		o.qmu.Unlock()
		_ = dx.Close(ctx)
		return cur, nil
	}
	cc = &chatConn{dx: dx}
	o.chat = cc
	o.qmu.Unlock()

	go o.readChat(cc)
	return cc, nil
}

// readChat folds events from cc into the log until the connection ends.
// Answers still expected when it ends become error turns.
func (o *Orchestrator) readChat(cc *chatConn) {
	for ev := range cc.dx.Events() {
		o.log.Apply(ev)
		switch ev.Type {
		case transport.EventTextDone:
			o.answered(cc, nil)
		case transport.EventError:
			o.answered(cc, errors.New(ev.Detail))
		}
	}

	for {
		o.qmu.Lock()
		waiting := len(cc.waiting) > 0
		o.qmu.Unlock()
		if !waiting {
			return
		}
		o.log.AddError(errors.New("connection closed before the answer was complete"))
		o.answered(cc, transport.ErrClosed)
	}
}

// answered records the end of the oldest answer expected on cc.
func (o *Orchestrator) answered(cc *chatConn, err error) {
	o.qmu.Lock()
	e, ok := cc.remove(nil)
	o.qmu.Unlock()
	if !ok {
		return
	}
	o.metrics.RecordQuery(o.ctx, transport.RouteDuplex, o.now().Sub(e.start), err)
	o.complete()
}

// expire gives up on e after d without an answer. The connection is
// retired so late events for e cannot be taken for the next answer; answers
// still expected on it end as connection errors.
func (o *Orchestrator) expire(cc *chatConn, e *expectedAnswer, d time.Duration) {
	o.qmu.Lock()
	_, ok := cc.remove(e)
	if ok && o.chat == cc {
		o.chat = nil
	}
	o.qmu.Unlock()
	if !ok {
		return
	}

	err := fmt.Errorf("%w within %s", ErrAnswerTimeout, d)
	slog.Warn("query: answer timed out", "route", transport.RouteDuplex, "timeout", d)
	o.log.AddError(err)
	o.metrics.RecordQuery(o.ctx, transport.RouteDuplex, o.now().Sub(e.start), err)
	o.complete()

	ctx, cancel := context.WithTimeout(o.ctx, dialTimeout)
	defer cancel()
	_ = cc.dx.Close(ctx)
}

// complete marks one answer as done and sends the next queued question.
func (o *Orchestrator) complete() {
	o.qmu.Lock()
	if o.pending == 0 {
		o.qmu.Unlock()
		return
	}
	o.pending--
	if o.pending > 0 {
		o.qmu.Unlock()
		return
	}
	if len(o.queue) == 0 {
		close(o.idle)
		o.qmu.Unlock()
		return
	}
	next := o.queue[0]
	o.queue = o.queue[1:]
	o.pending++
	o.qmu.Unlock()

	go o.dispatch(o.ctx, next)
}

// Close finishes any active session and closes the chat connection.
func (o *Orchestrator) Close(ctx context.Context) error {
	var errs []error
	if _, err := o.FinishSession(ctx); err != nil {
		errs = append(errs, err)
	}

	o.qmu.Lock()
	chat := o.chat
	o.qmu.Unlock()
	if chat != nil {
		if err := chat.dx.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	o.cancel()
	return errors.Join(errs...)
}
