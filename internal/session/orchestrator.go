package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/asrlink/internal/observe"
	"github.com/MrWong99/asrlink/pkg/audio"
	"github.com/MrWong99/asrlink/pkg/protocol"
	"github.com/MrWong99/asrlink/pkg/transport"
)

// Capturer is the microphone capture used by the orchestrator.
// [*audio.Capture] implements it.
type Capturer interface {
	Start(ctx context.Context) error
	Stop() error
	Device() (audio.Device, bool)
}

// CaptureFactory builds the [Capturer] that reports its events to h.
type CaptureFactory func(h audio.Handler) Capturer

// Settings are the per-session parameters. Zero durations and a nil
// ReconnectAttempts fall back to the transport defaults.
type Settings struct {
	// Endpoint is used when Start is called without one.
	Endpoint string

	Profile protocol.Profile

	ReconnectAttempts *int
	ReconnectInterval time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration

	// StopTimeout bounds the wait for done after a stop request.
	StopTimeout time.Duration
}

const defaultStopTimeout = 15 * time.Second

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithSettings sets the initial session settings.
func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

// WithDialer sets the transport dialer. Defaults to
// [transport.WebSocketDialer].
func WithDialer(d transport.Dialer) Option {
	return func(o *Orchestrator) { o.dialer = d }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithFrameTap registers fn to observe every captured frame before it is
// sent, whether or not the transport is open. fn runs on the capture relay
// goroutine and must return quickly.
func WithFrameTap(fn func(*Session, audio.AudioFrame)) Option {
	return func(o *Orchestrator) { o.tap = fn }
}

// Orchestrator owns at most one [Session] and the capture it records from.
//
// All methods are safe for concurrent use. Callbacks may call Start and Stop
// but not Close.
type Orchestrator struct {
	dialer  transport.Dialer
	metrics *observe.Metrics
	tap     func(*Session, audio.AudioFrame)

	jobs      chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	notify    *dispatcher

	// active is read by the capture relay; written only on the loop.
	active atomic.Pointer[Session]

	// Owned by the loop.
	settings       Settings
	capture        Capturer
	pendingCapture CaptureFactory
	cur            *Session
}

// New starts an orchestrator recording through the capture built by
// newCapture.
func New(newCapture CaptureFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dialer:   transport.WebSocketDialer{},
		jobs:     make(chan func()),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		notify:   newDispatcher(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.settings.Profile == "" {
		o.settings.Profile = protocol.ProfileBasic
	}
	o.capture = newCapture(o.onCapture)
	go o.loop()
	return o
}

func (o *Orchestrator) loop() {
	defer close(o.loopDone)
	for {
		select {
		case job := <-o.jobs:
			job()
		case <-o.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(fn func()) error {
	done := make(chan struct{})
	select {
	case o.jobs <- func() { fn(); close(done) }:
	case <-o.quit:
		return ErrClosed
	}
	<-done
	return nil
}

// post queues fn on the loop without waiting. It is dropped after Close.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.jobs <- fn:
	case <-o.quit:
	}
}

// Configure replaces the settings used by the next Start. A non-nil
// newCapture replaces the capture once no session is active. The running
// session is not affected.
func (o *Orchestrator) Configure(s Settings, newCapture CaptureFactory) error {
	return o.do(func() {
		if s.Profile == "" {
			s.Profile = protocol.ProfileBasic
		}
		o.settings = s
		if newCapture != nil {
			o.pendingCapture = newCapture
			if o.cur == nil {
				o.swapCapture()
			}
		}
	})
}

// Current returns the live session, or nil.
func (o *Orchestrator) Current() *Session {
	return o.active.Load()
}

// Start begins a session for recordID. endpoint may be empty to use the
// configured one. Any previous session is torn down first, its transport
// before its capture.
//
// Start returns once capture is running and the first connection attempt
// has begun; cb.OnStarted runs when the transport opens. On failure nothing
// stays acquired.
func (o *Orchestrator) Start(ctx context.Context, recordID, endpoint string, cb Callbacks) (*Session, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, ErrMissingRecordID
	}

	var (
		sess *Session
		err  error
	)
	if derr := o.do(func() { sess, err = o.start(ctx, recordID, strings.TrimSpace(endpoint), cb) }); derr != nil {
		return nil, derr
	}
	return sess, err
}

func (o *Orchestrator) start(ctx context.Context, recordID, endpoint string, cb Callbacks) (*Session, error) {
	if endpoint == "" {
		endpoint = strings.TrimSpace(o.settings.Endpoint)
	}
	if endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	// A bad endpoint must not disturb the live session or open the microphone.
	if _, err := protocol.ParseEndpoint(endpoint); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	if prev := o.cur; prev != nil {
		slog.Info("session: replacing active session", "session_id", prev.id, "record_id", prev.recordID)
		o.teardown(prev, StateIdle, ErrReplaced, "replaced")
	}
	if o.pendingCapture != nil {
		o.swapCapture()
	}

	sess := &Session{
		id:        uuid.NewString(),
		recordID:  recordID,
		endpoint:  endpoint,
		profile:   o.settings.Profile,
		callbacks: cb,
		state:     StateStarting,
		done:      make(chan struct{}),
	}
	ctx, span := observe.StartSpan(ctx, "session.start", observe.SessionAttrs(sess.id, recordID))
	defer span.End()
	log := observe.Logger(ctx).With("session_id", sess.id, "record_id", recordID)

	begin := time.Now()
	if err := o.capture.Start(ctx); err != nil {
		observe.FailSpan(span, err, "capture start failed")
		return nil, fmt.Errorf("session: start capture: %w", err)
	}
	o.metrics.CaptureStartDuration.Record(ctx, time.Since(begin).Seconds())
	sess.startedAt = time.Now()

	dev, _ := o.capture.Device()
	sess.device = dev
	url, err := protocol.BuildURL(endpoint, recordID, dev.Label, sess.profile)
	if err != nil {
		if serr := o.capture.Stop(); serr != nil {
			log.Warn("session: stop capture after invalid endpoint", "err", serr)
		}
		observe.FailSpan(span, err, "invalid endpoint")
		return nil, fmt.Errorf("session: %w", err)
	}
	sess.url = url

	topts := []transport.Option{
		transport.WithDialer(o.dialer),
		transport.WithHandler(func(ev transport.Event) {
			o.post(func() { o.onTransport(sess, ev) })
		}),
		transport.WithDialTimeout(o.settings.DialTimeout),
		transport.WithWriteTimeout(o.settings.WriteTimeout),
	}
	if o.settings.ReconnectAttempts != nil || o.settings.ReconnectInterval > 0 {
		attempts := -1
		if o.settings.ReconnectAttempts != nil {
			attempts = *o.settings.ReconnectAttempts
		}
		topts = append(topts, transport.WithReconnect(attempts, o.settings.ReconnectInterval))
	}
	sess.tr = transport.New(url, topts...)

	o.cur = sess
	o.active.Store(sess)
	o.metrics.ActiveSessions.Add(ctx, 1)
	sess.tr.Connect()

	log.Info("session: started", "device", dev.Label, "profile", sess.profile, "url", url)
	return sess, nil
}

// Stop stops capture and asks the service to finish the session. onStopped,
// which may be nil, runs once the session has ended: after the done event,
// after the stop timeout, or immediately if no connection is open. Stop
// returns [ErrNoActiveSession] unless a session is starting or recording.
func (o *Orchestrator) Stop(ctx context.Context, onStopped func()) error {
	var err error
	if derr := o.do(func() { err = o.stop(ctx, onStopped) }); derr != nil {
		return derr
	}
	return err
}

func (o *Orchestrator) stop(ctx context.Context, onStopped func()) error {
	sess := o.cur
	if sess == nil {
		return ErrNoActiveSession
	}
	if st := sess.State(); st != StateStarting && st != StateRecording {
		return ErrNoActiveSession
	}

	ctx, span := observe.StartSpan(ctx, "session.stop", observe.SessionAttrs(sess.id, sess.recordID))
	defer span.End()
	log := observe.Logger(ctx).With("session_id", sess.id, "record_id", sess.recordID)

	if err := o.capture.Stop(); err != nil {
		observe.FailSpan(span, err, "capture release failed")
		log.Warn("session: stop capture", "err", err)
	}
	sess.setState(StateStopping)
	sess.onStopped = onStopped

	stopMsg, _ := protocol.EncodeStop()
	if err := sess.tr.Send(ctx, stopMsg); err != nil {
		log.Info("session: stop request not delivered, ending locally", "err", err)
		o.teardown(sess, StateIdle, nil, "stopped")
		return nil
	}

	timeout := o.settings.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	sess.stopTimer = time.AfterFunc(timeout, func() {
		o.post(func() {
			if o.cur != sess || sess.State() != StateStopping {
				return
			}
			slog.Warn("session: done not received before timeout",
				"session_id", sess.id, "timeout", timeout)
			o.teardown(sess, StateIdle, ErrStopTimeout, "timeout")
		})
	})
	log.Info("session: stop requested")
	return nil
}

// Close ends the current session with [ErrClosed] and stops the
// orchestrator. Pending callbacks run before Close returns.
func (o *Orchestrator) Close() error {
	err := ErrClosed
	o.closeOnce.Do(func() {
		err = o.do(func() {
			if o.cur != nil {
				o.teardown(o.cur, StateIdle, ErrClosed, "closed")
			}
		})
		close(o.quit)
		<-o.loopDone
		o.notify.close()
	})
	return err
}

// onCapture receives capture events. Chunks arrive on the capture relay
// goroutine and are sent directly; nothing here may wait on the loop.
func (o *Orchestrator) onCapture(ev audio.Event) {
	switch ev.Kind {
	case audio.EventChunk:
		sess := o.active.Load()
		if sess == nil {
			return
		}
		if o.tap != nil {
			o.tap(sess, ev.Frame)
		}
		o.forward(sess, ev.Frame)
	case audio.EventStarted:
		slog.Debug("session: capture started", "device", ev.Device.Label)
	case audio.EventStopped:
		if ev.Err != nil {
			slog.Warn("session: capture released with errors", "err", ev.Err)
		}
	}
}

func (o *Orchestrator) forward(sess *Session, f audio.AudioFrame) {
	ctx := context.Background()
	payload, err := protocol.EncodeRecording(f.Data)
	if err != nil {
		o.metrics.RecordDrop(ctx, observe.DropEncode, 1)
		slog.Warn("session: encode frame", "session_id", sess.id, "seq", f.Seq, "err", err)
		return
	}
	switch err := sess.tr.Send(ctx, payload); {
	case err == nil:
		o.metrics.ChunksSent.Add(ctx, 1)
	case errors.Is(err, transport.ErrNotOpen):
		o.metrics.RecordDrop(ctx, observe.DropNotOpen, 1)
	default:
		o.metrics.RecordDrop(ctx, observe.DropSendFailed, 1)
		slog.Debug("session: send frame", "session_id", sess.id, "seq", f.Seq, "err", err)
	}
}

// onTransport handles one transport event on the loop.
func (o *Orchestrator) onTransport(sess *Session, ev transport.Event) {
	if o.cur != sess || !sess.live() {
		return
	}
	ctx := context.Background()
	log := slog.With("session_id", sess.id, "record_id", sess.recordID)
	cb := sess.callbacks

	switch ev.Kind {
	case transport.EventOpen:
		if sess.State() == StateStarting {
			sess.setState(StateRecording)
			log.Info("session: recording")
			if cb.OnStarted != nil {
				o.notify.post(func() { cb.OnStarted(sess) })
			}
			return
		}
		log.Info("session: transport reconnected")

	case transport.EventMessage:
		o.onMessage(sess, ev.Data)

	case transport.EventError:
		o.metrics.TransportErrors.Add(ctx, 1)
		if cb.OnError != nil {
			err := ev.Err
			o.notify.post(func() { cb.OnError(err) })
		}

	case transport.EventReconnecting:
		o.metrics.TransportReconnects.Add(ctx, 1)
		log.Warn("session: connection lost, reconnecting", "attempt", ev.Attempt)

	case transport.EventExhausted:
		o.metrics.TransportExhausted.Add(ctx, 1)
		err := fmt.Errorf("session %s: %w", sess.id, ev.Err)
		log.Error("session: giving up on the service", "err", err)
		if cb.OnError != nil {
			o.notify.post(func() { cb.OnError(err) })
		}
		o.teardown(sess, StateIdle, err, "error")

	case transport.EventClose:
		log.Debug("session: transport closed", "intentional", ev.Intentional, "err", ev.Err)
	}
}

func (o *Orchestrator) onMessage(sess *Session, data []byte) {
	ctx := context.Background()
	log := slog.With("session_id", sess.id, "record_id", sess.recordID)
	cb := sess.callbacks

	msg, err := protocol.Decode(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownEvent):
		o.metrics.RecordProtocolEvent(ctx, "unknown")
		log.Debug("session: ignoring unknown event", "err", err)
		return
	case err != nil:
		o.metrics.RecordProtocolEvent(ctx, "malformed")
		log.Warn("session: ignoring malformed message", "err", err)
		return
	}
	o.metrics.RecordProtocolEvent(ctx, string(msg.Event()))

	if !sess.profile.Supports(msg.Event()) {
		log.Debug("session: event not used by profile", "event", msg.Event(), "profile", sess.profile)
		return
	}

	switch m := msg.(type) {
	case protocol.Recognized:
		if cb.OnRecognized != nil {
			o.notify.post(func() { cb.OnRecognized(m.Sentence) })
		}
	case protocol.Tips:
		if cb.OnTips != nil {
			o.notify.post(func() { cb.OnTips(m.Tips) })
		}
	case protocol.MedicalRecord:
		if cb.OnMedicalRecord != nil {
			o.notify.post(func() { cb.OnMedicalRecord(m.Record) })
		}
	case protocol.Terminated:
		log.Info("session: terminated by service", "reason", m.Reason)
		if cb.OnTerminated != nil {
			o.notify.post(func() { cb.OnTerminated(m.Reason) })
		}
		o.teardown(sess, StateTerminated, nil, "terminated")
	case protocol.Done:
		log.Info("session: done")
		o.teardown(sess, StateIdle, nil, "done")
	}
}

// teardown ends sess: the transport is closed before capture is released.
// A registered stop callback runs for every outcome except replacement and
// Close.
func (o *Orchestrator) teardown(sess *Session, final State, cause error, outcome string) {
	if !sess.live() {
		return
	}
	ctx := context.Background()
	if sess.stopTimer != nil {
		sess.stopTimer.Stop()
		sess.stopTimer = nil
	}
	if o.cur == sess {
		o.cur = nil
		o.active.Store(nil)
	}

	if err := sess.tr.Disconnect(); err != nil {
		slog.Warn("session: disconnect", "session_id", sess.id, "err", err)
	}
	if err := o.capture.Stop(); err != nil {
		slog.Warn("session: stop capture", "session_id", sess.id, "err", err)
	}
	o.recordOverrun(ctx)

	sess.end(final, cause)
	o.metrics.RecordSessionEnd(ctx, sess.startedAt, outcome)
	slog.Info("session: ended", "session_id", sess.id, "record_id", sess.recordID,
		"outcome", outcome, "duration", time.Since(sess.startedAt))

	if fn := sess.onStopped; fn != nil && !errors.Is(cause, ErrReplaced) && !errors.Is(cause, ErrClosed) {
		sess.onStopped = nil
		o.notify.post(fn)
	}
	if fn := sess.callbacks.OnEnded; fn != nil {
		o.notify.post(func() { fn(sess) })
	}
}

// recordOverrun reports the frames the session's capture dropped because
// the relay fell behind. Called once per session, before the next Start.
func (o *Orchestrator) recordOverrun(ctx context.Context) {
	if d, ok := o.capture.(interface{ Dropped() uint64 }); ok {
		if n := d.Dropped(); n > 0 {
			o.metrics.FramesOverrun.Add(ctx, int64(n))
		}
	}
}

func (o *Orchestrator) swapCapture() {
	if err := o.capture.Stop(); err != nil {
		slog.Warn("session: stop replaced capture", "err", err)
	}
	o.capture = o.pendingCapture(o.onCapture)
	o.pendingCapture = nil
	slog.Info("session: capture settings applied")
}
