// Package app wires the asrlink subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates the transcript store,
// the optional WAV dump and the session orchestrator, Run streams one
// recognition session next to the HTTP side server, and Shutdown tears
// everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithDialer, WithMetrics, ...). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/asrlink/internal/config"
	"github.com/MrWong99/asrlink/internal/health"
	"github.com/MrWong99/asrlink/internal/observe"
	"github.com/MrWong99/asrlink/internal/session"
	"github.com/MrWong99/asrlink/internal/transcript"
	"github.com/MrWong99/asrlink/internal/transcript/postgres"
	"github.com/MrWong99/asrlink/pkg/audio"
	"github.com/MrWong99/asrlink/pkg/audio/wavdump"
	"github.com/MrWong99/asrlink/pkg/protocol"
	"github.com/MrWong99/asrlink/pkg/transport"
)

// stopGrace is added to the configured stop timeout while Run waits for a
// stopped session to end.
const stopGrace = 5 * time.Second

// App owns all subsystem lifetimes of one asrlink process.
type App struct {
	cfg     *config.Config
	backend audio.Backend

	// Subsystems, initialised in New and torn down in Shutdown.
	store   transcript.Store
	orch    *session.Orchestrator
	metrics *observe.Metrics
	dump    *wavdump.Writer
	handler http.Handler

	// Injected options.
	dialer     transport.Dialer
	level      *slog.LevelVar
	hooks      session.Callbacks
	newCapture session.CaptureFactory

	// fatal is set when the current session lost the service for good.
	fatal atomic.Bool

	dumpFailed atomic.Bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of creating one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDialer replaces the WebSocket dialer of every session transport.
func WithDialer(d transport.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets configuration reloads change the log level through v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithCallbacks adds host callbacks that run after the app's own handling of
// each session event, e.g. to print recognised sentences.
func WithCallbacks(cb session.Callbacks) Option {
	return func(a *App) { a.hooks = cb }
}

// WithCaptureFactory replaces the capture built on the audio backend.
func WithCaptureFactory(f session.CaptureFactory) Option {
	return func(a *App) { a.newCapture = f }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App recording from backend. backend stays owned by the
// caller.
func New(ctx context.Context, cfg *config.Config, backend audio.Backend, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		backend: backend,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.newCapture == nil {
		if backend == nil {
			return nil, errors.New("app: audio backend is required")
		}
		a.newCapture = captureFactory(backend, cfg.Capture)
	}

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. WAV dump ──────────────────────────────────────────────────────
	if err := a.initDump(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init wav dump: %w", err)
	}

	// ── 3. Session orchestrator ──────────────────────────────────────────
	sopts := []session.Option{
		session.WithSettings(sessionSettings(cfg)),
		session.WithMetrics(a.metrics),
	}
	if a.dialer != nil {
		sopts = append(sopts, session.WithDialer(a.dialer))
	}
	if a.dump != nil {
		sopts = append(sopts, session.WithFrameTap(a.dumpFrame))
	}
	a.orch = session.New(a.newCapture, sopts...)

	// ── 4. HTTP side server handler ──────────────────────────────────────
	a.handler = a.buildHandler()

	slog.Info("app initialised",
		"endpoint", cfg.Service.Endpoint,
		"profile", cfg.Service.Profile,
		"backend", cfg.Capture.Backend,
		"persistent_store", cfg.Storage.PostgresDSN != "",
	)
	return a, nil
}

// initStore opens the PostgreSQL transcript store when a DSN is configured,
// or falls back to an in-memory store.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
	} else {
		a.store = transcript.NewMemStore()
	}
	store := a.store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) initDump() error {
	path := a.cfg.Capture.DumpWAV
	if path == "" {
		return nil
	}
	w, err := wavdump.Create(path, audio.Format{SampleRate: audio.SampleRate, Channels: audio.Channels})
	if err != nil {
		return err
	}
	a.dump = w
	a.closers = append(a.closers, w.Close)
	slog.Info("dumping captured audio", "path", path)
	return nil
}

// dumpFrame runs on the capture relay for every frame.
func (a *App) dumpFrame(sess *session.Session, f audio.AudioFrame) {
	if err := a.dump.WriteFrame(f); err != nil && !a.dumpFailed.Swap(true) {
		slog.Warn("wav dump write failed, further errors are not logged", "session_id", sess.ID(), "err", err)
	}
}

func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	health.New(
		health.Checker{Name: "session", Check: a.checkSession},
		health.Checker{Name: "store", Check: func(ctx context.Context) error { return a.store.Ping(ctx) }},
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) checkSession(context.Context) error {
	if a.fatal.Load() {
		return errors.New("recognition service unreachable, reconnect attempts exhausted")
	}
	return nil
}

// Session returns the live session, or nil.
func (a *App) Session() *session.Session {
	return a.orch.Current()
}

// Handler returns the side server's handler: /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler {
	return a.handler
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run streams one session for recordID next to the HTTP side server and
// blocks until the session ends. When ctx is cancelled first, Run asks the
// service to finish the session and waits for it.
//
// Run returns nil when the session ended normally (done, terminated or a
// stop timeout) and the session's error when the service could not be
// reached.
func (a *App) Run(ctx context.Context, recordID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return runCtx },
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return a.runSession(gctx, ctx, recordID)
	})

	return g.Wait()
}

// runSession starts the session and waits for it to end. gctx ends the wait
// early when a sibling fails; parent tells a user stop from such a failure.
func (a *App) runSession(gctx, parent context.Context, recordID string) error {
	sink := &recorderSink{store: a.store}
	ended := make(chan struct{})
	a.fatal.Store(false)

	sess, err := a.orch.Start(gctx, recordID, "", a.callbacks(sink, ended))
	if err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	select {
	case <-ended:
		return sess.Err()
	case <-gctx.Done():
	}

	if parent.Err() != nil {
		slog.Info("stopping session", "session_id", sess.ID())
	} else {
		slog.Warn("side server failed, stopping session", "session_id", sess.ID())
	}
	wait := a.cfg.Transport.StopTimeout
	if wait <= 0 {
		wait = config.DefaultStopTimeout
	}
	stopCtx, done := context.WithTimeout(context.Background(), wait+stopGrace)
	defer done()
	if err := a.orch.Stop(stopCtx, nil); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
		return fmt.Errorf("app: stop session: %w", err)
	}
	select {
	case <-ended:
	case <-stopCtx.Done():
		return fmt.Errorf("app: session %s did not end: %w", sess.ID(), stopCtx.Err())
	}
	if err := sess.Err(); err != nil && !errors.Is(err, session.ErrStopTimeout) {
		return err
	}
	return nil
}

// callbacks persists session results through sink and then forwards every
// event to the host hooks.
func (a *App) callbacks(sink *recorderSink, ended chan<- struct{}) session.Callbacks {
	hooks := a.hooks
	return session.Callbacks{
		OnStarted: func(s *session.Session) {
			sink.open(s)
			slog.Info("session streaming", "session_id", s.ID(), "record_id", s.RecordID(), "device", s.Device().Label)
			if hooks.OnStarted != nil {
				hooks.OnStarted(s)
			}
		},
		OnRecognized: func(s protocol.Sentence) {
			sink.sentence(s)
			if hooks.OnRecognized != nil {
				hooks.OnRecognized(s)
			}
		},
		OnTips: func(tips []string) {
			sink.tips(tips)
			if hooks.OnTips != nil {
				hooks.OnTips(tips)
			}
		},
		OnMedicalRecord: func(fields map[string]string) {
			sink.medicalRecord(fields)
			if hooks.OnMedicalRecord != nil {
				hooks.OnMedicalRecord(fields)
			}
		},
		OnTerminated: func(reason string) {
			slog.Info("session terminated by service", "reason", reason)
			if hooks.OnTerminated != nil {
				hooks.OnTerminated(reason)
			}
		},
		OnError: func(err error) {
			if errors.Is(err, transport.ErrReconnectExhausted) {
				a.fatal.Store(true)
			}
			if hooks.OnError != nil {
				hooks.OnError(err)
			}
		},
		OnEnded: func(s *session.Session) {
			sink.close()
			if hooks.OnEnded != nil {
				hooks.OnEnded(s)
			}
			close(ended)
		},
	}
}

// recorderSink creates the session's [transcript.Recorder] once the session
// ID is known. All methods run on the orchestrator's callback goroutine;
// results arriving before the transport opened are not possible.
type recorderSink struct {
	store transcript.Store
	rec   *transcript.Recorder
}

func (r *recorderSink) open(s *session.Session) {
	if r.rec == nil {
		r.rec = transcript.NewRecorder(r.store, transcript.Key{RecordID: s.RecordID(), SessionID: s.ID()})
	}
}

func (r *recorderSink) sentence(s protocol.Sentence) {
	if r.rec != nil {
		r.rec.Sentence(s)
	}
}

func (r *recorderSink) tips(tips []string) {
	if r.rec != nil {
		r.rec.Tips(tips)
	}
}

func (r *recorderSink) medicalRecord(fields map[string]string) {
	if r.rec != nil {
		r.rec.MedicalRecord(fields)
	}
}

func (r *recorderSink) close() {
	if r.rec != nil {
		r.rec.Close()
	}
}

// ─── Configuration reload ────────────────────────────────────────────────────

// ApplyConfig applies a reloaded configuration. It has the signature of
// [config.ChangeFunc]. The log level changes at once; session settings apply
// to the next session; everything else needs a restart.
func (a *App) ApplyConfig(old, new *config.Config, d config.Diff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(new.Server.LogLevel.SlogLevel())
		slog.Info("log level changed", "level", new.Server.LogLevel)
	}

	if d.SessionChanged() {
		var factory session.CaptureFactory
		if d.CaptureChanged && a.backend != nil {
			if new.Capture.Backend != old.Capture.Backend {
				slog.Warn("capture.backend changes require a restart", "running", old.Capture.Backend)
			}
			factory = captureFactory(a.backend, new.Capture)
		}
		if err := a.orch.Configure(sessionSettings(new), factory); err != nil {
			slog.Warn("could not apply session settings", "err", err)
		} else {
			slog.Info("session settings updated; they apply to the next session",
				"endpoint_changed", d.EndpointChanged,
				"profile_changed", d.ProfileChanged,
				"capture_changed", d.CaptureChanged,
				"transport_changed", d.TransportChanged,
			)
		}
	}

	if d.RestartRequired() {
		slog.Warn("configuration changes require a restart",
			"logging_output", d.LoggingOutputChanged,
			"listen_addr", d.ListenAddrChanged,
			"storage", d.StorageChanged,
			"telemetry", d.TelemetryChanged,
		)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends any live session and tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.orch.Close(); err != nil && !errors.Is(err, session.ErrClosed) {
			slog.Warn("orchestrator close error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// captureFactory builds captures on backend with the capture settings of cfg.
func captureFactory(backend audio.Backend, cfg config.CaptureConfig) session.CaptureFactory {
	return func(h audio.Handler) session.Capturer {
		return audio.NewCapture(backend,
			audio.WithHandler(h),
			audio.WithPreferredDevice(cfg.Device),
			audio.WithQueueSize(cfg.QueueSize),
			audio.WithFramesPerBuffer(cfg.FramesPerBuffer),
		)
	}
}

// sessionSettings converts the service and transport sections of cfg.
func sessionSettings(cfg *config.Config) session.Settings {
	attempts := cfg.Transport.Attempts()
	return session.Settings{
		Endpoint:          cfg.Service.Endpoint,
		Profile:           cfg.Service.Profile,
		ReconnectAttempts: &attempts,
		ReconnectInterval: cfg.Transport.ReconnectInterval,
		DialTimeout:       cfg.Transport.DialTimeout,
		WriteTimeout:      cfg.Transport.WriteTimeout,
		StopTimeout:       cfg.Transport.StopTimeout,
	}
}
