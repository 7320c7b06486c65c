// Package transport provides a reconnecting message connection to the speech
// recognition service.
//
// A [Transport] owns exactly one logical connection. While it is active, an
// unexpected close (peer close, network error, failed dial) schedules a new
// dial after a fixed interval, up to a bounded number of consecutive attempts.
// [Transport.Disconnect] clears the active flag before closing the socket, so
// the close that follows is reported as intentional and never reconnects.
//
// Every state change is reported to a single [Handler] as an [Event].
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default connection parameters.
const (
	defaultReconnectAttempts = 3
	defaultReconnectInterval = 400 * time.Millisecond
	defaultDialTimeout       = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second

	closeReason = "client disconnect"
)

// Sentinel errors.
var (
	// ErrNotOpen is returned by [Transport.Send] when no connection is open.
	// Payloads are never queued.
	ErrNotOpen = errors.New("transport: connection not open")

	// ErrReconnectExhausted is carried by the EventExhausted event.
	ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")

	// ErrPeerClosed is returned by [Conn.Read] when the remote end closed the
	// connection.
	ErrPeerClosed = errors.New("transport: closed by peer")
)

// Conn is one established message connection.
type Conn interface {
	// Read blocks until the next message arrives or the connection fails.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text message.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection normally with the given reason.
	Close(reason string) error
}

// Dialer opens a [Conn] to a URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// State is the lifecycle state of a [Transport].
type State int

const (
	// StateIdle means Connect has never been called.
	StateIdle State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateOpen means a connection is established and Send is accepted.
	StateOpen

	// StateClosedClean means the connection was closed by Disconnect.
	StateClosedClean

	// StateClosedForReconnect means the connection was lost and a reconnect
	// is scheduled.
	StateClosedForReconnect

	// StateExhausted means every reconnect attempt failed. The transport
	// stays inactive until Connect is called again.
	StateExhausted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedClean:
		return "closed-clean"
	case StateClosedForReconnect:
		return "closed-for-reconnect"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind classifies transport events.
type EventKind int

const (
	// EventOpen is emitted when a connection is established.
	EventOpen EventKind = iota

	// EventClose is emitted when a connection (or a dial) ends. Intentional
	// is true when the close follows Disconnect.
	EventClose

	// EventError reports a transport-level failure. It does not change the
	// state on its own; the EventClose that follows decides what happens.
	EventError

	// EventMessage carries one inbound message.
	EventMessage

	// EventReconnecting is emitted when a reconnect is scheduled. Attempt is
	// 1-based.
	EventReconnecting

	// EventExhausted is emitted once the reconnect budget is spent.
	EventExhausted
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventReconnecting:
		return "reconnecting"
	case EventExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one transport notification.
type Event struct {
	Kind EventKind

	// Intentional is set on EventClose.
	Intentional bool

	// Attempt is set on EventReconnecting.
	Attempt int

	// Data is set on EventMessage.
	Data []byte

	// Err is set on EventError and EventExhausted, and on EventClose when
	// the close was caused by a failure.
	Err error
}

// Handler receives every [Event] of a [Transport]. Events of one connection
// attempt are delivered in order from a single goroutine. While the handler
// runs, no further message is read from the connection.
type Handler func(Event)

// Option configures a [Transport].
type Option func(*Transport)

// WithDialer sets the dialer. Defaults to [WebSocketDialer].
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithHandler sets the event handler.
func WithHandler(h Handler) Option {
	return func(t *Transport) { t.handler = h }
}

// WithReconnect sets the maximum number of consecutive reconnect attempts and
// the fixed delay before each. attempts may be zero to disable reconnection.
func WithReconnect(attempts int, interval time.Duration) Option {
	return func(t *Transport) {
		if attempts >= 0 {
			t.maxAttempts = attempts
		}
		if interval > 0 {
			t.interval = interval
		}
	}
}

// WithDialTimeout bounds each dial.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each Send.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.writeTimeout = d
		}
	}
}

// Transport is a reconnecting connection to one URL.
//
// All methods are safe for concurrent use.
type Transport struct {
	url          string
	dialer       Dialer
	handler      Handler
	maxAttempts  int
	interval     time.Duration
	dialTimeout  time.Duration
	writeTimeout time.Duration

	mu       sync.Mutex
	state    State
	active   bool
	attempts int
	gen      uint64 // incremented per dial; stale goroutines compare against it
	conn     Conn
	timer    *time.Timer
	cancel   context.CancelFunc
	dialing  chan struct{} // closed once the current dial has been settled
}

// New returns an idle Transport for url. Call Connect to open it.
func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url:          url,
		dialer:       WebSocketDialer{},
		maxAttempts:  defaultReconnectAttempts,
		interval:     defaultReconnectInterval,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// URL returns the URL the transport dials.
func (t *Transport) URL() string { return t.url }

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns the number of reconnect attempts since the last successful
// open.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Connect marks the transport active and starts dialing in the background.
// It is a no-op while the transport is already active.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	t.active = true
	t.attempts = 0
	gen, ctx, dialed := t.beginAttemptLocked()
	t.mu.Unlock()

	slog.Info("transport: connecting", "url", t.url)
	go t.run(ctx, gen, dialed)
}

// Disconnect marks the transport inactive, cancels any pending reconnect, and
// closes the connection. A dial in flight is cancelled and Disconnect waits
// for it to return; a connection it established anyway is closed before
// Disconnect returns. The EventClose that follows (if a connection or dial
// was in flight) has Intentional set. Disconnect is idempotent.
//
// The wait is bounded by the dial timeout, so Dialer implementations must
// honour context cancellation.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	conn, cancel, dialing := t.conn, t.cancel, t.dialing
	t.cancel = nil
	if conn == nil && t.state == StateClosedForReconnect {
		t.state = StateClosedClean
	}
	t.mu.Unlock()

	var err error
	if conn != nil {
		if cerr := conn.Close(closeReason); cerr != nil {
			err = fmt.Errorf("transport: close: %w", cerr)
		}
	}
	if cancel != nil {
		cancel()
	}
	if dialing != nil {
		<-dialing
	}
	return err
}

// Send writes one message. It returns [ErrNotOpen] unless the transport is
// open; nothing is buffered for later delivery.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn, state := t.conn, t.state
	t.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotOpen
	}

	wctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, data); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// beginAttemptLocked starts a new connection generation. t.mu must be held.
func (t *Transport) beginAttemptLocked() (uint64, context.Context, chan struct{}) {
	t.gen++
	t.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.dialing = make(chan struct{})
	return t.gen, ctx, t.dialing
}

// current reports whether gen is the live generation and the transport is
// still active.
func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active && t.gen == gen
}

// run dials, then reads until the connection ends. dialed is closed once the
// dial result is either installed or discarded.
func (t *Transport) run(ctx context.Context, gen uint64, dialed chan struct{}) {
	dctx, dcancel := context.WithTimeout(ctx, t.dialTimeout)
	conn, err := t.dialer.Dial(dctx, t.url)
	dcancel()
	if err != nil {
		close(dialed)
		err = fmt.Errorf("transport: dial: %w", err)
		if t.current(gen) {
			slog.Warn("transport: dial failed", "url", t.url, "err", err)
			t.emit(Event{Kind: EventError, Err: err})
		}
		t.closed(gen, err)
		return
	}

	t.mu.Lock()
	if !t.active || t.gen != gen {
		t.mu.Unlock()
		_ = conn.Close(closeReason)
		close(dialed)
		t.closed(gen, nil)
		return
	}
	t.conn = conn
	t.state = StateOpen
	t.attempts = 0
	t.mu.Unlock()
	close(dialed)

	slog.Info("transport: connected", "url", t.url)
	t.emit(Event{Kind: EventOpen})

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			t.readFailed(gen, err)
			return
		}
		t.emit(Event{Kind: EventMessage, Data: data})
	}
}

func (t *Transport) readFailed(gen uint64, err error) {
	if !t.current(gen) {
		t.closed(gen, nil)
		return
	}
	if errors.Is(err, ErrPeerClosed) {
		slog.Info("transport: connection closed by peer", "err", err)
	} else {
		err = fmt.Errorf("transport: read: %w", err)
		slog.Warn("transport: connection lost", "err", err)
		t.emit(Event{Kind: EventError, Err: err})
	}
	t.closed(gen, err)
}

// closed classifies the end of generation gen. An inactive transport closes
// cleanly; an active one schedules a reconnect or gives up.
func (t *Transport) closed(gen uint64, cause error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.conn = nil

	if !t.active {
		t.state = StateClosedClean
		t.mu.Unlock()
		slog.Info("transport: closed", "url", t.url)
		t.emit(Event{Kind: EventClose, Intentional: true})
		return
	}

	if t.attempts >= t.maxAttempts {
		t.state = StateExhausted
		t.active = false
		attempts := t.attempts
		t.mu.Unlock()
		slog.Error("transport: giving up", "url", t.url, "attempts", attempts)
		t.emit(Event{Kind: EventClose, Err: cause})
		t.emit(Event{Kind: EventExhausted, Err: ErrReconnectExhausted})
		return
	}

	t.attempts++
	attempt := t.attempts
	t.state = StateClosedForReconnect
	t.mu.Unlock()

	slog.Info("transport: reconnect scheduled",
		"url", t.url,
		"attempt", attempt,
		"max_attempts", t.maxAttempts,
		"interval", t.interval,
	)
	t.emit(Event{Kind: EventClose, Err: cause})
	t.emit(Event{Kind: EventReconnecting, Attempt: attempt})

	t.mu.Lock()
	if t.active && t.gen == gen {
		t.timer = time.AfterFunc(t.interval, func() { t.reconnect(gen) })
	}
	t.mu.Unlock()
}

// reconnect starts the next generation unless Disconnect or a newer Connect
// superseded gen.
func (t *Transport) reconnect(prev uint64) {
	t.mu.Lock()
	if !t.active || t.gen != prev {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	gen, ctx, dialed := t.beginAttemptLocked()
	t.mu.Unlock()

	t.run(ctx, gen, dialed)
}

func (t *Transport) emit(ev Event) {
	if t.handler != nil {
		t.handler(ev)
	}
}
