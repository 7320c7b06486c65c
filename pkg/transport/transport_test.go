package transport_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/asrlink/pkg/transport"
	"github.com/MrWong99/asrlink/pkg/transport/mock"
)

// recorder collects transport events and lets tests wait for a kind.
type recorder struct {
	mu     sync.Mutex
	events []transport.Event
	ch     chan transport.Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan transport.Event, 128)}
}

func (r *recorder) handle(ev transport.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) wait(t *testing.T, kind transport.EventKind) transport.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v event", kind)
		}
	}
}

func (r *recorder) count(kind transport.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestTransport_OpenSendReceive(t *testing.T) {
	rec := newRecorder()
	d := &mock.Dialer{}
	tr := transport.New("ws://asr.test/ws", transport.WithDialer(d), transport.WithHandler(rec.handle))

	if tr.State() != transport.StateIdle {
		t.Fatalf("initial state = %v", tr.State())
	}
	if err := tr.Send(t.Context(), []byte("early")); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("Send before open: err = %v, want ErrNotOpen", err)
	}

	tr.Connect()
	rec.wait(t, transport.EventOpen)
	if tr.State() != transport.StateOpen {
		t.Fatalf("state = %v, want open", tr.State())
	}
	if d.Calls[0] != "ws://asr.test/ws" {
		t.Errorf("dialed %q", d.Calls[0])
	}

	if err := tr.Send(t.Context(), []byte(`{"event":"stop"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conn := d.LastConn()
	if w := conn.Written(); len(w) != 1 || string(w[0]) != `{"event":"stop"}` {
		t.Errorf("written = %q", w)
	}

	conn.Push([]byte(`{"event":"done"}`))
	ev := rec.wait(t, transport.EventMessage)
	if string(ev.Data) != `{"event":"done"}` {
		t.Errorf("message = %q", ev.Data)
	}

	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	closeEv := rec.wait(t, transport.EventClose)
	if !closeEv.Intentional {
		t.Error("close after Disconnect not intentional")
	}
	if tr.State() != transport.StateClosedClean {
		t.Errorf("state = %v, want closed-clean", tr.State())
	}
	if conn.CloseReason == "" {
		t.Error("close reason not sent")
	}
	if err := tr.Send(t.Context(), []byte("late")); !errors.Is(err, transport.ErrNotOpen) {
		t.Errorf("Send after Disconnect: err = %v, want ErrNotOpen", err)
	}
}

func TestTransport_ReconnectExhaustion(t *testing.T) {
	const interval = 40 * time.Millisecond
	rec := newRecorder()
	d := &mock.Dialer{Fail: true}
	tr := transport.New("ws://asr.test/ws",
		transport.WithDialer(d),
		transport.WithHandler(rec.handle),
		transport.WithReconnect(3, interval),
	)

	tr.Connect()
	ev := rec.wait(t, transport.EventExhausted)
	if !errors.Is(ev.Err, transport.ErrReconnectExhausted) {
		t.Errorf("exhausted err = %v", ev.Err)
	}

	if got := d.CallCount(); got != 4 {
		t.Errorf("dial calls = %d, want 4 (initial + 3 reconnects)", got)
	}
	if got := tr.Attempts(); got != 3 {
		t.Errorf("Attempts() = %d, want 3", got)
	}
	if tr.State() != transport.StateExhausted {
		t.Errorf("state = %v, want exhausted", tr.State())
	}

	times := d.DialTimes()
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < interval {
			t.Errorf("reconnect %d after %v, want ≥ %v", i, gap, interval)
		}
	}

	time.Sleep(3 * interval)
	if got := d.CallCount(); got != 4 {
		t.Errorf("dial calls after exhaustion = %d, want 4", got)
	}
	if got := rec.count(transport.EventReconnecting); got != 3 {
		t.Errorf("reconnecting events = %d, want 3", got)
	}
	if got := rec.count(transport.EventError); got != 4 {
		t.Errorf("error events = %d, want 4", got)
	}
}

func TestTransport_DisconnectBeforeCloseSuppressesReconnect(t *testing.T) {
	const interval = 20 * time.Millisecond
	rec := newRecorder()
	d := &mock.Dialer{}
	tr := transport.New("ws://asr.test/ws",
		transport.WithDialer(d),
		transport.WithHandler(rec.handle),
		transport.WithReconnect(5, interval),
	)
	tr.Connect()
	rec.wait(t, transport.EventOpen)

	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	// A peer close racing the local one must not reconnect either.
	d.LastConn().Drop(nil)
	rec.wait(t, transport.EventClose)

	time.Sleep(5 * interval)
	if got := d.CallCount(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	if got := tr.Attempts(); got != 0 {
		t.Errorf("Attempts() = %d, want 0", got)
	}
	if got := rec.count(transport.EventReconnecting); got != 0 {
		t.Errorf("reconnecting events = %d, want 0", got)
	}
}

func TestTransport_PeerCloseReconnectsAndResetsAttempts(t *testing.T) {
	rec := newRecorder()
	d := &mock.Dialer{}
	tr := transport.New("ws://asr.test/ws",
		transport.WithDialer(d),
		transport.WithHandler(rec.handle),
		transport.WithReconnect(3, 10*time.Millisecond),
	)
	tr.Connect()
	defer tr.Disconnect()
	rec.wait(t, transport.EventOpen)

	d.LastConn().Drop(nil)
	closeEv := rec.wait(t, transport.EventClose)
	if closeEv.Intentional {
		t.Error("peer close reported as intentional")
	}
	if ev := rec.wait(t, transport.EventReconnecting); ev.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", ev.Attempt)
	}
	rec.wait(t, transport.EventOpen)
	if got := tr.Attempts(); got != 0 {
		t.Errorf("Attempts() after reopen = %d, want 0", got)
	}
	if got := d.CallCount(); got != 2 {
		t.Errorf("dial calls = %d, want 2", got)
	}
	if rec.count(transport.EventError) != 0 {
		t.Error("peer close reported as error")
	}
}

func TestTransport_DisconnectCancelsPendingReconnect(t *testing.T) {
	const interval = 100 * time.Millisecond
	rec := newRecorder()
	d := &mock.Dialer{}
	tr := transport.New("ws://asr.test/ws",
		transport.WithDialer(d),
		transport.WithHandler(rec.handle),
		transport.WithReconnect(3, interval),
	)
	tr.Connect()
	rec.wait(t, transport.EventOpen)

	d.LastConn().Drop(errors.New("connection reset"))
	rec.wait(t, transport.EventReconnecting)
	if tr.State() != transport.StateClosedForReconnect {
		t.Errorf("state = %v, want closed-for-reconnect", tr.State())
	}

	tr.Disconnect()
	time.Sleep(2 * interval)
	if got := d.CallCount(); got != 1 {
		t.Errorf("dial calls = %d, want 1 (timer must not fire)", got)
	}
	if tr.State() != transport.StateClosedClean {
		t.Errorf("state = %v, want closed-clean", tr.State())
	}
}

func TestTransport_DisconnectDuringDial(t *testing.T) {
	rec := newRecorder()
	d := &mock.Dialer{Block: true}
	tr := transport.New("ws://asr.test/ws", transport.WithDialer(d), transport.WithHandler(rec.handle))
	tr.Connect()

	deadline := time.Now().Add(2 * time.Second)
	for d.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	tr.Disconnect()

	ev := rec.wait(t, transport.EventClose)
	if !ev.Intentional {
		t.Error("close after Disconnect during dial not intentional")
	}
	if rec.count(transport.EventError) != 0 {
		t.Error("cancelled dial reported as error")
	}
	if tr.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", tr.Attempts())
	}
}

// lateDialer completes the handshake after its context was cancelled, like a
// dialer that cannot abort a handshake already on the wire.
type lateDialer struct {
	started chan struct{}
	conn    *mock.Conn
}

func (d *lateDialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	close(d.started)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	return d.conn, nil
}

func TestTransport_DisconnectClosesLateDial(t *testing.T) {
	rec := newRecorder()
	d := &lateDialer{started: make(chan struct{}), conn: mock.NewConn()}
	tr := transport.New("ws://asr.test/ws", transport.WithDialer(d), transport.WithHandler(rec.handle))
	tr.Connect()

	select {
	case <-d.started:
	case <-time.After(2 * time.Second):
		t.Fatal("dial not started")
	}
	tr.Disconnect()

	if !d.conn.Closed() {
		t.Error("connection from a late dial still open after Disconnect returned")
	}
	ev := rec.wait(t, transport.EventClose)
	if !ev.Intentional {
		t.Error("close after late dial not intentional")
	}
	if rec.count(transport.EventOpen) != 0 {
		t.Error("late dial reported as open")
	}
	if tr.State() != transport.StateClosedClean {
		t.Errorf("state = %v, want closed-clean", tr.State())
	}
}

func TestTransport_ZeroAttempts(t *testing.T) {
	rec := newRecorder()
	d := &mock.Dialer{Fail: true}
	tr := transport.New("ws://asr.test/ws",
		transport.WithDialer(d),
		transport.WithHandler(rec.handle),
		transport.WithReconnect(0, 0),
	)
	tr.Connect()
	rec.wait(t, transport.EventExhausted)
	if d.CallCount() != 1 {
		t.Errorf("dial calls = %d, want 1", d.CallCount())
	}
}

func TestTransport_ConnectAfterExhaustion(t *testing.T) {
	rec := newRecorder()
	d := &mock.Dialer{Fail: true}
	tr := transport.New("ws://asr.test/ws",
		transport.WithDialer(d),
		transport.WithHandler(rec.handle),
		transport.WithReconnect(1, 5*time.Millisecond),
	)
	tr.Connect()
	rec.wait(t, transport.EventExhausted)

	d.SetFail(false)
	tr.Connect()
	defer tr.Disconnect()
	rec.wait(t, transport.EventOpen)
	if tr.State() != transport.StateOpen {
		t.Errorf("state = %v, want open", tr.State())
	}
}

func TestStateString(t *testing.T) {
	if transport.StateClosedForReconnect.String() != "closed-for-reconnect" {
		t.Errorf("got %q", transport.StateClosedForReconnect.String())
	}
	if transport.EventExhausted.String() != "exhausted" {
		t.Errorf("got %q", transport.EventExhausted.String())
	}
}
