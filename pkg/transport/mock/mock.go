// Package mock provides in-memory implementations of [transport.Dialer] and
// [transport.Conn] for unit tests.
//
// A [Conn] behaves like the client side of a socket: tests push server
// messages with [Conn.Push], simulate a server-side close with [Conn.Drop],
// and inspect what the client wrote with [Conn.Written].
package mock

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/MrWong99/asrlink/pkg/transport"
)

// Compile-time interface assertions.
var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock connection. All methods are safe for concurrent use.
type Conn struct {
	inbox chan []byte

	mu         sync.Mutex
	written    [][]byte
	closed     chan struct{}
	closeErr   error
	closeOnce  sync.Once
	WriteError error

	// CloseReason is the reason passed to the first Close call.
	CloseReason string

	// CallCountClose records Close invocations.
	CallCountClose int
}

// NewConn returns an open connection.
func NewConn() *Conn {
	return &Conn{
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Read implements [transport.Conn]. Pushed messages are returned before a
// close is reported.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.inbox:
		return b, nil
	default:
	}
	select {
	case b := <-c.inbox:
		return b, nil
	case <-c.closed:
		return nil, c.closeError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements [transport.Conn].
func (c *Conn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if c.WriteError != nil {
		return c.WriteError
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

// Close implements [transport.Conn].
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	c.CallCountClose++
	if c.CallCountClose == 1 {
		c.CloseReason = reason
	}
	c.mu.Unlock()
	c.shut(net.ErrClosed)
	return nil
}

// Push queues a server message for Read.
func (c *Conn) Push(data []byte) {
	c.inbox <- data
}

// Drop simulates the server closing the connection. A nil err reports a
// normal peer close.
func (c *Conn) Drop(err error) {
	if err == nil {
		err = transport.ErrPeerClosed
	}
	c.shut(err)
}

// Closed reports whether the connection has been closed by either side.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Written returns a copy of every message written so far.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

func (c *Conn) shut(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *Conn) closeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// ErrDial is the default error returned by a failing [Dialer].
var ErrDial = errors.New("mock: dial refused")

// Dialer is a mock implementation of [transport.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Fail makes every Dial return Err (or [ErrDial] if Err is nil).
	Fail bool
	Err  error

	// Block makes Dial wait until its context is done.
	Block bool

	// Calls records the URL of every Dial call, in order.
	Calls []string

	// Times records when each Dial call was made.
	Times []time.Time

	// Conns holds every connection returned by Dial, in order.
	Conns []*Conn

	dialed chan *Conn
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, url)
	d.Times = append(d.Times, time.Now())
	fail, block, err := d.Fail, d.Block, d.Err
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		if err == nil {
			err = ErrDial
		}
		return nil, err
	}

	c := NewConn()
	d.mu.Lock()
	d.Conns = append(d.Conns, c)
	ch := d.dialedLocked()
	d.mu.Unlock()
	select {
	case ch <- c:
	default:
	}
	return c, nil
}

// SetFail changes Fail under the dialer's lock.
func (d *Dialer) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Fail = fail
}

// CallCount returns the number of Dial calls.
func (d *Dialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// DialTimes returns a copy of Times.
func (d *Dialer) DialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Time, len(d.Times))
	copy(out, d.Times)
	return out
}

// LastConn returns the most recently dialed connection, or nil.
func (d *Dialer) LastConn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Conns) == 0 {
		return nil
	}
	return d.Conns[len(d.Conns)-1]
}

// Dialed returns a channel that receives each successfully dialed connection.
// Connections dialed while nobody is receiving are skipped once the buffer is
// full; use [Dialer.LastConn] for those.
func (d *Dialer) Dialed() <-chan *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialedLocked()
}

func (d *Dialer) dialedLocked() chan *Conn {
	if d.dialed == nil {
		d.dialed = make(chan *Conn, 16)
	}
	return d.dialed
}
