// Package session drives one speech recognition session at a time: it starts
// microphone capture, opens a reconnecting transport to the recognition
// service, streams every encoded frame, and dispatches the service's events
// to the host.
//
// All state transitions run on a single event loop goroutine owned by the
// [Orchestrator], so start and stop requests, transport events and timers are
// handled one at a time. Audio chunks are the exception: they go from the
// capture relay straight to the transport and are dropped while no
// connection is open.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/asrlink/pkg/audio"
	"github.com/MrWong99/asrlink/pkg/protocol"
	"github.com/MrWong99/asrlink/pkg/transport"
)

// Sentinel errors.
var (
	// ErrMissingRecordID is returned by Start for an empty record ID.
	ErrMissingRecordID = errors.New("session: record id is required")

	// ErrMissingEndpoint is returned by Start when neither the call nor the
	// configuration names an endpoint.
	ErrMissingEndpoint = errors.New("session: endpoint is required")

	// ErrNoActiveSession is returned by Stop when nothing is recording.
	ErrNoActiveSession = errors.New("session: no active session")

	// ErrClosed is returned after the orchestrator has been closed, and is
	// the Err of a session ended by Close.
	ErrClosed = errors.New("session: orchestrator closed")

	// ErrReplaced is the Err of a session torn down by a newer Start.
	ErrReplaced = errors.New("session: replaced by a new session")

	// ErrStopTimeout is the Err of a session whose done event did not arrive
	// in time after a stop request.
	ErrStopTimeout = errors.New("session: timed out waiting for done")
)

// State is the lifecycle state of a [Session].
type State int

const (
	// StateIdle is the state of a session that has ended normally.
	StateIdle State = iota

	// StateStarting means capture runs and the transport is connecting.
	StateStarting

	// StateRecording means the transport opened at least once and frames
	// are streamed.
	StateRecording

	// StateStopping means a stop request was sent and the session waits for
	// the done event.
	StateStopping

	// StateTerminated means the service ended the session.
	StateTerminated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Callbacks receive the events of one session. Every field is optional.
// Callbacks run in event order on a goroutine of their own, so they may call
// back into the [Orchestrator].
type Callbacks struct {
	// OnStarted runs when the transport first opens.
	OnStarted func(*Session)

	// OnRecognized receives every recognised sentence.
	OnRecognized func(protocol.Sentence)

	// OnTips receives tips. Only called in the roles profile.
	OnTips func([]string)

	// OnMedicalRecord receives medical record updates. Only called in the
	// roles profile.
	OnMedicalRecord func(map[string]string)

	// OnTerminated runs once when the service terminates the session.
	OnTerminated func(reason string)

	// OnError receives transport errors. Errors wrapping
	// [transport.ErrReconnectExhausted] are fatal; the session has ended.
	OnError func(error)

	// OnEnded runs once the session has ended, for every outcome, after all
	// of its other callbacks.
	OnEnded func(*Session)
}

// Session is the handle of one start-to-end recognition session.
type Session struct {
	id        string
	recordID  string
	endpoint  string
	url       string
	profile   protocol.Profile
	device    audio.Device
	startedAt time.Time
	callbacks Callbacks

	tr *transport.Transport

	// Owned by the orchestrator loop.
	stopTimer *time.Timer
	onStopped func()

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

// ID returns the unique session ID.
func (s *Session) ID() string { return s.id }

// RecordID returns the record the session streams audio for.
func (s *Session) RecordID() string { return s.recordID }

// Endpoint returns the service endpoint the session was started with.
func (s *Session) Endpoint() string { return s.endpoint }

// URL returns the full connection URL including the session query.
func (s *Session) URL() string { return s.url }

// Profile returns the protocol profile of the session.
func (s *Session) Profile() protocol.Profile { return s.profile }

// Device returns the input device the session records from.
func (s *Session) Device() audio.Device { return s.device }

// StartedAt returns when capture was acquired.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session has ended and every resource is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended: nil after done or terminated, otherwise
// one of [ErrStopTimeout], [ErrReplaced], [ErrClosed] or an error wrapping
// [transport.ErrReconnectExhausted]. It returns nil while the session runs.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// live reports whether the session has not ended yet.
func (s *Session) live() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// end records the final state and error and closes Done.
func (s *Session) end(st State, err error) {
	s.mu.Lock()
	s.state = st
	s.err = err
	s.mu.Unlock()
	close(s.done)
}
