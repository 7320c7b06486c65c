// Package mock provides in-memory mock implementations of the [audio.Backend]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	backend := &mock.Backend{
//	    PermissionResult: audio.PermissionGranted,
//	    DevicesResult:    []audio.Device{{ID: "default", Label: "Built-in", Default: true}},
//	}
//	c := audio.NewCapture(backend, audio.WithHandler(h))
//	_ = c.Start(ctx)
//	backend.LastStream().Feed(left, right)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/asrlink/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests push sample blocks
// through [Stream.Feed], which invokes the ProcessFunc synchronously as the
// real-time thread would.
type Stream struct {
	mu sync.Mutex

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// StartError, StopError and CloseError are returned by the matching methods.
	StartError error
	StopError  error
	CloseError error

	// Config is the StreamConfig passed to Backend.Open.
	Config audio.StreamConfig

	// CallCountStart, CallCountStop and CallCountClose record invocations.
	CallCountStart int
	CallCountStop  int
	CallCountClose int

	// Calls records method names in invocation order.
	Calls []string

	process audio.ProcessFunc
	running bool
}

// Start implements [audio.Stream].
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	s.Calls = append(s.Calls, "start")
	if s.StartError != nil {
		return s.StartError
	}
	s.running = true
	return nil
}

// Stop implements [audio.Stream]. The stream stops delivering blocks even if
// StopError is set.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.Calls = append(s.Calls, "stop")
	s.running = false
	return s.StopError
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.Calls = append(s.Calls, "close")
	s.running = false
	return s.CloseError
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Feed delivers one block per channel to the ProcessFunc if the stream is
// running. It reports whether the block was delivered.
func (s *Stream) Feed(in ...[]float32) bool {
	s.mu.Lock()
	process, running := s.process, s.running
	s.mu.Unlock()
	if !running || process == nil {
		return false
	}
	process(in)
	return true
}

// Running reports whether the stream is between Start and Stop.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// PermissionResult and PermissionError are returned by Permission.
	PermissionResult audio.Permission
	PermissionError  error

	// RequestAccessError is returned by RequestAccess.
	RequestAccessError error

	// DevicesResult and DevicesError are returned by Devices.
	DevicesResult []audio.Device
	DevicesError  error

	// OpenError is returned by Open.
	OpenError error

	// NewStream, if set, builds the stream returned by Open. Defaults to a
	// fresh [Stream] reporting the requested format.
	NewStream func(cfg audio.StreamConfig) *Stream

	// CallCountPermission, CallCountRequestAccess, CallCountDevices and
	// CallCountOpen record invocations.
	CallCountPermission    int
	CallCountRequestAccess int
	CallCountDevices       int
	CallCountOpen          int

	// Streams holds every stream returned by Open, in order.
	Streams []*Stream
}

// Permission implements [audio.Backend].
func (b *Backend) Permission(_ context.Context) (audio.Permission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountPermission++
	return b.PermissionResult, b.PermissionError
}

// RequestAccess implements [audio.Backend].
func (b *Backend) RequestAccess(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountRequestAccess++
	return b.RequestAccessError
}

// Devices implements [audio.Backend].
func (b *Backend) Devices(_ context.Context) ([]audio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountDevices++
	if b.DevicesError != nil {
		return nil, b.DevicesError
	}
	out := make([]audio.Device, len(b.DevicesResult))
	copy(out, b.DevicesResult)
	return out, nil
}

// Open implements [audio.Backend].
func (b *Backend) Open(_ context.Context, cfg audio.StreamConfig, process audio.ProcessFunc) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountOpen++
	if b.OpenError != nil {
		return nil, b.OpenError
	}
	var s *Stream
	if b.NewStream != nil {
		s = b.NewStream(cfg)
	} else {
		s = &Stream{FormatResult: audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}}
	}
	s.mu.Lock()
	s.Config = cfg
	s.process = process
	s.mu.Unlock()
	b.Streams = append(b.Streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (b *Backend) LastStream() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Streams) == 0 {
		return nil
	}
	return b.Streams[len(b.Streams)-1]
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock capture controller with the same method set as
// [audio.Capture]. It emits started/stopped events to Handler and lets tests
// inject chunks with [Capture.EmitChunk].
type Capture struct {
	mu sync.Mutex

	// Handler receives emitted events. Set it before Start.
	Handler audio.Handler

	// DeviceResult is the device reported after a successful Start.
	DeviceResult audio.Device

	// StartError and StopError are returned by Start and Stop.
	StartError error
	StopError  error

	// CallCountStart and CallCountStop record invocations.
	CallCountStart int
	CallCountStop  int

	recording bool
	started   bool
}

// Start records the call and, unless StartError is set, emits EventStarted.
func (c *Capture) Start(_ context.Context) error {
	c.mu.Lock()
	c.CallCountStart++
	if c.recording {
		c.mu.Unlock()
		return audio.ErrAlreadyRecording
	}
	if c.StartError != nil {
		err := c.StartError
		c.mu.Unlock()
		return err
	}
	c.recording = true
	c.started = true
	h, dev := c.Handler, c.DeviceResult
	c.mu.Unlock()
	if h != nil {
		h(audio.Event{Kind: audio.EventStarted, Device: dev})
	}
	return nil
}

// Stop records the call and emits EventStopped when recording. It is a no-op
// otherwise.
func (c *Capture) Stop() error {
	c.mu.Lock()
	c.CallCountStop++
	if !c.recording {
		c.mu.Unlock()
		return nil
	}
	c.recording = false
	h, err := c.Handler, c.StopError
	c.mu.Unlock()
	if h != nil {
		h(audio.Event{Kind: audio.EventStopped, Err: err})
	}
	return err
}

// Device returns DeviceResult once Start has succeeded.
func (c *Capture) Device() (audio.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.DeviceResult, c.started
}

// Recording reports whether the mock is between Start and Stop.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// EmitChunk delivers frame to Handler as an EventChunk if recording. It
// reports whether the chunk was delivered.
func (c *Capture) EmitChunk(frame audio.AudioFrame) bool {
	c.mu.Lock()
	h, rec := c.Handler, c.recording
	c.mu.Unlock()
	if !rec || h == nil {
		return false
	}
	h(audio.Event{Kind: audio.EventChunk, Frame: frame})
	return true
}

// Compile-time interface assertions.
var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Stream  = (*Stream)(nil)
)
