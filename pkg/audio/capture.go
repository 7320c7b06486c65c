package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// EventKind classifies the lifecycle events emitted by a [Capture].
type EventKind int

const (
	// EventStarted is emitted once the stream is running.
	EventStarted EventKind = iota

	// EventChunk carries one encoded [AudioFrame].
	EventChunk

	// EventStopped is emitted after every resource of the recording has been
	// released. Event.Err holds the joined release errors, if any.
	EventStopped
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "STARTED"
	case EventChunk:
		return "CHUNK"
	case EventStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Event is a capture lifecycle notification.
type Event struct {
	Kind   EventKind
	Device Device     // EventStarted
	Frame  AudioFrame // EventChunk
	Err    error      // EventStopped
}

// Handler receives every [Event] of a [Capture]. EventStarted and
// EventStopped are delivered on the goroutine calling Start/Stop; EventChunk is
// delivered on an internal relay goroutine, in frame order. Handlers should
// return promptly: while a chunk is being handled further frames queue up in
// the encoder and are dropped once its queue is full.
type Handler func(Event)

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithHandler sets the event handler.
func WithHandler(h Handler) CaptureOption {
	return func(c *Capture) { c.handler = h }
}

// WithPreferredDevice selects the device whose ID or label matches name instead
// of the automatic choice.
func WithPreferredDevice(name string) CaptureOption {
	return func(c *Capture) { c.preferred = name }
}

// WithQueueSize sets the capacity of the encoder's frame queue.
func WithQueueSize(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithFramesPerBuffer sets the preferred backend callback block size.
func WithFramesPerBuffer(n int) CaptureOption {
	return func(c *Capture) {
		if n >= 0 {
			c.framesPerBuffer = n
		}
	}
}

type captureState int

const (
	captureIdle captureState = iota
	captureStarting
	captureRecording
	captureStopping
)

const (
	defaultQueueSize       = 64
	defaultFramesPerBuffer = 128
)

// Capture records from one input device at [SampleRate] Hz and [Channels]
// channels and emits [FrameSamples]-sample frames.
//
// The selected device is resolved on the first Start and reused afterwards.
// Every resource acquired by Start has a release step; Stop runs them in
// dependency order (tracks → processing graph → hosting context) and runs all
// of them even if an earlier one fails.
//
// All methods are safe for concurrent use.
type Capture struct {
	backend         Backend
	handler         Handler
	preferred       string
	queueSize       int
	framesPerBuffer int

	mu      sync.Mutex
	state   captureState
	device  *Device
	encoder *FrameEncoder
	release []func() error // in acquisition order
}

// NewCapture returns an idle Capture using backend.
func NewCapture(backend Backend, opts ...CaptureOption) *Capture {
	c := &Capture{
		backend:         backend,
		queueSize:       defaultQueueSize,
		framesPerBuffer: defaultFramesPerBuffer,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Device returns the selected device, if one has been resolved.
func (c *Capture) Device() (Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return Device{}, false
	}
	return *c.device, true
}

// Recording reports whether a recording is active.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == captureRecording
}

// Dropped returns the number of frames the current recording discarded
// because the handler fell behind.
func (c *Capture) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder == nil {
		return 0
	}
	return c.encoder.Dropped()
}

// Start acquires the device and begins emitting frames. It returns
// [ErrAlreadyRecording] if a recording is active or starting. On failure every
// resource acquired so far is released before Start returns.
func (c *Capture) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.state != captureIdle {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.state = captureStarting
	dev := c.device
	c.mu.Unlock()

	var release []func() error
	defer func() {
		if err == nil {
			return
		}
		if rerr := releaseAll(release); rerr != nil {
			slog.Warn("audio: release after failed start", "err", rerr)
		}
		c.mu.Lock()
		c.state = captureIdle
		c.mu.Unlock()
	}()

	if dev == nil {
		d, err := ResolveDevice(ctx, c.backend, c.preferred)
		if err != nil {
			return err
		}
		dev = &d
		c.mu.Lock()
		c.device = dev
		c.mu.Unlock()
	}

	enc := NewFrameEncoder(FrameSamples, Channels, SampleRate, c.queueSize)
	var rs *Resampler
	process := func(in [][]float32) {
		if rs != nil {
			in = rs.Process(in)
		}
		enc.Process(in)
	}

	stream, err := c.backend.Open(ctx, StreamConfig{
		Device:          *dev,
		SampleRate:      SampleRate,
		Channels:        Channels,
		FramesPerBuffer: c.framesPerBuffer,
	}, process)
	if err != nil {
		return fmt.Errorf("audio: open stream on %q: %w", dev.Label, err)
	}
	release = append(release, stream.Close)

	if f := stream.Format(); f.SampleRate != 0 && f.SampleRate != SampleRate {
		slog.Warn("audio: device rate differs from capture rate, resampling",
			"from", formatString(f.SampleRate, f.Channels),
			"to", formatString(SampleRate, Channels),
		)
		rs, err = NewResampler(f.SampleRate, SampleRate, Channels)
		if err != nil {
			return err
		}
	}

	quit := make(chan struct{})
	relayDone := make(chan struct{})
	go c.relay(enc, quit, relayDone)
	release = append(release, func() error {
		enc.Detach()
		close(quit)
		<-relayDone
		return nil
	})

	if err := stream.Start(); err != nil {
		return fmt.Errorf("audio: start stream: %w", err)
	}
	release = append(release, stream.Stop)

	c.mu.Lock()
	c.state = captureRecording
	c.encoder = enc
	c.release = release
	c.mu.Unlock()

	slog.Info("audio: capture started", "device", dev.Label, "format", formatString(SampleRate, Channels))
	c.emit(Event{Kind: EventStarted, Device: *dev})
	return nil
}

// Stop releases every resource of the active recording and emits
// EventStopped. It is a no-op when no recording is active. The returned error
// joins all release failures.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.state != captureRecording {
		c.mu.Unlock()
		return nil
	}
	c.state = captureStopping
	release := c.release
	enc := c.encoder
	c.release = nil
	c.mu.Unlock()

	err := releaseAll(release)

	c.mu.Lock()
	c.state = captureIdle
	c.mu.Unlock()

	slog.Info("audio: capture stopped", "frames", enc.Emitted(), "dropped", enc.Dropped())
	c.emit(Event{Kind: EventStopped, Err: err})
	if err != nil {
		return fmt.Errorf("audio: stop: %w", err)
	}
	return nil
}

// relay forwards encoded frames to the handler until quit is closed.
func (c *Capture) relay(enc *FrameEncoder, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	frames := enc.Frames()
	for {
		select {
		case f := <-frames:
			c.emit(Event{Kind: EventChunk, Frame: f})
		case <-quit:
			return
		}
	}
}

func (c *Capture) emit(ev Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}

// releaseAll runs release steps in reverse acquisition order. Every step runs
// regardless of earlier failures.
func releaseAll(release []func() error) error {
	var errs []error
	for i := len(release) - 1; i >= 0; i-- {
		if err := release[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
