// Package audio implements microphone capture for the recognition client.
//
// The package is organised around three pieces:
//
//   - [Backend] is the host audio stack. It answers the permission query,
//     enumerates devices and opens a real-time input [Stream].
//   - [FrameEncoder] runs on the backend's audio thread and turns float32
//     blocks into fixed-size interleaved PCM16 [AudioFrame] values.
//   - [Capture] owns device selection, the stream, and the encoder for one
//     recording, and reports started/chunk/stopped events to a single
//     [Handler].
//
// Backend implementations live in sub-packages (e.g. audio/portaudio). The
// interfaces are intentionally narrow so tests can substitute audio/mock.
package audio

import (
	"context"
	"errors"
)

// Sentinel errors returned by [Capture] and device selection.
var (
	// ErrAlreadyRecording is returned by [Capture.Start] while a recording is
	// active or being started.
	ErrAlreadyRecording = errors.New("audio: already recording")

	// ErrNoDevice is returned when the backend reports no usable input device.
	ErrNoDevice = errors.New("audio: no input device available")

	// ErrNoSuitableDevice is returned when input devices exist but none can
	// be selected.
	ErrNoSuitableDevice = errors.New("audio: no suitable input device")

	// ErrPermissionDenied is returned when microphone access is refused.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
)

// Permission is the microphone authorisation state reported by a [Backend].
type Permission int

const (
	// PermissionPrompt means access has not been decided yet; requesting
	// access may prompt the user.
	PermissionPrompt Permission = iota

	// PermissionGranted means the application may open input streams.
	PermissionGranted

	// PermissionDenied means access was refused.
	PermissionDenied
)

// String returns the human-readable name of the permission state.
func (p Permission) String() string {
	switch p {
	case PermissionPrompt:
		return "prompt"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// StreamConfig describes the input stream a [Capture] asks the backend to open.
type StreamConfig struct {
	// Device is the selected input device.
	Device Device

	// SampleRate is the requested rate in Hz. Backends that cannot honour it
	// may open the device at another rate and report it via [Stream.Format].
	SampleRate int

	// Channels is the requested channel count.
	Channels int

	// FramesPerBuffer is the preferred callback block size. Zero lets the
	// backend choose.
	FramesPerBuffer int

	// EchoCancellation and NoiseSuppression request signal processing. The
	// recognition service expects the raw signal, so [Capture] always leaves
	// both disabled.
	EchoCancellation bool
	NoiseSuppression bool
}

// ProcessFunc receives one block of samples per channel from the backend's
// audio thread. It must not block.
type ProcessFunc func(in [][]float32)

// Stream is an open input stream. Acquisition order is Open → Start; release
// order is Stop → Close.
type Stream interface {
	// Start begins delivering blocks to the ProcessFunc given to Open.
	Start() error

	// Stop halts the device tracks. After Stop returns, the ProcessFunc is
	// no longer invoked.
	Stop() error

	// Close releases the stream's hosting context.
	Close() error

	// Format reports the rate and channel count the stream actually delivers.
	Format() Format
}

// Backend is the host audio stack.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Permission reports the current microphone authorisation. An error means
	// the state cannot be queried; callers fall back to [Backend.RequestAccess].
	Permission(ctx context.Context) (Permission, error)

	// RequestAccess asks for microphone access. It returns an error when
	// access is refused or unavailable.
	RequestAccess(ctx context.Context) error

	// Devices enumerates audio input devices.
	Devices(ctx context.Context) ([]Device, error)

	// Open opens an input stream on cfg.Device. process is invoked on the
	// backend's audio thread once the stream is started.
	Open(ctx context.Context, cfg StreamConfig, process ProcessFunc) (Stream, error)
}
