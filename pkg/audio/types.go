package audio

import "time"

// Fixed capture parameters expected by the recognition service.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000

	// Channels is the number of captured channels.
	Channels = 2

	// FrameSamples is the number of samples per channel in one emitted frame
	// (40ms at 16 kHz).
	FrameSamples = 640

	// BytesPerSample is the width of one encoded PCM sample.
	BytesPerSample = 2
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// AudioFrame is one fixed-size packet of interleaved 16-bit little-endian PCM
// produced by the [FrameEncoder]. len(Data) is always
// FrameSamples × Channels × 2 for the encoder that produced it.
type AudioFrame struct {
	// Data holds the interleaved PCM payload.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels in Data.
	Channels int

	// Seq is the zero-based index of this frame within its capture stream.
	Seq uint64

	// Timestamp marks the start of this frame relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel carried by f.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (f.Channels * BytesPerSample)
}

// Duration returns the playback length of f.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Device describes an audio input device known to a [Backend].
type Device struct {
	// ID is the backend-specific stable identifier. Empty IDs are never
	// selected.
	ID string

	// Label is the human-readable device name. It is embedded in the
	// connection URL as the device_name parameter.
	Label string

	// Default reports whether the host platform designates this device as the
	// default input.
	Default bool

	// MaxChannels is the maximum number of input channels the device offers.
	MaxChannels int

	// DefaultSampleRate is the device's native rate in Hz, if known.
	DefaultSampleRate float64
}

// DefaultDeviceID is the identifier some platforms reserve for the
// system-default pseudo device.
const DefaultDeviceID = "default"
