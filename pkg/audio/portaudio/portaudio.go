// Package portaudio implements [audio.Backend] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio.
//
// PortAudio has no notion of an OS permission prompt. Permission therefore
// reports that the state cannot be queried, and RequestAccess initialises the
// library and checks that at least one input device is visible, which is the
// point at which sandboxed hosts ask the user.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/asrlink/pkg/audio"
)

var errPermissionUnsupported = errors.New("portaudio: permission state not queryable")

// Compile-time interface assertions.
var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Stream  = (*stream)(nil)
)

// Backend is a PortAudio host. The library is initialised lazily on first use
// and terminated by Close.
type Backend struct {
	mu          sync.Mutex
	initialized bool
}

// New returns an uninitialised PortAudio backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	b.initialized = true
	slog.Debug("portaudio: initialized", "version", portaudio.VersionText())
	return nil
}

// Close terminates the PortAudio library if it was initialised.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	b.initialized = false
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// Permission implements [audio.Backend]. The state is never queryable.
func (b *Backend) Permission(_ context.Context) (audio.Permission, error) {
	return audio.PermissionPrompt, errPermissionUnsupported
}

// RequestAccess implements [audio.Backend].
func (b *Backend) RequestAccess(ctx context.Context) error {
	devices, err := b.Devices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return audio.ErrNoDevice
	}
	return nil
}

// Devices implements [audio.Backend]. Only devices with at least one input
// channel are returned.
func (b *Backend) Devices(_ context.Context) ([]audio.Device, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		slog.Debug("portaudio: no default input device", "err", err)
		def = nil
	}
	return inputDevices(infos, def), nil
}

// Open implements [audio.Backend]. If the device rejects cfg.SampleRate the
// stream is opened at the device's native rate instead and reported through
// Format. Mono devices are duplicated onto every requested channel.
func (b *Backend) Open(_ context.Context, cfg audio.StreamConfig, process audio.ProcessFunc) (audio.Stream, error) {
	if err := b.init(); err != nil {
		return nil, err
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	info := findDevice(infos, cfg.Device.ID)
	if info == nil {
		return nil, fmt.Errorf("portaudio: device %q: %w", cfg.Device.ID, audio.ErrNoSuitableDevice)
	}

	channels := min(cfg.Channels, info.MaxInputChannels)
	callback := upmix(process, channels, cfg.Channels)

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	s, err := portaudio.OpenStream(params, callback)
	if err != nil && info.DefaultSampleRate > 0 && int(info.DefaultSampleRate) != cfg.SampleRate {
		slog.Warn("portaudio: requested rate rejected, using native rate",
			"device", info.Name,
			"requested", cfg.SampleRate,
			"native", info.DefaultSampleRate,
			"err", err,
		)
		params.SampleRate = info.DefaultSampleRate
		s, err = portaudio.OpenStream(params, callback)
	}
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", info.Name, err)
	}

	return &stream{
		s:      s,
		format: audio.Format{SampleRate: int(params.SampleRate), Channels: cfg.Channels},
	}, nil
}

type stream struct {
	s      *portaudio.Stream
	format audio.Format
}

func (s *stream) Start() error {
	if err := s.s.Start(); err != nil {
		return fmt.Errorf("portaudio: start: %w", err)
	}
	return nil
}

func (s *stream) Stop() error {
	if err := s.s.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop: %w", err)
	}
	return nil
}

func (s *stream) Close() error {
	if err := s.s.Close(); err != nil {
		return fmt.Errorf("portaudio: close: %w", err)
	}
	return nil
}

func (s *stream) Format() audio.Format { return s.format }

// deviceID builds a stable identifier from the host API and device name.
// PortAudio indices change when devices are plugged in or removed.
func deviceID(info *portaudio.DeviceInfo) string {
	if info == nil || info.Name == "" {
		return ""
	}
	if info.HostApi == nil {
		return info.Name
	}
	return info.HostApi.Name + ":" + info.Name
}

func inputDevices(infos []*portaudio.DeviceInfo, def *portaudio.DeviceInfo) []audio.Device {
	defID := deviceID(def)
	out := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		if info == nil || info.MaxInputChannels < 1 {
			continue
		}
		id := deviceID(info)
		out = append(out, audio.Device{
			ID:                id,
			Label:             info.Name,
			Default:           id != "" && id == defID,
			MaxChannels:       info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
	}
	return out
}

func findDevice(infos []*portaudio.DeviceInfo, id string) *portaudio.DeviceInfo {
	for _, info := range infos {
		if info != nil && info.MaxInputChannels > 0 && deviceID(info) == id {
			return info
		}
	}
	return nil
}

// upmix returns a stream callback that widens have channels to want channels
// by repeating the last captured channel.
func upmix(process audio.ProcessFunc, have, want int) func(in [][]float32) {
	if have >= want || have < 1 {
		return process
	}
	buf := make([][]float32, want)
	return func(in [][]float32) {
		if len(in) < have {
			return
		}
		copy(buf, in[:have])
		for c := have; c < want; c++ {
			buf[c] = in[have-1]
		}
		process(buf)
	}
}
