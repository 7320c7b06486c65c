package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SelectDevice picks the input device a recording should use.
//
// When preferred is non-empty, the device whose ID or label matches it
// (case-insensitive) is returned, or [ErrNoSuitableDevice] if there is none.
// Otherwise devices with an empty ID are discarded and:
//
//  1. a single remaining device is returned as is;
//  2. else the platform default (Default flag or the reserved "default" ID);
//  3. else the first device whose ID is not "default".
func SelectDevice(devices []Device, preferred string) (Device, error) {
	usable := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.ID != "" {
			usable = append(usable, d)
		}
	}
	if len(usable) == 0 {
		return Device{}, ErrNoDevice
	}

	if preferred != "" {
		for _, d := range usable {
			if strings.EqualFold(d.ID, preferred) || strings.EqualFold(d.Label, preferred) {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("%w: %q not found", ErrNoSuitableDevice, preferred)
	}

	if len(usable) == 1 {
		return usable[0], nil
	}
	for _, d := range usable {
		if d.Default || d.ID == DefaultDeviceID {
			return d, nil
		}
	}
	for _, d := range usable {
		if d.ID != DefaultDeviceID {
			return d, nil
		}
	}
	return Device{}, ErrNoSuitableDevice
}

// ResolveDevice performs the permission check, enumerates devices and selects
// one with [SelectDevice]. If the permission state cannot be queried, access is
// requested directly.
func ResolveDevice(ctx context.Context, b Backend, preferred string) (Device, error) {
	perm, err := b.Permission(ctx)
	if err != nil {
		slog.Warn("audio: permission state unavailable, requesting access directly", "err", err)
		perm = PermissionPrompt
	} else {
		slog.Debug("audio: microphone permission", "state", perm)
	}

	if perm != PermissionGranted {
		if err := b.RequestAccess(ctx); err != nil {
			return Device{}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}

	devices, err := b.Devices(ctx)
	if err != nil {
		return Device{}, fmt.Errorf("audio: enumerate devices: %w", err)
	}
	slog.Debug("audio: input devices", "count", len(devices))

	d, err := SelectDevice(devices, preferred)
	if err != nil {
		return Device{}, err
	}
	slog.Info("audio: selected input device", "id", d.ID, "label", d.Label, "default", d.Default)
	return d, nil
}
