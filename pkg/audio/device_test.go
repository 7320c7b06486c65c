package audio_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/asrlink/pkg/audio"
	"github.com/MrWong99/asrlink/pkg/audio/mock"
)

func TestSelectDevice(t *testing.T) {
	tests := []struct {
		name      string
		devices   []audio.Device
		preferred string
		wantID    string
		wantErr   error
	}{
		{
			name:    "no devices",
			wantErr: audio.ErrNoDevice,
		},
		{
			name:    "only empty ids",
			devices: []audio.Device{{ID: "", Label: "ghost"}},
			wantErr: audio.ErrNoDevice,
		},
		{
			name:    "single device",
			devices: []audio.Device{{ID: "default", Label: "Default"}},
			wantID:  "default",
		},
		{
			name: "default flag wins",
			devices: []audio.Device{
				{ID: "usb", Label: "USB Mic"},
				{ID: "builtin", Label: "Built-in", Default: true},
			},
			wantID: "builtin",
		},
		{
			name: "reserved default id wins",
			devices: []audio.Device{
				{ID: "usb", Label: "USB Mic"},
				{ID: "default", Label: "Default"},
			},
			wantID: "default",
		},
		{
			name: "first non-default otherwise",
			devices: []audio.Device{
				{ID: "", Label: "ghost"},
				{ID: "usb", Label: "USB Mic"},
				{ID: "hdmi", Label: "HDMI"},
			},
			wantID: "usb",
		},
		{
			name: "preferred by label",
			devices: []audio.Device{
				{ID: "usb", Label: "USB Mic"},
				{ID: "builtin", Label: "Built-in", Default: true},
			},
			preferred: "usb mic",
			wantID:    "usb",
		},
		{
			name:      "preferred missing",
			devices:   []audio.Device{{ID: "usb", Label: "USB Mic"}},
			preferred: "headset",
			wantErr:   audio.ErrNoSuitableDevice,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := audio.SelectDevice(tt.devices, tt.preferred)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", d.ID, tt.wantID)
			}
		})
	}
}

func TestResolveDevice_PermissionGranted(t *testing.T) {
	b := &mock.Backend{
		PermissionResult: audio.PermissionGranted,
		DevicesResult:    []audio.Device{{ID: "default", Label: "Default"}},
	}
	d, err := audio.ResolveDevice(t.Context(), b, "")
	if err != nil {
		t.Fatalf("ResolveDevice: %v", err)
	}
	if d.ID != "default" {
		t.Errorf("ID = %q", d.ID)
	}
	if b.CallCountRequestAccess != 0 {
		t.Errorf("RequestAccess called %d times, want 0", b.CallCountRequestAccess)
	}
}

func TestResolveDevice_PermissionQueryFails(t *testing.T) {
	b := &mock.Backend{
		PermissionError: errors.New("unsupported"),
		DevicesResult:   []audio.Device{{ID: "mic", Label: "Mic"}},
	}
	if _, err := audio.ResolveDevice(t.Context(), b, ""); err != nil {
		t.Fatalf("ResolveDevice: %v", err)
	}
	if b.CallCountRequestAccess != 1 {
		t.Errorf("RequestAccess called %d times, want 1", b.CallCountRequestAccess)
	}
}

func TestResolveDevice_AccessRefused(t *testing.T) {
	b := &mock.Backend{
		PermissionResult:   audio.PermissionDenied,
		RequestAccessError: errors.New("user said no"),
		DevicesResult:      []audio.Device{{ID: "mic", Label: "Mic"}},
	}
	_, err := audio.ResolveDevice(t.Context(), b, "")
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if b.CallCountDevices != 0 {
		t.Errorf("Devices called after refusal")
	}
}

func TestResolveDevice_EnumerationFails(t *testing.T) {
	boom := errors.New("boom")
	b := &mock.Backend{PermissionResult: audio.PermissionGranted, DevicesError: boom}
	_, err := audio.ResolveDevice(t.Context(), b, "")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}
