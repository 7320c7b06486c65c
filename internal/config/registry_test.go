package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/asrlink/internal/config"
	"github.com/MrWong99/asrlink/pkg/audio"
	"github.com/MrWong99/asrlink/pkg/audio/mock"
)

func TestRegistry_CreateBackend(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	var got config.CaptureConfig
	r.RegisterBackend("mock", func(cfg config.CaptureConfig) (audio.Backend, error) {
		got = cfg
		return &mock.Backend{}, nil
	})

	b, err := r.CreateBackend(config.CaptureConfig{Backend: "mock", Device: "USB"})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if _, ok := b.(*mock.Backend); !ok {
		t.Errorf("backend type = %T", b)
	}
	if got.Device != "USB" {
		t.Errorf("factory got %+v", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterBackend("b", func(config.CaptureConfig) (audio.Backend, error) { return nil, nil })
	r.RegisterBackend("a", func(config.CaptureConfig) (audio.Backend, error) { return nil, nil })

	_, err := r.CreateBackend(config.CaptureConfig{Backend: "alsa"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("err = %v, want ErrBackendNotRegistered", err)
	}
	if names := r.Backends(); len(names) != 2 || names[0] != "a" {
		t.Errorf("Backends() = %v", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no audio stack")
	r := config.NewRegistry()
	r.RegisterBackend("broken", func(config.CaptureConfig) (audio.Backend, error) { return nil, boom })
	if _, err := r.CreateBackend(config.CaptureConfig{Backend: "broken"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
