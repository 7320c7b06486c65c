package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.LogMaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("server.log_max_size_mb %d must not be negative", cfg.Server.LogMaxSizeMB))
	}
	if cfg.Server.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("server.log_max_backups %d must not be negative", cfg.Server.LogMaxBackups))
	}

	// Service
	if cfg.Service.Profile != "" && !cfg.Service.Profile.Valid() {
		errs = append(errs, fmt.Errorf("service.profile %q is invalid; valid values: basic, roles", cfg.Service.Profile))
	}
	if cfg.Service.Endpoint == "" {
		slog.Warn("service.endpoint is empty; every session must be started with an explicit endpoint")
	} else if err := validateEndpoint(cfg.Service.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("service.endpoint: %w", err))
	}

	// Capture
	if cfg.Capture.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_size %d must not be negative", cfg.Capture.QueueSize))
	}
	if cfg.Capture.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must not be negative", cfg.Capture.FramesPerBuffer))
	}

	// Transport
	if cfg.Transport.ReconnectAttempts != nil && *cfg.Transport.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect_attempts %d must not be negative", *cfg.Transport.ReconnectAttempts))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"reconnect_interval", cfg.Transport.ReconnectInterval},
		{"dial_timeout", cfg.Transport.DialTimeout},
		{"write_timeout", cfg.Transport.WriteTimeout},
		{"stop_timeout", cfg.Transport.StopTimeout},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("transport.%s %v must not be negative", d.name, d.val))
		}
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Debug("storage.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateEndpoint checks that raw is an absolute WebSocket (or HTTP) URL.
func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q: missing host", raw)
	}
	return nil
}
