package config

// Diff describes what changed between two configs and how each change takes
// effect.
type Diff struct {
	// LogLevelChanged is applied immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EndpointChanged, ProfileChanged, CaptureChanged and TransportChanged
	// apply to the next session; the running one is not touched.
	EndpointChanged  bool
	ProfileChanged   bool
	CaptureChanged   bool
	TransportChanged bool

	// Fields read once at process start. Changing them requires a restart.
	LoggingOutputChanged bool
	ListenAddrChanged    bool
	StorageChanged       bool
	TelemetryChanged     bool
}

// SessionChanged reports whether any setting used when starting a session
// changed.
func (d Diff) SessionChanged() bool {
	return d.EndpointChanged || d.ProfileChanged || d.CaptureChanged || d.TransportChanged
}

// RestartRequired reports whether a change only takes effect after a restart.
func (d Diff) RestartRequired() bool {
	return d.LoggingOutputChanged || d.ListenAddrChanged || d.StorageChanged || d.TelemetryChanged
}

// Compare returns the differences between old and new.
func Compare(old, new *Config) Diff {
	var d Diff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.LoggingOutputChanged = old.Server.LogFormat != new.Server.LogFormat ||
		old.Server.LogFile != new.Server.LogFile ||
		old.Server.LogMaxSizeMB != new.Server.LogMaxSizeMB ||
		old.Server.LogMaxBackups != new.Server.LogMaxBackups
	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr

	d.EndpointChanged = old.Service.Endpoint != new.Service.Endpoint
	d.ProfileChanged = old.Service.Profile != new.Service.Profile
	d.CaptureChanged = old.Capture != new.Capture
	d.TransportChanged = old.Transport.Attempts() != new.Transport.Attempts() ||
		old.Transport.ReconnectInterval != new.Transport.ReconnectInterval ||
		old.Transport.DialTimeout != new.Transport.DialTimeout ||
		old.Transport.WriteTimeout != new.Transport.WriteTimeout ||
		old.Transport.StopTimeout != new.Transport.StopTimeout

	d.StorageChanged = old.Storage != new.Storage
	d.TelemetryChanged = old.Telemetry != new.Telemetry
	return d
}
