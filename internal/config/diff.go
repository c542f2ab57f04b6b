package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScorerChanged is true when scoring or prosody settings differ; the
	// scorer has to be rebuilt for them to take effect.
	ScorerChanged bool

	// RestartRequired lists settings that only take effect after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Scoring != new.Scoring || !prosodyEqual(old.Prosody, new.Prosody) {
		d.ScorerChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.MaxUploadBytes != new.Server.MaxUploadBytes {
		d.RestartRequired = append(d.RestartRequired, "server.max_upload_bytes")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func prosodyEqual(a, b ProsodyConfig) bool {
	if !slices.Equal(a.PitchTrackers, b.PitchTrackers) {
		return false
	}
	a.PitchTrackers, b.PitchTrackers = nil, nil
	return reflect.DeepEqual(a, b)
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
