package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
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
	if cfg.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive, got %d", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Scoring
	s := cfg.Scoring
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("scoring.sample_rate must be positive, got %d", s.SampleRate))
	}
	if s.ReplaceDefaultScore < 0 || s.ReplaceDefaultScore > 1 {
		errs = append(errs, fmt.Errorf("scoring.replace_default_score %.3f is out of range [0, 1]", s.ReplaceDefaultScore))
	}
	if s.NearMissThreshold < 0 || s.NearMissThreshold > 1 {
		errs = append(errs, fmt.Errorf("scoring.near_miss_threshold %.3f is out of range [0, 1]", s.NearMissThreshold))
	}
	if s.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("scoring.batch_concurrency must be at least 1, got %d", s.BatchConcurrency))
	}
	if s.MaxAudioSeconds < 0 {
		errs = append(errs, fmt.Errorf("scoring.max_audio_seconds must not be negative, got %g", s.MaxAudioSeconds))
	}

	// Prosody
	errs = append(errs, validateProsody(cfg.Prosody)...)

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %g is out of range [0, 1]", r))
	}
	if cfg.Telemetry.ServiceName == "" {
		slog.Warn("telemetry.service_name is empty; reporting as \"speakwell\"")
	}

	return errors.Join(errs...)
}

func validateProsody(p ProsodyConfig) []error {
	var errs []error
	if p.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("prosody.frame_length must be positive, got %d", p.FrameLength))
	}
	if p.HopLength <= 0 {
		errs = append(errs, fmt.Errorf("prosody.hop_length must be positive, got %d", p.HopLength))
	} else if p.HopLength > p.FrameLength {
		errs = append(errs, fmt.Errorf("prosody.hop_length %d exceeds frame_length %d", p.HopLength, p.FrameLength))
	}
	errs = append(errs, validateRange("prosody.pyin_fmin", "prosody.pyin_fmax", p.PYINFMin, p.PYINFMax)...)
	errs = append(errs, validateRange("prosody.yin_fmin", "prosody.yin_fmax", p.YINFMin, p.YINFMax)...)

	if len(p.PitchTrackers) == 0 {
		errs = append(errs, errors.New("prosody.pitch_trackers must list at least one tracker"))
	}
	seen := make(map[string]int, len(p.PitchTrackers))
	for i, name := range p.PitchTrackers {
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("prosody.pitch_trackers[%d] %q is a duplicate of pitch_trackers[%d]", i, name, prev))
			continue
		}
		seen[name] = i
		if !isBuiltinTracker(name) {
			slog.Warn("unknown pitch tracker name; it must be registered before the scorer is built",
				"name", name,
				"known", builtinTrackers,
			)
		}
	}

	if p.MinVoicedFrames < 0 {
		errs = append(errs, fmt.Errorf("prosody.min_voiced_frames must not be negative, got %d", p.MinVoicedFrames))
	}
	if p.MinVoicedDensity < 0 || p.MinVoicedDensity > 1 {
		errs = append(errs, fmt.Errorf("prosody.min_voiced_density %.3f is out of range [0, 1]", p.MinVoicedDensity))
	}
	if p.SmoothingWindow < 1 {
		errs = append(errs, fmt.Errorf("prosody.smoothing_window must be at least 1, got %d", p.SmoothingWindow))
	}

	r := p.Reliability
	if r.MinFrames < 0 {
		errs = append(errs, fmt.Errorf("prosody.reliability.min_frames must not be negative, got %d", r.MinFrames))
	}
	if r.MinVoicedRatio < 0 || r.MinVoicedRatio > 1 {
		errs = append(errs, fmt.Errorf("prosody.reliability.min_voiced_ratio %.3f is out of range [0, 1]", r.MinVoicedRatio))
	}
	if r.MaxOutlierProp < 0 || r.MaxOutlierProp > 1 {
		errs = append(errs, fmt.Errorf("prosody.reliability.max_outlier_prop %.3f is out of range [0, 1]", r.MaxOutlierProp))
	}
	errs = append(errs, validateRange("prosody.reliability.outlier_f0_min", "prosody.reliability.outlier_f0_max", r.OutlierF0Min, r.OutlierF0Max)...)
	errs = append(errs, validateRange("prosody.reliability.f0_range_min", "prosody.reliability.f0_range_max", r.F0RangeMin, r.F0RangeMax)...)
	if r.MaxF0StdHz <= 0 {
		errs = append(errs, fmt.Errorf("prosody.reliability.max_f0_std_hz must be positive, got %.1f", r.MaxF0StdHz))
	}
	if r.VeryLowEnergyDB > r.LowEnergyDB {
		slog.Warn("prosody.reliability.very_low_energy_db is above low_energy_db",
			"very_low_energy_db", r.VeryLowEnergyDB,
			"low_energy_db", r.LowEnergyDB,
		)
	}
	return errs
}

// validateRange checks 0 < lo < hi for a pair of frequency bounds.
func validateRange(loKey, hiKey string, lo, hi float64) []error {
	if lo <= 0 {
		return []error{fmt.Errorf("%s must be positive, got %.3f", loKey, lo)}
	}
	if hi <= lo {
		return []error{fmt.Errorf("%s %.3f must be greater than %s %.3f", hiKey, hi, loKey, lo)}
	}
	return nil
}
