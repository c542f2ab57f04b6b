// Package config provides the configuration schema, loader, and pitch-tracker
// registry for the speakwell scoring service.
package config

import (
	"log/slog"

	"github.com/MrWong99/speakwell/internal/prosody"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unset or unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for speakwell.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Fields missing from the file keep the values from [Default].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Prosody   ProsodyConfig   `yaml:"prosody"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadBytes caps the size of a multipart scoring request.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ScoringConfig controls the scoring engine.
type ScoringConfig struct {
	// SampleRate is the rate in Hz the prosody analysis runs at.
	SampleRate int `yaml:"sample_rate"`

	// Resample converts audio recorded at a different rate. When false such
	// audio is rejected.
	Resample bool `yaml:"resample"`

	// ReplaceDefaultScore is the word score of a substitution whose
	// recognizer confidence is unknown.
	ReplaceDefaultScore float64 `yaml:"replace_default_score"`

	// Debug attaches segment and prosody previews to every result.
	Debug bool `yaml:"debug"`

	// CMUDictPath points to a CMU-format pronunciation dictionary used for
	// phoneme hints. Empty disables hints.
	CMUDictPath string `yaml:"cmudict_path"`

	// NearMissThreshold is the minimum phonetic similarity for a
	// substitution to be annotated as a near miss. Zero disables it.
	NearMissThreshold float64 `yaml:"near_miss_threshold"`

	// BatchConcurrency bounds how many utterances a batch run scores at once.
	BatchConcurrency int `yaml:"batch_concurrency"`

	// MaxAudioSeconds rejects longer utterances before analysis. Zero
	// disables the limit.
	MaxAudioSeconds float64 `yaml:"max_audio_seconds"`
}

// ProsodyConfig configures pitch tracking and the prosody reliability gate.
type ProsodyConfig struct {
	FrameLength int `yaml:"frame_length"`
	HopLength   int `yaml:"hop_length"`

	PYINFMin float64 `yaml:"pyin_fmin"`
	PYINFMax float64 `yaml:"pyin_fmax"`
	YINFMin  float64 `yaml:"yin_fmin"`
	YINFMax  float64 `yaml:"yin_fmax"`

	// PitchTrackers lists the trackers tried in order. Each name must be
	// registered in the [Registry] used to build the scorer.
	PitchTrackers []string `yaml:"pitch_trackers"`

	MinVoicedFrames  int     `yaml:"min_voiced_frames"`
	MinVoicedDensity float64 `yaml:"min_voiced_density"`
	SmoothingWindow  int     `yaml:"smoothing_window"`

	Reliability ReliabilityConfig `yaml:"reliability"`
}

// ReliabilityConfig holds the thresholds that mark a word's prosody
// unreliable.
type ReliabilityConfig struct {
	MinFrames       int     `yaml:"min_frames"`
	MinVoicedRatio  float64 `yaml:"min_voiced_ratio"`
	LowEnergyDB     float64 `yaml:"low_energy_db"`
	OutlierF0Min    float64 `yaml:"outlier_f0_min"`
	OutlierF0Max    float64 `yaml:"outlier_f0_max"`
	F0RangeMin      float64 `yaml:"f0_range_min"`
	F0RangeMax      float64 `yaml:"f0_range_max"`
	MaxF0StdHz      float64 `yaml:"max_f0_std_hz"`
	MaxOutlierProp  float64 `yaml:"max_outlier_prop"`
	VeryLowEnergyDB float64 `yaml:"very_low_energy_db"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`

	// Prometheus installs the Prometheus metric exporter and exposes it on
	// /metrics. When false metrics are recorded but not exported.
	Prometheus bool `yaml:"prometheus"`

	// TraceSampleRatio is the fraction of root spans that are sampled.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns a configuration with every field set to its standard value.
func Default() *Config {
	p := prosody.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8080",
			LogLevel:       LogInfo,
			MaxUploadBytes: 32 << 20,
		},
		Scoring: ScoringConfig{
			SampleRate:          16000,
			Resample:            true,
			ReplaceDefaultScore: 0.4,
			NearMissThreshold:   0.70,
			BatchConcurrency:    4,
			MaxAudioSeconds:     300,
		},
		Prosody: ProsodyConfig{
			FrameLength:      p.FrameLength,
			HopLength:        p.HopLength,
			PYINFMin:         p.PYINFMin,
			PYINFMax:         p.PYINFMax,
			YINFMin:          p.YINFMin,
			YINFMax:          p.YINFMax,
			PitchTrackers:    []string{"pyin", "yin"},
			MinVoicedFrames:  p.MinVoicedFrames,
			MinVoicedDensity: p.MinVoicedDensity,
			SmoothingWindow:  p.SmoothingWindow,
			Reliability: ReliabilityConfig{
				MinFrames:       p.MinFrames,
				MinVoicedRatio:  p.MinVoicedRatio,
				LowEnergyDB:     p.LowEnergyDB,
				OutlierF0Min:    p.OutlierF0Min,
				OutlierF0Max:    p.OutlierF0Max,
				F0RangeMin:      p.F0RangeMin,
				F0RangeMax:      p.F0RangeMax,
				MaxF0StdHz:      p.MaxF0StdHz,
				MaxOutlierProp:  p.MaxOutlierProp,
				VeryLowEnergyDB: p.VeryLowEnergyDB,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:      "speakwell",
			Prometheus:       true,
			TraceSampleRatio: 1,
		},
	}
}

// Analysis converts p into the settings consumed by [prosody.NewExtractor].
func (p ProsodyConfig) Analysis() prosody.Config {
	r := p.Reliability
	return prosody.Config{
		FrameLength:      p.FrameLength,
		HopLength:        p.HopLength,
		PYINFMin:         p.PYINFMin,
		PYINFMax:         p.PYINFMax,
		YINFMin:          p.YINFMin,
		YINFMax:          p.YINFMax,
		MinVoicedFrames:  p.MinVoicedFrames,
		MinVoicedDensity: p.MinVoicedDensity,
		SmoothingWindow:  p.SmoothingWindow,
		MinFrames:        r.MinFrames,
		MinVoicedRatio:   r.MinVoicedRatio,
		LowEnergyDB:      r.LowEnergyDB,
		OutlierF0Min:     r.OutlierF0Min,
		OutlierF0Max:     r.OutlierF0Max,
		F0RangeMin:       r.F0RangeMin,
		F0RangeMax:       r.F0RangeMax,
		MaxF0StdHz:       r.MaxF0StdHz,
		MaxOutlierProp:   r.MaxOutlierProp,
		VeryLowEnergyDB:  r.VeryLowEnergyDB,
	}
}
