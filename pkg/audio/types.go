// Package audio converts recorded speech into the normalised mono waveform
// consumed by the prosody extractor.
//
// Callers hand the engine 16-bit integer samples, 32-bit float samples, raw
// little-endian PCM or a WAV file. All of them end up as a [Waveform]: mono
// float64 samples clamped to [-1.0, 1.0] together with their sample rate.
package audio

import "time"

// Waveform is a mono, normalised audio signal.
type Waveform struct {
	// Samples are in [-1.0, 1.0].
	Samples []float64

	// SampleRate in Hz (e.g., 16000 for recogniser-ready audio).
	SampleRate int
}

// Duration returns the length of the waveform. Zero for an empty waveform or
// an invalid sample rate.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Empty reports whether the waveform carries no samples.
func (w Waveform) Empty() bool {
	return len(w.Samples) == 0
}
