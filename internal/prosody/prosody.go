// Package prosody derives per-word pitch and energy characteristics from a
// mono waveform.
//
// The extractor estimates an utterance-wide pitch contour with a chain of
// [PitchTracker] implementations (pYIN, then YIN), computes a short-time energy
// contour on the same frame grid, and slices both by the recognizer's word
// boundaries. Each word gets summary statistics, a reliability verdict with
// reason codes, and a stress score relative to the rest of the utterance.
//
// Extraction never fails on bad audio: silence, empty input and tracker errors
// all degrade to unreliable prosody. Only context cancellation is returned.
package prosody

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/speakwell/pkg/types"
)

// Default energy in dB used when no frame is available.
const defaultEnergyDB = -120.0

// minStress is the lowest stress score reported for a word with energy.
const minStress = 0.02

// Config holds the analysis grid, pitch ranges and reliability thresholds.
type Config struct {
	FrameLength int
	HopLength   int

	// PYINFMin/PYINFMax bound the primary tracker, YINFMin/YINFMax the
	// fallback.
	PYINFMin float64
	PYINFMax float64
	YINFMin  float64
	YINFMax  float64

	// A contour with fewer voiced frames or a lower voiced density falls
	// through to the next tracker.
	MinVoicedFrames  int
	MinVoicedDensity float64

	SmoothingWindow int

	MinFrames       int
	MinVoicedRatio  float64
	LowEnergyDB     float64
	OutlierF0Min    float64
	OutlierF0Max    float64
	F0RangeMin      float64
	F0RangeMax      float64
	MaxF0StdHz      float64
	MaxOutlierProp  float64
	VeryLowEnergyDB float64
}

// DefaultConfig returns the standard analysis settings: 2048-sample frames
// with a 256-sample hop, pYIN over C2-C6 and YIN over 40-600 Hz.
func DefaultConfig() Config {
	return Config{
		FrameLength:      2048,
		HopLength:        256,
		PYINFMin:         65.40639132514966,
		PYINFMax:         1046.5022612023945,
		YINFMin:          40,
		YINFMax:          600,
		MinVoicedFrames:  3,
		MinVoicedDensity: 0.02,
		SmoothingWindow:  3,
		MinFrames:        1,
		MinVoicedRatio:   0.05,
		LowEnergyDB:      -50,
		OutlierF0Min:     40,
		OutlierF0Max:     600,
		F0RangeMin:       30,
		F0RangeMax:       700,
		MaxF0StdHz:       200,
		MaxOutlierProp:   0.6,
		VeryLowEnergyDB:  -85,
	}
}

// Analysis is the result of one extraction.
type Analysis struct {
	// Words is 1:1 with the timed words passed to Extract.
	Words []types.WordProsody

	// Frames is the number of analysis frames.
	Frames int

	// Tracker names the pitch tracker whose contour was used, "none" if every
	// tracker failed and "" for empty audio.
	Tracker string

	// Fallback reports whether the contour came from a fallback tracker.
	Fallback bool
}

// Extractor computes word prosody. It holds only configuration and is safe
// for concurrent use.
type Extractor struct {
	cfg     Config
	tracker PitchTracker
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithTracker replaces the default pYIN-then-YIN chain.
func WithTracker(t PitchTracker) Option {
	return func(e *Extractor) {
		e.tracker = t
	}
}

// NewExtractor creates an [Extractor] for cfg.
func NewExtractor(cfg Config, opts ...Option) *Extractor {
	e := &Extractor{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = NewChain(cfg.MinVoicedFrames, cfg.MinVoicedDensity,
			NewPYIN(cfg.PYINFMin, cfg.PYINFMax, cfg.FrameLength, cfg.HopLength),
			NewYIN(cfg.YINFMin, cfg.YINFMax, cfg.FrameLength, cfg.HopLength),
		)
	}
	return e
}

// Extract computes prosody for each word of the utterance in samples.
// samples must be mono in [-1, 1].
func (e *Extractor) Extract(ctx context.Context, samples []float64, sampleRate int, words []types.TimedWord) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hop := e.cfg.HopLength
	n := 0
	if sampleRate > 0 {
		n = frameCount(len(samples), hop)
	}
	out := &Analysis{Frames: n}
	if n == 0 {
		out.Words = e.words(words, nil, nil, nil, nil)
		return out, nil
	}

	contour, err := e.tracker.Track(ctx, samples, sampleRate)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("prosody: pitch tracking failed, using unvoiced contour", "error", err)
		contour = Contour{F0: make([]float64, n), Tracker: "none", Fallback: true}
		for i := range contour.F0 {
			contour.F0[i] = math.NaN()
		}
	}
	out.Tracker = contour.Tracker
	out.Fallback = contour.Fallback

	energy := energyContour(samples, e.cfg.FrameLength, hop)
	// A tracker may pad or drop a trailing frame; keep the common length.
	m := min(len(contour.F0), len(energy))
	raw, energy := contour.F0[:m], energy[:m]
	out.Frames = m

	times := frameTimes(len(raw), hop, sampleRate)
	f0Smooth := smooth(fillUnvoiced(raw), e.cfg.SmoothingWindow)
	energySmooth := smooth(energy, e.cfg.SmoothingWindow)
	out.Words = e.words(words, times, raw, f0Smooth, energySmooth)
	return out, nil
}

// wordStats are the unrounded per-word measurements.
type wordStats struct {
	frames      int
	voicedRatio float64
	f0Mean      float64
	f0Std       float64
	hasF0       bool
	outliers    float64
	energy      float64
}

func (e *Extractor) words(words []types.TimedWord, times, raw, f0Smooth, energy []float64) []types.WordProsody {
	out := make([]types.WordProsody, len(words))
	for i, w := range words {
		var s wordStats
		if len(times) == 0 {
			s = wordStats{energy: defaultEnergyDB}
		} else {
			lo, hi := frameRange(times, w.Start, w.End)
			s = e.measure(raw[lo:hi], f0Smooth[lo:hi], energy[lo:hi])
		}

		reasons := e.reasons(s)
		wp := types.WordProsody{
			EnergyDBMean: types.Ptr(scalar.Round(s.energy, 3)),
			VoicedRatio:  types.Ptr(scalar.Round(s.voicedRatio, 3)),
			Reliable:     types.Ptr(len(reasons) == 0),
		}
		if s.hasF0 {
			wp.F0MeanHz = types.Ptr(scalar.Round(s.f0Mean, 1))
			wp.F0StdHz = types.Ptr(scalar.Round(s.f0Std, 1))
		}
		if len(reasons) > 0 {
			wp.UnreliableReasons = reasons
		}
		out[i] = wp
	}
	applyStress(out)
	return out
}

// frameRange returns the frames whose time lies in [start, end). An empty
// range widens to the nearest preceding frame.
func frameRange(times []float64, start, end float64) (lo, hi int) {
	lo = sort.SearchFloat64s(times, start)
	hi = sort.SearchFloat64s(times, end)
	if hi <= lo {
		lo = max(0, lo-1)
		hi = min(len(times), lo+1)
	}
	return lo, hi
}

func (e *Extractor) measure(raw, f0Smooth, energy []float64) wordStats {
	s := wordStats{frames: len(raw), hasF0: true}

	voiced := make([]float64, 0, len(raw))
	for _, v := range raw {
		if !math.IsNaN(v) {
			voiced = append(voiced, v)
		}
	}
	s.voicedRatio = float64(len(voiced)) / float64(max(1, len(raw)))

	switch {
	case len(voiced) > 0:
		s.f0Mean, s.f0Std = stat.PopMeanStdDev(voiced, nil)
		out := 0
		for _, v := range voiced {
			if v < e.cfg.OutlierF0Min || v > e.cfg.OutlierF0Max {
				out++
			}
		}
		s.outliers = float64(out) / float64(len(voiced))
	case len(f0Smooth) > 0:
		s.f0Mean, s.f0Std = stat.PopMeanStdDev(f0Smooth, nil)
	}

	s.energy = defaultEnergyDB
	if len(energy) > 0 {
		s.energy = stat.Mean(energy, nil)
	}

	if !isFinite(s.f0Mean) {
		s.f0Mean = 0
	}
	if !isFinite(s.f0Std) {
		s.f0Std = 0
	}
	if !isFinite(s.energy) {
		s.energy = defaultEnergyDB
	}
	return s
}

// reasons evaluates the reliability rules in their fixed order.
func (e *Extractor) reasons(s wordStats) []string {
	var out []string
	if s.frames < e.cfg.MinFrames {
		out = append(out, types.ReasonFewFrames)
	}
	if s.voicedRatio < e.cfg.MinVoicedRatio && s.energy < e.cfg.LowEnergyDB {
		out = append(out, types.ReasonLowVoicingLowEnergy)
	}
	if s.hasF0 {
		if s.f0Mean < e.cfg.F0RangeMin || s.f0Mean > e.cfg.F0RangeMax {
			out = append(out, types.ReasonF0OutOfRange)
		}
		if s.f0Std > e.cfg.MaxF0StdHz {
			out = append(out, types.ReasonHighF0Variability)
		}
	}
	if s.outliers > e.cfg.MaxOutlierProp {
		out = append(out, types.ReasonManyOutliers)
	}
	if s.energy < e.cfg.VeryLowEnergyDB {
		out = append(out, types.ReasonVeryLowEnergy)
	}
	return out
}

// applyStress sets each word's stress score from its energy relative to the
// quietest and loudest word of the utterance.
func applyStress(words []types.WordProsody) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, w := range words {
		if w.EnergyDBMean == nil {
			continue
		}
		lo = math.Min(lo, *w.EnergyDBMean)
		hi = math.Max(hi, *w.EnergyDBMean)
	}
	denom := math.Max(hi-lo, 1e-6)
	for i := range words {
		if words[i].EnergyDBMean == nil {
			continue
		}
		s := (*words[i].EnergyDBMean - lo) / denom
		s = scalar.Round(math.Min(1, math.Max(0, s)), 3)
		words[i].StressScore = types.Ptr(math.Max(s, minStress))
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
