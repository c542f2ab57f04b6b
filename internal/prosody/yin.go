package prosody

import (
	"context"
	"math"
)

// silenceEnergy is the frame energy (sum of squares) below which YIN reports
// a frame as unvoiced instead of picking a period from numerical noise.
const silenceEnergy = 1e-10

// YIN is the classic YIN monophonic pitch estimator. Every frame with energy
// yields a pitch: the first trough of the normalised difference function below
// Threshold, or the global minimum when no trough is that deep. Silent frames
// are unvoiced.
type YIN struct {
	FMin        float64
	FMax        float64
	FrameLength int
	HopLength   int
	Threshold   float64
}

// NewYIN returns a YIN tracker with the usual 0.1 trough threshold.
func NewYIN(fmin, fmax float64, frameLength, hopLength int) *YIN {
	return &YIN{
		FMin:        fmin,
		FMax:        fmax,
		FrameLength: frameLength,
		HopLength:   hopLength,
		Threshold:   0.1,
	}
}

// Name implements [PitchTracker].
func (y *YIN) Name() string { return "yin" }

// Track implements [PitchTracker].
func (y *YIN) Track(ctx context.Context, samples []float64, sampleRate int) (Contour, error) {
	if len(samples) == 0 {
		return Contour{}, ErrTooShort
	}
	a, err := newCMNDAnalyzer(y.FrameLength, sampleRate, y.FMin, y.FMax)
	if err != nil {
		return Contour{}, err
	}

	n := frameCount(len(samples), y.HopLength)
	f0 := make([]float64, n)
	cmnd := make([]float64, a.lags())
	shifts := make([]float64, a.lags())
	var idx []int
	for i := range n {
		if err := ctx.Err(); err != nil {
			return Contour{}, err
		}
		if a.compute(cmnd, samples, i, y.HopLength) < silenceEnergy {
			f0[i] = math.NaN()
			continue
		}
		parabolicShifts(shifts, cmnd)

		idx = troughs(idx[:0], cmnd)
		target := -1
		for _, k := range idx {
			if cmnd[k] < y.Threshold {
				target = k
				break
			}
		}
		if target < 0 {
			target = argmin(cmnd)
		}
		period := float64(a.minPeriod+target) + shifts[target]
		f0[i] = float64(sampleRate) / period
	}
	return Contour{F0: f0, Tracker: y.Name()}, nil
}

// argmin returns the index of the first minimum of x.
func argmin(x []float64) int {
	best := 0
	for i, v := range x {
		if v < x[best] {
			best = i
		}
	}
	return best
}
