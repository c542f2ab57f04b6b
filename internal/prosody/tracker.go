package prosody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// ErrTooShort is returned by pitch trackers for a signal with no samples.
var ErrTooShort = errors.New("prosody: signal too short for pitch analysis")

// ErrAllTrackersFailed is returned by [Chain] when every tracker errors.
var ErrAllTrackersFailed = errors.New("prosody: all pitch trackers failed")

// Contour is a per-frame fundamental frequency estimate.
type Contour struct {
	// F0 holds one value in Hz per analysis frame; NaN marks an unvoiced frame.
	F0 []float64

	// Tracker names the tracker that produced the contour.
	Tracker string

	// Fallback is set by [Chain] when the contour did not come from its
	// first tracker.
	Fallback bool
}

// Voiced returns the number of voiced frames.
func (c Contour) Voiced() int {
	n := 0
	for _, v := range c.F0 {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// PitchTracker estimates a pitch contour on the centred frame grid described
// by the extractor's frame and hop lengths. Implementations must be safe for
// concurrent use.
type PitchTracker interface {
	// Name identifies the tracker in logs and metrics.
	Name() string

	// Track returns one F0 value per frame, i.e. 1+len(samples)/hop values.
	Track(ctx context.Context, samples []float64, sampleRate int) (Contour, error)
}

// Chain tries an ordered list of trackers. A tracker's contour is accepted when
// it has enough voiced frames; otherwise the next tracker runs. The last
// tracker's contour is accepted regardless of voicing, and a tracker that
// errors is skipped. If the trackers after a sparse contour all fail, the
// sparse contour is returned.
//
// Chain is safe for concurrent use.
type Chain struct {
	trackers   []PitchTracker
	minVoiced  int
	minDensity float64
}

// NewChain creates a [Chain]. A contour is sufficient when it has at least
// minVoiced voiced frames and a voiced density of at least minDensity.
func NewChain(minVoiced int, minDensity float64, trackers ...PitchTracker) *Chain {
	return &Chain{trackers: trackers, minVoiced: minVoiced, minDensity: minDensity}
}

// Name implements [PitchTracker].
func (c *Chain) Name() string { return "chain" }

// Track implements [PitchTracker]. It returns [ErrAllTrackersFailed] wrapped
// with the last tracker error if no tracker produced a contour. Context
// cancellation is returned immediately.
func (c *Chain) Track(ctx context.Context, samples []float64, sampleRate int) (Contour, error) {
	var (
		lastErr error
		sparse  *Contour
	)
	for i, tr := range c.trackers {
		contour, err := tr.Track(ctx, samples, sampleRate)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Contour{}, ctxErr
			}
			lastErr = err
			slog.Warn("pitch tracker failed, trying next", "tracker", tr.Name(), "error", err)
			continue
		}
		if contour.Tracker == "" {
			contour.Tracker = tr.Name()
		}
		if i == len(c.trackers)-1 || c.sufficient(contour) {
			contour.Fallback = i > 0
			return contour, nil
		}
		slog.Debug("pitch contour too sparse, trying next tracker",
			"tracker", tr.Name(),
			"voiced", contour.Voiced(),
			"frames", len(contour.F0),
		)
		if sparse == nil {
			sparse = &contour
		}
	}
	if sparse != nil {
		return *sparse, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no trackers configured")
	}
	return Contour{}, fmt.Errorf("%w: %v", ErrAllTrackersFailed, lastErr)
}

func (c *Chain) sufficient(contour Contour) bool {
	voiced := contour.Voiced()
	if voiced < c.minVoiced {
		return false
	}
	return float64(voiced)/float64(max(1, len(contour.F0))) >= c.minDensity
}
