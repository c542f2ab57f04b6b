package prosody

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// pYIN model constants.
const (
	pyinThresholds        = 100
	pyinBetaAlpha         = 2
	pyinBetaBeta          = 18
	pyinBoltzmann         = 2.0
	pyinBinsPerSemitone   = 10
	pyinMaxTransitionRate = 35.92 // octaves per second
	pyinSwitchProb        = 0.01
	pyinNoTroughProb      = 0.01
)

// PYIN is the probabilistic YIN pitch tracker (Mauch & Dixon, 2014).
//
// Each frame's difference function is evaluated against a beta-distributed
// set of thresholds with a Boltzmann prior over trough order, giving pitch
// candidate probabilities. The candidates feed an HMM over pitch bins of a
// tenth of a semitone, doubled into voiced and unvoiced states, which is
// decoded with Viterbi.
type PYIN struct {
	FMin        float64
	FMax        float64
	FrameLength int
	HopLength   int
}

// NewPYIN returns a pYIN tracker for the given pitch range and frame grid.
func NewPYIN(fmin, fmax float64, frameLength, hopLength int) *PYIN {
	return &PYIN{FMin: fmin, FMax: fmax, FrameLength: frameLength, HopLength: hopLength}
}

// Name implements [PitchTracker].
func (p *PYIN) Name() string { return "pyin" }

// Track implements [PitchTracker].
func (p *PYIN) Track(ctx context.Context, samples []float64, sampleRate int) (Contour, error) {
	if len(samples) == 0 {
		return Contour{}, ErrTooShort
	}
	a, err := newCMNDAnalyzer(p.FrameLength, sampleRate, p.FMin, p.FMax)
	if err != nil {
		return Contour{}, err
	}

	nBins := int(math.Floor(12*pyinBinsPerSemitone*math.Log2(p.FMax/p.FMin))) + 1
	if 2*nBins > math.MaxUint16+1 {
		return Contour{}, fmt.Errorf("prosody: pyin range %.1f-%.1f Hz needs too many pitch bins", p.FMin, p.FMax)
	}
	n := frameCount(len(samples), p.HopLength)
	beta := betaProbs()

	cmnd := make([]float64, a.lags())
	shifts := make([]float64, a.lags())
	probs := make([]float64, a.lags())
	var idx []int
	observe := func(i int, o []float64) {
		a.compute(cmnd, samples, i, p.HopLength)
		parabolicShifts(shifts, cmnd)
		idx = troughs(idx[:0], cmnd)

		clear(o)
		troughProbs(probs, cmnd, idx, beta)
		for _, k := range idx {
			if probs[k] <= 0 {
				continue
			}
			period := float64(a.minPeriod+k) + shifts[k]
			f0 := float64(sampleRate) / period
			bin := int(math.Round(12 * pyinBinsPerSemitone * math.Log2(f0/p.FMin)))
			bin = min(max(bin, 0), nBins-1)
			o[bin] += probs[k]
		}
		var voiced float64
		for _, v := range o[:nBins] {
			voiced += v
		}
		voiced = min(max(voiced, 0), 1)
		unvoiced := (1 - voiced) / float64(nBins)
		for b := nBins; b < 2*nBins; b++ {
			o[b] = unvoiced
		}
	}

	width := int(math.Round(pyinMaxTransitionRate*12*float64(p.HopLength)/float64(sampleRate)))*pyinBinsPerSemitone + 1
	states, err := newPitchHMM(nBins, width).viterbi(ctx, n, observe)
	if err != nil {
		return Contour{}, err
	}

	f0 := make([]float64, n)
	for i, s := range states {
		if s >= nBins {
			f0[i] = math.NaN()
			continue
		}
		f0[i] = p.FMin * math.Exp2(float64(s)/(12*pyinBinsPerSemitone))
	}
	return Contour{F0: f0, Tracker: p.Name()}, nil
}

// betaProbs returns the probability mass of each threshold interval under
// the Beta(2, 18) distribution.
func betaProbs() []float64 {
	dist := distuv.Beta{Alpha: pyinBetaAlpha, Beta: pyinBetaBeta}
	out := make([]float64, pyinThresholds)
	prev := dist.CDF(0)
	for k := range out {
		cur := dist.CDF(float64(k+1) / pyinThresholds)
		out[k] = cur - prev
		prev = cur
	}
	return out
}

// troughProbs writes into dst the probability of each trough in idx being the
// period, summed over all thresholds. Non-trough lags get zero.
func troughProbs(dst, y []float64, idx []int, beta []float64) {
	clear(dst)
	if len(idx) == 0 {
		return
	}
	gmin := idx[0]
	for _, k := range idx {
		if y[k] < y[gmin] {
			gmin = k
		}
	}

	var unexplained float64
	for h, b := range beta {
		thr := float64(h+1) / pyinThresholds
		below := 0
		for _, k := range idx {
			if y[k] < thr {
				below++
			}
		}
		if y[gmin] >= thr {
			unexplained += b
			continue
		}
		pos := 0
		for _, k := range idx {
			if y[k] >= thr {
				continue
			}
			dst[k] += boltzmannPMF(pos, pyinBoltzmann, below) * b
			pos++
		}
	}
	dst[gmin] += pyinNoTroughProb * unexplained
}

// boltzmannPMF is the truncated discrete exponential distribution on
// {0, ..., n-1}.
func boltzmannPMF(k int, lambda float64, n int) float64 {
	return (1 - math.Exp(-lambda)) * math.Exp(-lambda*float64(k)) / (1 - math.Exp(-lambda*float64(n)))
}

// pitchHMM is the voiced/unvoiced pitch-bin model. States 0..nBins-1 are
// voiced bins, nBins..2*nBins-1 the matching unvoiced bins. Transitions within
// a block follow a triangular window of the given width around the current
// bin, scaled by the probability of staying in or switching voicing.
type pitchHMM struct {
	nBins int
	half  int
	// logLocal[b*width+d] is the log transition weight from bin b to bin
	// b+d-half.
	logLocal []float64
	logStay  float64
	logMove  float64
}

func newPitchHMM(nBins, width int) *pitchHMM {
	if width < 1 {
		width = 1
	}
	half := width / 2
	tri := make([]float64, width)
	for d := range tri {
		tri[d] = 1 - math.Abs(float64(d-half))/float64((width+1)/2)
	}
	logLocal := make([]float64, nBins*width)
	for b := range nBins {
		var sum float64
		for d, w := range tri {
			if j := b + d - half; j >= 0 && j < nBins {
				sum += w
			}
		}
		for d, w := range tri {
			logLocal[b*width+d] = math.Log(w/sum + tiny)
		}
	}
	return &pitchHMM{
		nBins:    nBins,
		half:     half,
		logLocal: logLocal,
		logStay:  math.Log(1 - pyinSwitchProb),
		logMove:  math.Log(pyinSwitchProb),
	}
}

// viterbi returns the most likely state sequence over T frames. observe
// fills the observation likelihoods of frame t into o, one row at a time, so
// only backpointers grow with T. The initial distribution is uniform over all
// states.
func (h *pitchHMM) viterbi(ctx context.Context, T int, observe func(t int, o []float64)) ([]int, error) {
	if T == 0 {
		return nil, nil
	}
	n := h.nBins
	S := 2 * n
	width := 2*h.half + 1

	obs := make([]float64, S)
	prev := make([]float64, S)
	curr := make([]float64, S)
	bp := make([]uint16, T*S)

	observe(0, obs)
	logInit := math.Log(1 / float64(S))
	for s := range S {
		prev[s] = logInit + math.Log(obs[s]+tiny)
	}

	for t := 1; t < T; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		observe(t, obs)
		row := bp[t*S : (t+1)*S]
		for j := range S {
			to, toBlock := j%n, j/n
			best := math.Inf(-1)
			bestPrev := 0
			for fromBlock := range 2 {
				sw := h.logStay
				if fromBlock != toBlock {
					sw = h.logMove
				}
				lo := max(0, to-h.half)
				hi := min(n-1, to+h.half)
				for from := lo; from <= hi; from++ {
					d := to - from + h.half
					score := prev[fromBlock*n+from] + h.logLocal[from*width+d] + sw
					if score > best {
						best = score
						bestPrev = fromBlock*n + from
					}
				}
			}
			curr[j] = best + math.Log(obs[j]+tiny)
			row[j] = uint16(bestPrev)
		}
		prev, curr = curr, prev
	}

	states := make([]int, T)
	states[T-1] = argmax(prev)
	for t := T - 1; t > 0; t-- {
		states[t-1] = int(bp[t*S+states[t]])
	}
	return states, nil
}

// argmax returns the index of the first maximum of x.
func argmax(x []float64) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}
