package prosody

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// tiny guards divisions in the normalised difference function.
const tiny = 0x1p-1022

// cmndAnalyzer computes the cumulative mean normalised difference function
// of centred frames, the core of both YIN and pYIN. Autocorrelation is done
// with a real FFT of the frame length; the integration window is half a
// frame, so lags up to the search range never wrap around.
//
// An analyzer owns scratch buffers and must not be shared between goroutines.
type cmndAnalyzer struct {
	frameLength int
	window      int
	minPeriod   int
	maxPeriod   int

	fft    *fourier.FFT
	frame  []float64
	head   []float64
	coeffA []complex128
	coeffB []complex128
	acf    []float64
	power  []float64
	diff   []float64
}

func newCMNDAnalyzer(frameLength, sampleRate int, fmin, fmax float64) (*cmndAnalyzer, error) {
	if fmin <= 0 || fmax <= fmin {
		return nil, fmt.Errorf("prosody: invalid pitch range %.1f-%.1f Hz", fmin, fmax)
	}
	window := frameLength / 2
	minPeriod := max(1, int(math.Floor(float64(sampleRate)/fmax)))
	maxPeriod := min(int(math.Ceil(float64(sampleRate)/fmin)), frameLength-window-1)
	if maxPeriod <= minPeriod+1 {
		return nil, fmt.Errorf("prosody: frame length %d cannot resolve %.1f-%.1f Hz at %d Hz",
			frameLength, fmin, fmax, sampleRate)
	}
	return &cmndAnalyzer{
		frameLength: frameLength,
		window:      window,
		minPeriod:   minPeriod,
		maxPeriod:   maxPeriod,
		fft:         fourier.NewFFT(frameLength),
		frame:       make([]float64, frameLength),
		head:        make([]float64, frameLength),
		coeffA:      make([]complex128, frameLength/2+1),
		coeffB:      make([]complex128, frameLength/2+1),
		acf:         make([]float64, frameLength),
		power:       make([]float64, frameLength+1),
		diff:        make([]float64, maxPeriod+1),
	}, nil
}

// lags is the number of CMND values per frame, covering periods
// minPeriod..maxPeriod inclusive.
func (a *cmndAnalyzer) lags() int {
	return a.maxPeriod - a.minPeriod + 1
}

// compute writes the CMND of frame i into dst (len lags()) and returns the
// total energy of the frame.
func (a *cmndAnalyzer) compute(dst, samples []float64, i, hop int) float64 {
	centredFrame(a.frame, samples, i, hop)

	a.power[0] = 0
	for k, v := range a.frame {
		a.power[k+1] = a.power[k] + v*v
	}
	energy := a.power[a.frameLength]
	if energy == 0 {
		clear(dst)
		return 0
	}

	copy(a.head, a.frame[:a.window])
	clear(a.head[a.window:])
	a.fft.Coefficients(a.coeffA, a.frame)
	a.fft.Coefficients(a.coeffB, a.head)
	for k := range a.coeffA {
		b := a.coeffB[k]
		a.coeffA[k] *= complex(real(b), -imag(b))
	}
	a.fft.Sequence(a.acf, a.coeffA)
	scale := 1 / float64(a.frameLength)

	w := a.window
	e0 := a.power[w]
	var cumulative float64
	for tau := 1; tau <= a.maxPeriod; tau++ {
		eTau := a.power[tau+w] - a.power[tau]
		d := e0 + eTau - 2*a.acf[tau]*scale
		if d < 0 {
			d = 0
		}
		a.diff[tau] = d
		cumulative += d
		if tau >= a.minPeriod {
			dst[tau-a.minPeriod] = d / (cumulative/float64(tau) + tiny)
		}
	}
	return energy
}

// parabolicShifts refines each lag by fitting a parabola through it and its
// neighbours. Edges and degenerate fits get no shift.
func parabolicShifts(dst, y []float64) {
	n := len(y)
	if n == 0 {
		return
	}
	dst[0] = 0
	dst[n-1] = 0
	for i := 1; i < n-1; i++ {
		a := y[i+1] + y[i-1] - 2*y[i]
		b := (y[i+1] - y[i-1]) / 2
		if a == 0 || math.Abs(b) >= math.Abs(a) {
			dst[i] = 0
			continue
		}
		dst[i] = -b / a
	}
}

// troughs appends the indices of local minima of y to dst. The first lag is a
// trough if it is below its right neighbour; the last if below its left one.
func troughs(dst []int, y []float64) []int {
	n := len(y)
	if n < 2 {
		return dst
	}
	if y[0] < y[1] {
		dst = append(dst, 0)
	}
	for i := 1; i < n-1; i++ {
		if y[i] < y[i-1] && y[i] <= y[i+1] {
			dst = append(dst, i)
		}
	}
	if y[n-1] < y[n-2] {
		dst = append(dst, n-1)
	}
	return dst
}
