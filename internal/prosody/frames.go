package prosody

import "math"

// frameCount returns the number of centred analysis frames for n samples.
// Frames are centred on multiples of hop, with the signal zero padded by half
// a frame on both sides.
func frameCount(n, hop int) int {
	if n <= 0 || hop <= 0 {
		return 0
	}
	return 1 + n/hop
}

// centredFrame copies frame i into dst, zero filling outside the signal.
// len(dst) is the frame length.
func centredFrame(dst, samples []float64, i, hop int) {
	start := i*hop - len(dst)/2
	for k := range dst {
		j := start + k
		if j < 0 || j >= len(samples) {
			dst[k] = 0
			continue
		}
		dst[k] = samples[j]
	}
}

// frameTimes returns the centre time in seconds of each of n frames.
func frameTimes(n, hop, sampleRate int) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i*hop) / float64(sampleRate)
	}
	return times
}

// energyContour computes the short-time RMS energy of each centred frame in
// decibels: 20*log10(rms + 1e-9).
func energyContour(samples []float64, frameLength, hop int) []float64 {
	n := frameCount(len(samples), hop)
	out := make([]float64, n)
	frame := make([]float64, frameLength)
	for i := range n {
		centredFrame(frame, samples, i, hop)
		var sum float64
		for _, v := range frame {
			sum += v * v
		}
		rms := math.Sqrt(sum / float64(frameLength))
		out[i] = 20 * math.Log10(rms+1e-9)
	}
	return out
}

// fillUnvoiced replaces NaN entries by linear interpolation between the
// nearest voiced neighbours. Leading and trailing gaps hold the nearest voiced
// value. A contour without any voiced frame becomes all zeros.
func fillUnvoiced(f0 []float64) []float64 {
	out := make([]float64, len(f0))
	prev := -1
	for i, v := range f0 {
		if math.IsNaN(v) {
			continue
		}
		out[i] = v
		switch {
		case prev == -1:
			for k := range i {
				out[k] = v
			}
		case i-prev > 1:
			left := f0[prev]
			step := (v - left) / float64(i-prev)
			for k := prev + 1; k < i; k++ {
				out[k] = left + step*float64(k-prev)
			}
		}
		prev = i
	}
	if prev == -1 {
		return out
	}
	for k := prev + 1; k < len(f0); k++ {
		out[k] = f0[prev]
	}
	return out
}

// smooth applies a centred moving average of the given window. At the edges
// the average covers only the samples inside the contour. Contours shorter
// than the window are returned as a copy.
func smooth(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	if window <= 1 || len(x) < window {
		copy(out, x)
		return out
	}
	half := window / 2
	for i := range x {
		lo := max(0, i-half)
		hi := min(len(x), i-half+window)
		var sum float64
		for _, v := range x[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}
