package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
)

// FromInt16 converts 16-bit signed samples to a [Waveform].
func FromInt16(samples []int16, sampleRate int) Waveform {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768.0
	}
	return Waveform{Samples: out, SampleRate: sampleRate}
}

// FromFloat32 converts 32-bit float samples to a [Waveform]. Values outside
// [-1.0, 1.0] are clamped and NaN samples become silence.
func FromFloat32(samples []float32, sampleRate int) Waveform {
	out := make([]float64, len(samples))
	clipped := 0
	for i, s := range samples {
		v := float64(s)
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
			clipped++
		case v < -1:
			v = -1
			clipped++
		}
		out[i] = v
	}
	if clipped > 0 {
		slog.Debug("audio: clamped out-of-range float samples", "clipped", clipped, "total", len(samples))
	}
	return Waveform{Samples: out, SampleRate: sampleRate}
}

// FromPCM16 converts little-endian 16-bit PCM with the given channel count to
// a mono [Waveform] by averaging all channels per frame. Any trailing partial
// frame is ignored.
func FromPCM16(pcm []byte, sampleRate, channels int) Waveform {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float64(sample) / 32768.0
		}
		out[i] = sum / float64(channels)
	}
	return Waveform{Samples: out, SampleRate: sampleRate}
}

// Resample returns w converted to dstRate using linear interpolation. If the
// rates already match, w is returned unchanged (zero allocation).
func (w Waveform) Resample(dstRate int) Waveform {
	if w.SampleRate <= 0 || dstRate <= 0 || w.SampleRate == dstRate {
		return w
	}
	return Waveform{
		Samples:    ResampleLinear(w.Samples, w.SampleRate, dstRate),
		SampleRate: dstRate,
	}
}

// ResampleLinear resamples mono samples from srcRate to dstRate using linear
// interpolation between neighbouring samples. If srcRate == dstRate, the input
// is returned unchanged.
func ResampleLinear(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := len(samples)
	dstSamples := int(int64(n) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float64, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < n {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
