package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedWAV is returned for WAV files that are not integer PCM.
var ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding")

// wavFormatPCM is the RIFF audio format tag for integer PCM.
const wavFormatPCM = 1

// DecodeWAV reads an integer PCM WAV stream of any sample rate, bit depth and
// channel count and returns it as a mono [Waveform].
func DecodeWAV(r io.ReadSeeker) (Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Waveform{}, fmt.Errorf("audio: not a valid WAV file")
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return Waveform{}, fmt.Errorf("%w: format tag %d (only PCM=1 supported)", ErrUnsupportedWAV, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: decode WAV: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return Waveform{}, fmt.Errorf("audio: decode WAV: missing format")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	if depth != 8 && depth != 16 && depth != 24 && depth != 32 {
		return Waveform{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, depth)
	}

	scale := float64(int64(1) << (depth - 1))
	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for ch := range channels {
			v := float64(buf.Data[i*channels+ch])
			if depth == 8 {
				// 8-bit WAV samples are unsigned.
				v -= 128
			}
			sum += v / scale
		}
		out[i] = clamp(sum / float64(channels))
	}
	return Waveform{Samples: out, SampleRate: buf.Format.SampleRate}, nil
}

// DecodeWAVFile is a convenience wrapper that opens a file path.
func DecodeWAVFile(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// EncodeWAV writes w as 16-bit mono PCM.
func EncodeWAV(out io.WriteSeeker, w Waveform) error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("audio: encode WAV: invalid sample rate %d", w.SampleRate)
	}
	data := make([]int, len(w.Samples))
	for i, v := range w.Samples {
		data[i] = int(math.Round(clamp(v) * math.MaxInt16))
	}
	enc := wav.NewEncoder(out, w.SampleRate, 16, 1, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: encode WAV: %w", err)
	}
	return nil
}

// EncodeWAVFile writes w to a new file at path.
func EncodeWAVFile(path string, w Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, w); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
