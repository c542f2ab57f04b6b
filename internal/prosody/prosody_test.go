package prosody_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/speakwell/internal/prosody"
	"github.com/MrWong99/speakwell/pkg/types"
)

func twoWords() []types.TimedWord {
	return []types.TimedWord{
		{Word: "hello", Start: 0, End: 0.5},
		{Word: "there", Start: 0.5, End: 1.0},
	}
}

func TestExtract_Silence(t *testing.T) {
	t.Parallel()

	e := prosody.NewExtractor(prosody.DefaultConfig())
	a, err := e.Extract(context.Background(), make([]float64, testRate), testRate, twoWords())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !a.Fallback {
		t.Error("silence should fall back to the secondary tracker")
	}
	for i, w := range a.Words {
		if w.Reliable == nil || *w.Reliable {
			t.Errorf("word %d: reliable = %v, want false", i, w.Reliable)
		}
		for _, r := range []string{types.ReasonVeryLowEnergy, types.ReasonLowVoicingLowEnergy} {
			if !slices.Contains(w.UnreliableReasons, r) {
				t.Errorf("word %d: reasons %v missing %q", i, w.UnreliableReasons, r)
			}
		}
		if w.VoicedRatio == nil || *w.VoicedRatio != 0 {
			t.Errorf("word %d: voiced ratio = %v, want 0", i, w.VoicedRatio)
		}
	}
}

func TestExtract_EmptyAudio(t *testing.T) {
	t.Parallel()

	e := prosody.NewExtractor(prosody.DefaultConfig())
	a, err := e.Extract(context.Background(), nil, testRate, twoWords())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := types.WordProsody{
		EnergyDBMean: types.Ptr(-120.0),
		VoicedRatio:  types.Ptr(0.0),
		StressScore:  types.Ptr(0.02),
		Reliable:     types.Ptr(false),
		UnreliableReasons: []string{
			types.ReasonFewFrames,
			types.ReasonLowVoicingLowEnergy,
			types.ReasonVeryLowEnergy,
		},
	}
	if len(a.Words) != 2 {
		t.Fatalf("len(Words) = %d, want 2", len(a.Words))
	}
	for i, w := range a.Words {
		if diff := cmp.Diff(want, w); diff != "" {
			t.Errorf("word %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestExtract_NoisySecondWord(t *testing.T) {
	t.Parallel()

	// Word 1 is a steady tone; word 2 jumps between implausible pitches.
	tracker := &fakeTracker{name: "fake", fn: func(sec float64) float64 {
		if sec < 0.5 {
			return 220
		}
		if int(sec*testRate/testHop)%2 == 0 {
			return 20
		}
		return 1000
	}}
	e := prosody.NewExtractor(prosody.DefaultConfig(), prosody.WithTracker(tracker))
	a, err := e.Extract(context.Background(), sine(220, 0.5, 1), testRate, twoWords())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	first, second := a.Words[0], a.Words[1]
	if first.Reliable == nil || !*first.Reliable {
		t.Errorf("first word: reliable = %v, reasons %v; want reliable", first.Reliable, first.UnreliableReasons)
	}
	if got := *first.F0MeanHz; got != 220 {
		t.Errorf("first word f0 = %v, want 220", got)
	}
	if second.Reliable == nil || *second.Reliable {
		t.Fatalf("second word: reliable = %v, want false", second.Reliable)
	}
	if !slices.Contains(second.UnreliableReasons, types.ReasonManyOutliers) &&
		!slices.Contains(second.UnreliableReasons, types.ReasonF0OutOfRange) {
		t.Errorf("second word reasons = %v, want many_outliers or f0_out_of_range", second.UnreliableReasons)
	}
	if a.Tracker != "fake" {
		t.Errorf("Tracker = %q, want fake", a.Tracker)
	}
}

func TestExtract_TrackerFailureDegrades(t *testing.T) {
	t.Parallel()

	tracker := &fakeTracker{name: "broken", err: errors.New("boom")}
	e := prosody.NewExtractor(prosody.DefaultConfig(), prosody.WithTracker(tracker))
	a, err := e.Extract(context.Background(), sine(220, 0.5, 1), testRate, twoWords())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if a.Tracker != "none" || !a.Fallback {
		t.Errorf("Tracker = %q, Fallback = %v; want none, true", a.Tracker, a.Fallback)
	}
	for i, w := range a.Words {
		if *w.VoicedRatio != 0 {
			t.Errorf("word %d voiced ratio = %v, want 0", i, *w.VoicedRatio)
		}
		if *w.F0MeanHz != 0 {
			t.Errorf("word %d f0 = %v, want 0", i, *w.F0MeanHz)
		}
	}
}

func TestExtract_StressRange(t *testing.T) {
	t.Parallel()

	// Loud first half, quiet second half.
	samples := sine(200, 0.8, 1)
	for i := len(samples) / 2; i < len(samples); i++ {
		samples[i] *= 0.01
	}
	e := prosody.NewExtractor(prosody.DefaultConfig(), prosody.WithTracker(&fakeTracker{name: "flat", fn: constant(200)}))
	a, err := e.Extract(context.Background(), samples, testRate, twoWords())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for i, w := range a.Words {
		if w.StressScore == nil || *w.StressScore < 0.02 || *w.StressScore > 1 {
			t.Errorf("word %d stress = %v, want within [0.02, 1]", i, w.StressScore)
		}
	}
	if *a.Words[0].StressScore != 1 {
		t.Errorf("loud word stress = %v, want 1", *a.Words[0].StressScore)
	}
	if *a.Words[1].StressScore != 0.02 {
		t.Errorf("quiet word stress = %v, want 0.02", *a.Words[1].StressScore)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	t.Parallel()

	e := prosody.NewExtractor(prosody.DefaultConfig())
	samples := sine(180, 0.4, 0.6)
	words := []types.TimedWord{{Word: "a", Start: 0, End: 0.3}, {Word: "b", Start: 0.3, End: 0.6}}

	first, err := e.Extract(context.Background(), samples, testRate, words)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	second, err := e.Extract(context.Background(), samples, testRate, words)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated extraction differs (-first +second):\n%s", diff)
	}
}

func TestExtract_NoWords(t *testing.T) {
	t.Parallel()

	e := prosody.NewExtractor(prosody.DefaultConfig())
	a, err := e.Extract(context.Background(), sine(220, 0.5, 0.2), testRate, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(a.Words) != 0 {
		t.Errorf("len(Words) = %d, want 0", len(a.Words))
	}
}
