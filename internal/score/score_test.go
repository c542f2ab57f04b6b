package score_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/speakwell/internal/align"
	"github.com/MrWong99/speakwell/internal/score"
	"github.com/MrWong99/speakwell/internal/textnorm"
	"github.com/MrWong99/speakwell/pkg/types"
)

// input builds an aggregator input from expected text and recognizer words.
func input(expected string, words []types.TimedWord, prosody []types.WordProsody) score.Input {
	exp := textnorm.Tokens(expected)
	act := make([]string, len(words))
	for i, w := range words {
		act[i] = textnorm.Word(w.Word)
	}
	return score.Input{
		ExpectedText:   expected,
		ExpectedTokens: exp,
		Words:          words,
		Alignment:      align.Align(exp, act),
		Prosody:        prosody,
	}
}

func timed(text string, step float64) []types.TimedWord {
	var out []types.TimedWord
	for i, w := range strings.Fields(text) {
		start := float64(i) * step
		out = append(out, types.TimedWord{Word: w, Start: start, End: start + step*0.8, Confidence: types.Ptr(0.9)})
	}
	return out
}

type fakeHinter map[string]string

func (f fakeHinter) Phonemes(word string) (string, bool) {
	p, ok := f[word]
	return p, ok
}

type fakeNearMiss struct{}

func (fakeNearMiss) NearMiss(expected, actual string) (float64, bool) {
	return 0.9071, expected == "there" && actual == "their"
}

func TestAggregate_AllCorrect(t *testing.T) {
	t.Parallel()

	res := score.New().Aggregate(input("The cat sat.", timed("the cat sat", 0.5), nil))
	if res.Summary.WordAccuracy != 1 {
		t.Errorf("WordAccuracy = %v, want 1", res.Summary.WordAccuracy)
	}
	if res.Summary.ExpectedWords != 3 || res.Summary.CorrectWords != 3 {
		t.Errorf("expected/correct = %d/%d, want 3/3", res.Summary.ExpectedWords, res.Summary.CorrectWords)
	}
	for i, r := range res.PerWord {
		if r.Op != types.OpEqual || r.WordScore != 1 {
			t.Errorf("record %d: op=%s score=%v, want equal 1", i, r.Op, r.WordScore)
		}
	}
	if res.ActualText != "the cat sat" {
		t.Errorf("ActualText = %q", res.ActualText)
	}
}

func TestAggregate_OneMissingWord(t *testing.T) {
	t.Parallel()

	res := score.New().Aggregate(input("one two three four five", timed("one two four five", 0.4), nil))
	if res.Summary.WordAccuracy != 0.8 {
		t.Errorf("WordAccuracy = %v, want 0.8", res.Summary.WordAccuracy)
	}
	deletes := 0
	for _, r := range res.PerWord {
		if r.Op == types.OpDelete {
			deletes++
			if *r.Expected != "three" || r.WordScore != 0 || r.Start != nil {
				t.Errorf("delete record = %+v", r)
			}
		}
	}
	if deletes != 1 {
		t.Errorf("deletes = %d, want 1", deletes)
	}
}

func TestAggregate_EmptyExpected(t *testing.T) {
	t.Parallel()

	res := score.New().Aggregate(input("", timed("hello world", 0.5), nil))
	if res.Summary.WordAccuracy != 0 || res.Summary.ExpectedWords != 0 {
		t.Errorf("summary = %+v, want zero accuracy and expected", res.Summary)
	}
	for i, r := range res.PerWord {
		if r.Op != types.OpInsert || r.WordScore != 0 {
			t.Errorf("record %d: op=%s score=%v, want insert 0", i, r.Op, r.WordScore)
		}
	}
}

func TestAggregate_ReplaceScore(t *testing.T) {
	t.Parallel()

	words := []types.TimedWord{
		{Word: "I", Start: 0, End: 0.2, Confidence: types.Ptr(1.0)},
		{Word: "sew", Start: 0.3, End: 0.5, Confidence: types.Ptr(0.37)},
		{Word: "the", Start: 0.6, End: 0.7},
	}
	tests := []struct {
		name string
		agg  *score.Aggregator
		want []float64
	}{
		{name: "default", agg: score.New(), want: []float64{1, 0.37, 0.4}},
		{name: "configured", agg: score.New(score.WithReplaceScore(0.25)), want: []float64{1, 0.37, 0.25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := tt.agg.Aggregate(input("i saw a", words, nil))
			got := make([]float64, len(res.PerWord))
			for i, r := range res.PerWord {
				got[i] = r.WordScore
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("word scores mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAggregate_ConfidenceRounded(t *testing.T) {
	t.Parallel()

	words := []types.TimedWord{
		{Word: "hello", Start: 0, End: 0.4, Confidence: types.Ptr(0.987654)},
		{Word: "word", Start: 0.5, End: 0.9, Confidence: types.Ptr(0.123456)},
	}
	res := score.New().Aggregate(input("hello world", words, nil))

	var got []float64
	for _, r := range res.PerWord {
		if r.WordConfidence != nil {
			got = append(got, *r.WordConfidence)
		}
	}
	if diff := cmp.Diff([]float64{0.988, 0.123}, got); diff != "" {
		t.Errorf("word confidences mismatch (-want +got):\n%s", diff)
	}
	if res.PerWord[1].WordScore != 0.123 {
		t.Errorf("replace word score = %v, want 0.123", res.PerWord[1].WordScore)
	}
}

func TestAggregate_ActualKeepsRecognizerForm(t *testing.T) {
	t.Parallel()

	words := []types.TimedWord{{Word: " Hello,", Start: 0.1234, End: 0.5678, Confidence: types.Ptr(0.8)}}
	res := score.New().Aggregate(input("hello", words, nil))
	rec := res.PerWord[0]
	if *rec.Actual != " Hello," {
		t.Errorf("Actual = %q, want raw recognizer word", *rec.Actual)
	}
	if *rec.Start != 0.123 || *rec.End != 0.568 {
		t.Errorf("Start/End = %v/%v, want 0.123/0.568", *rec.Start, *rec.End)
	}
	if *rec.WordConfidence != 0.8 {
		t.Errorf("WordConfidence = %v, want 0.8", *rec.WordConfidence)
	}
	if res.ActualText != "Hello," {
		t.Errorf("ActualText = %q, want trimmed join", res.ActualText)
	}
}

func TestAggregate_Notes(t *testing.T) {
	t.Parallel()

	words := []types.TimedWord{
		{Word: "over", Start: 0, End: 0.3},
		{Word: "their", Start: 0.4, End: 0.7},
	}
	prosody := []types.WordProsody{
		{Reliable: types.Ptr(true)},
		{Reliable: types.Ptr(false), UnreliableReasons: []string{types.ReasonFewFrames, types.ReasonVeryLowEnergy}},
	}
	agg := score.New(
		score.WithNearMiss(fakeNearMiss{}),
		score.WithPhonemes(fakeHinter{"there": "DH EH1 R"}),
	)
	res := agg.Aggregate(input("over there", words, prosody))

	if len(res.PerWord[0].Notes) != 0 {
		t.Errorf("reliable word notes = %v, want none", res.PerWord[0].Notes)
	}
	rec := res.PerWord[1]
	want := []string{"prosody_unreliable:few_frames,very_low_energy", "phonetic_near_miss:0.907"}
	if diff := cmp.Diff(want, rec.Notes); diff != "" {
		t.Errorf("notes mismatch (-want +got):\n%s", diff)
	}
	if rec.Phonemes == nil || *rec.Phonemes != "DH EH1 R" {
		t.Errorf("Phonemes = %v, want DH EH1 R", rec.Phonemes)
	}
	if rec.WordScore != 0.4 {
		t.Errorf("near miss changed score: %v", rec.WordScore)
	}
}

func TestAggregate_RecordsWithoutActualHaveEmptyProsody(t *testing.T) {
	t.Parallel()

	res := score.New().Aggregate(input("a b", []types.TimedWord{{Word: "a", End: 0.2}},
		[]types.WordProsody{{EnergyDBMean: types.Ptr(-20.0), Reliable: types.Ptr(true)}}))
	if diff := cmp.Diff(types.WordProsody{}, res.PerWord[1].Prosody); diff != "" {
		t.Errorf("delete record prosody not empty (-want +got):\n%s", diff)
	}
	if res.PerWord[1].Notes == nil {
		t.Error("Notes must never be nil")
	}
}

func TestAggregate_Pacing(t *testing.T) {
	t.Parallel()

	words := []types.TimedWord{
		{Word: "a", Start: 1.0, End: 1.5},
		{Word: "b", Start: 1.7, End: 2.0},
		{Word: "c", Start: 1.9, End: 3.0},
	}
	s := score.New().Aggregate(input("a b c", words, nil)).Summary
	if s.UtteranceDurationS != 2 {
		t.Errorf("UtteranceDurationS = %v, want 2", s.UtteranceDurationS)
	}
	if s.WPM != 90 {
		t.Errorf("WPM = %v, want 90", s.WPM)
	}
	// Pauses: 0.2 and max(0, -0.1) = 0.
	if s.AvgPauseS != 0.1 {
		t.Errorf("AvgPauseS = %v, want 0.1", s.AvgPauseS)
	}

	empty := score.New().Aggregate(input("a", nil, nil)).Summary
	if empty.WPM != 0 || empty.AvgPauseS != 0 || empty.UtteranceDurationS != 0 {
		t.Errorf("pacing without words = %+v, want zeros", empty)
	}

	instant := score.New().Aggregate(input("a", []types.TimedWord{{Word: "a", Start: 1, End: 1}}, nil)).Summary
	if instant.WPM != 60000 {
		t.Errorf("zero-length utterance WPM = %v, want 60000", instant.WPM)
	}
}

func TestAggregate_ProsodySummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prosody []types.WordProsody
		want    types.ProsodySummary
	}{
		{
			name: "prefers reliable words",
			prosody: []types.WordProsody{
				{F0MeanHz: types.Ptr(200.0), EnergyDBMean: types.Ptr(-20.0), Reliable: types.Ptr(true)},
				{F0MeanHz: types.Ptr(220.0), EnergyDBMean: types.Ptr(-30.0), Reliable: types.Ptr(true)},
				{F0MeanHz: types.Ptr(900.0), EnergyDBMean: types.Ptr(-90.0), Reliable: types.Ptr(false)},
			},
			want: types.ProsodySummary{AvgF0Hz: 210, F0StdHzOverWords: 10, AvgEnergyDB: -25, Coverage: 0.667},
		},
		{
			name: "falls back to all words",
			prosody: []types.WordProsody{
				{F0MeanHz: types.Ptr(100.0), EnergyDBMean: types.Ptr(-90.0), Reliable: types.Ptr(false)},
				{F0MeanHz: types.Ptr(300.0), EnergyDBMean: types.Ptr(-100.0), Reliable: types.Ptr(false)},
			},
			want: types.ProsodySummary{AvgF0Hz: 200, F0StdHzOverWords: 100, AvgEnergyDB: -95, Coverage: 0},
		},
		{
			name:    "defaults",
			prosody: []types.WordProsody{{}},
			want:    types.ProsodySummary{AvgF0Hz: 0, AvgEnergyDB: -120, Coverage: 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			words := make([]types.TimedWord, len(tt.prosody))
			for i := range words {
				words[i] = types.TimedWord{Word: "w", Start: float64(i), End: float64(i) + 0.5}
			}
			got := score.New().Aggregate(input("w", words, tt.prosody)).Summary.Prosody
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("prosody summary mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAggregate_IndexInvariants(t *testing.T) {
	t.Parallel()

	res := score.New().Aggregate(input("the quick brown fox jumps", timed("a quick brown dog jumps high", 0.3), nil))
	expected, actual := 0, 0
	for i, r := range res.PerWord {
		if (r.ExpectedIdx != nil) != r.Op.ConsumesExpected() {
			t.Errorf("record %d (%s): expected_idx presence wrong", i, r.Op)
		}
		if (r.ActualIdx != nil) != r.Op.ConsumesActual() {
			t.Errorf("record %d (%s): actual_idx presence wrong", i, r.Op)
		}
		if r.ExpectedIdx != nil {
			expected++
		}
		if r.ActualIdx != nil {
			actual++
		}
		if r.WordScore < 0 || r.WordScore > 1 {
			t.Errorf("record %d: score %v out of range", i, r.WordScore)
		}
	}
	if expected != 5 || actual != 6 {
		t.Errorf("expected/actual entries = %d/%d, want 5/6", expected, actual)
	}
}
