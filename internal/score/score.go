// Package score merges an alignment, the recognizer's timed words and the
// per-word prosody into the final report.
//
// The aggregator is a pure function of its input: it assigns each alignment
// entry a word score, copies timing, confidence and prosody from the actual
// side, annotates notes, and computes the utterance summary (accuracy,
// pacing and prosody averages).
package score

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/speakwell/internal/phoneme"
	"github.com/MrWong99/speakwell/pkg/types"
)

// DefaultReplaceScore is the score of a substitution without a recognizer
// confidence.
const DefaultReplaceScore = 0.4

// Note prefixes.
const (
	NoteProsodyUnreliable = "prosody_unreliable:"
	NotePhoneticNearMiss  = "phonetic_near_miss:"
)

// Prosody summary defaults when no word carries a value.
const (
	defaultAvgF0Hz     = 0.0
	defaultAvgEnergyDB = -120.0
	minDurationS       = 0.001
)

// NearMisser detects substitutions that sound like the expected word.
type NearMisser interface {
	NearMiss(expected, actual string) (score float64, ok bool)
}

// Input is everything the aggregator needs for one utterance.
type Input struct {
	ExpectedText   string
	ExpectedTokens []string
	Words          []types.TimedWord
	Alignment      []types.AlignmentEntry

	// Prosody is 1:1 with Words. Words without an entry get empty prosody.
	Prosody []types.WordProsody
}

// Aggregator builds [types.ScoringResult] values. It holds only
// configuration and is safe for concurrent use.
type Aggregator struct {
	replaceScore float64
	phonemes     phoneme.Hinter
	nearMiss     NearMisser
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithReplaceScore sets the score of a substitution whose recognizer word has
// no confidence. Default: 0.4.
func WithReplaceScore(s float64) Option {
	return func(a *Aggregator) {
		a.replaceScore = s
	}
}

// WithPhonemes enables pronunciation hints for expected words.
func WithPhonemes(h phoneme.Hinter) Option {
	return func(a *Aggregator) {
		a.phonemes = h
	}
}

// WithNearMiss enables phonetic near-miss notes on substitutions.
func WithNearMiss(n NearMisser) Option {
	return func(a *Aggregator) {
		a.nearMiss = n
	}
}

// New creates an [Aggregator].
func New(opts ...Option) *Aggregator {
	a := &Aggregator{replaceScore: DefaultReplaceScore}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate produces the report for in.
func (a *Aggregator) Aggregate(in Input) *types.ScoringResult {
	perWord := make([]types.PerWordRecord, 0, len(in.Alignment))
	correct := 0
	for _, entry := range in.Alignment {
		rec := a.record(entry, in)
		if rec.Op == types.OpEqual {
			correct++
		}
		perWord = append(perWord, rec)
	}

	raw := make([]string, len(in.Words))
	for i, w := range in.Words {
		raw[i] = w.Word
	}

	summary := pacing(in.Words)
	summary.ExpectedWords = len(in.ExpectedTokens)
	summary.CorrectWords = correct
	if summary.ExpectedWords > 0 {
		summary.WordAccuracy = scalar.Round(float64(correct)/float64(summary.ExpectedWords), 3)
	}
	summary.Prosody = prosodySummary(in.Prosody)

	return &types.ScoringResult{
		ExpectedText: in.ExpectedText,
		ActualText:   strings.TrimSpace(strings.Join(raw, " ")),
		PerWord:      perWord,
		Summary:      summary,
	}
}

func (a *Aggregator) record(entry types.AlignmentEntry, in Input) types.PerWordRecord {
	rec := types.PerWordRecord{AlignmentEntry: entry, Notes: []string{}}
	if entry.ActualIdx != nil && *entry.ActualIdx >= 0 && *entry.ActualIdx < len(in.Words) {
		w := in.Words[*entry.ActualIdx]
		rec.Start = types.Ptr(scalar.Round(w.Start, 3))
		rec.End = types.Ptr(scalar.Round(w.End, 3))
		if w.Confidence != nil {
			rec.WordConfidence = types.Ptr(scalar.Round(*w.Confidence, 3))
		}
		rec.Actual = types.Ptr(w.Word)

		if *entry.ActualIdx < len(in.Prosody) {
			rec.Prosody = in.Prosody[*entry.ActualIdx]
			if reasons := rec.Prosody.UnreliableReasons; len(reasons) > 0 {
				rec.Notes = append(rec.Notes, NoteProsodyUnreliable+strings.Join(reasons, ","))
			}
		}
	}

	switch entry.Op {
	case types.OpEqual:
		rec.WordScore = 1
	case types.OpReplace:
		rec.WordScore = a.replaceScore
		if rec.WordConfidence != nil {
			rec.WordScore = *rec.WordConfidence
		}
		rec.WordScore = scalar.Round(min(1, max(0, rec.WordScore)), 3)
		if a.nearMiss != nil && entry.Expected != nil && entry.Actual != nil {
			if s, ok := a.nearMiss.NearMiss(*entry.Expected, *entry.Actual); ok {
				rec.Notes = append(rec.Notes, fmt.Sprintf("%s%.3f", NotePhoneticNearMiss, s))
			}
		}
	default:
		rec.WordScore = 0
	}

	if a.phonemes != nil && entry.Expected != nil {
		if p, ok := a.phonemes.Phonemes(*entry.Expected); ok {
			rec.Phonemes = types.Ptr(p)
		}
	}
	return rec
}

// pacing computes speaking rate and pauses from the timed words. All values
// are zero without words.
func pacing(words []types.TimedWord) types.Summary {
	var s types.Summary
	if len(words) == 0 {
		return s
	}
	duration := max(minDurationS, words[len(words)-1].End-words[0].Start)
	s.UtteranceDurationS = scalar.Round(duration, 3)
	s.WPM = scalar.Round(float64(len(words))/duration*60, 1)

	if len(words) > 1 {
		pauses := make([]float64, 0, len(words)-1)
		for i := 1; i < len(words); i++ {
			pauses = append(pauses, max(0, words[i].Start-words[i-1].End))
		}
		s.AvgPauseS = scalar.Round(stat.Mean(pauses, nil), 3)
	}
	return s
}

// prosodySummary averages word prosody, preferring reliable words when any
// carry a value.
func prosodySummary(words []types.WordProsody) types.ProsodySummary {
	var f0All, f0Rel, energyAll, energyRel []float64
	reliable := 0
	for _, w := range words {
		ok := w.Reliable != nil && *w.Reliable
		if ok {
			reliable++
		}
		if w.F0MeanHz != nil {
			f0All = append(f0All, *w.F0MeanHz)
			if ok {
				f0Rel = append(f0Rel, *w.F0MeanHz)
			}
		}
		if w.EnergyDBMean != nil {
			energyAll = append(energyAll, *w.EnergyDBMean)
			if ok {
				energyRel = append(energyRel, *w.EnergyDBMean)
			}
		}
	}

	f0 := f0Rel
	if len(f0) == 0 {
		f0 = f0All
	}
	energy := energyRel
	if len(energy) == 0 {
		energy = energyAll
	}

	out := types.ProsodySummary{
		AvgF0Hz:     defaultAvgF0Hz,
		AvgEnergyDB: defaultAvgEnergyDB,
		Coverage:    scalar.Round(float64(reliable)/float64(max(1, len(words))), 3),
	}
	if len(f0) > 0 {
		mean, std := stat.PopMeanStdDev(f0, nil)
		out.AvgF0Hz = scalar.Round(mean, 1)
		out.F0StdHzOverWords = scalar.Round(std, 1)
	}
	if len(energy) > 0 {
		out.AvgEnergyDB = scalar.Round(stat.Mean(energy, nil), 3)
	}
	return out
}
