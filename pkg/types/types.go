// Package types defines the shared types used across all speakwell packages.
//
// These types form the lingua franca between the tokenizer, the word aligner,
// the prosody extractor and the score aggregator. Their JSON encoding is the
// stable output contract consumed by feedback generators and UIs, so field
// names and the null/absent semantics must not change without a version bump.
//
// Optional values are modelled as pointers: nil means "not available", which is
// never the same as a computed zero.
package types

import "encoding/json"

// Op is the kind of an edit-script element.
type Op string

const (
	// OpEqual pairs an expected token with an identical actual token.
	OpEqual Op = "equal"

	// OpReplace pairs an expected token with a different actual token.
	OpReplace Op = "replace"

	// OpInsert is an actual token with no expected counterpart.
	OpInsert Op = "insert"

	// OpDelete is an expected token the speaker never said.
	OpDelete Op = "delete"
)

// ConsumesExpected reports whether entries of this op carry an expected-side index.
func (o Op) ConsumesExpected() bool {
	return o == OpEqual || o == OpReplace || o == OpDelete
}

// ConsumesActual reports whether entries of this op carry an actual-side index.
func (o Op) ConsumesActual() bool {
	return o == OpEqual || o == OpReplace || o == OpInsert
}

// UnknownWord is the placeholder used for recognizer words whose text could
// not be recovered.
const UnknownWord = "<unk>"

// TimedWord is a recognized word with its position in the source audio.
type TimedWord struct {
	// Word is the recognizer's surface form (not normalized).
	Word string `json:"word"`

	// Start and End are offsets into the audio in seconds.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Confidence is the recognizer-reported confidence, nil when absent.
	Confidence *float64 `json:"confidence"`
}

// AlignmentEntry is one element of the edit script between the expected and
// the actual token sequences.
//
// ExpectedIdx is non-nil iff Op consumes an expected token (equal, replace,
// delete); ActualIdx is non-nil iff Op consumes an actual token (equal,
// replace, insert).
type AlignmentEntry struct {
	Op          Op      `json:"op"`
	ExpectedIdx *int    `json:"expected_idx"`
	Expected    *string `json:"expected"`
	ActualIdx   *int    `json:"actual_idx"`
	Actual      *string `json:"actual"`
}

// Reason codes explaining why a word's prosody is unreliable.
const (
	ReasonFewFrames           = "few_frames"
	ReasonLowVoicingLowEnergy = "low_voicing_low_energy"
	ReasonF0OutOfRange        = "f0_out_of_range"
	ReasonHighF0Variability   = "high_f0_variability"
	ReasonManyOutliers        = "many_outliers"
	ReasonVeryLowEnergy       = "very_low_energy"
)

// WordProsody holds the pitch and energy characteristics of one observed word.
type WordProsody struct {
	F0MeanHz     *float64 `json:"f0_mean_hz"`
	F0StdHz      *float64 `json:"f0_std_hz"`
	EnergyDBMean *float64 `json:"energy_db_mean"`
	VoicedRatio  *float64 `json:"voiced_ratio"`

	// StressScore is the word's energy prominence relative to the rest of
	// the utterance, in [0.02, 1.0] whenever EnergyDBMean is set.
	StressScore *float64 `json:"stress_score"`

	// Reliable is nil when no prosody was computed for the record at all.
	Reliable *bool `json:"prosody_reliable"`

	// UnreliableReasons lists reason codes in evaluation order. Empty when
	// Reliable is true.
	UnreliableReasons []string `json:"unreliable_reasons,omitempty"`
}

// PerWordRecord is one row of the final report.
type PerWordRecord struct {
	AlignmentEntry

	WordConfidence *float64 `json:"word_confidence"`
	Start          *float64 `json:"start"`
	End            *float64 `json:"end"`

	// WordScore is in [0, 1].
	WordScore float64 `json:"word_score"`

	// Phonemes is an optional pronunciation hint for the expected word.
	Phonemes *string `json:"phonemes"`

	// Notes carries machine-readable annotations such as
	// "prosody_unreliable:very_low_energy". Never nil.
	Notes []string `json:"notes"`

	// Prosody is always present; every field is nil for records without an
	// actual-side word.
	Prosody WordProsody `json:"prosody"`
}

// ProsodySummary aggregates word prosody over the utterance.
type ProsodySummary struct {
	AvgF0Hz          float64 `json:"avg_f0_hz"`
	F0StdHzOverWords float64 `json:"f0_std_hz_over_words"`
	AvgEnergyDB      float64 `json:"avg_energy_db"`

	// Coverage is the fraction of timed words whose prosody is reliable.
	Coverage float64 `json:"prosody_coverage"`
}

// Summary holds the utterance-level statistics.
type Summary struct {
	ExpectedWords      int            `json:"expected_words"`
	CorrectWords       int            `json:"correct_words"`
	WordAccuracy       float64        `json:"word_accuracy"`
	WPM                float64        `json:"wpm"`
	AvgPauseS          float64        `json:"avg_pause_s"`
	UtteranceDurationS float64        `json:"utterance_duration_s"`
	Prosody            ProsodySummary `json:"prosody"`
}

// ScoringResult is the complete report for one utterance.
type ScoringResult struct {
	ExpectedText string          `json:"expected_text"`
	ActualText   string          `json:"actual_text"`
	PerWord      []PerWordRecord `json:"per_word"`
	Summary      Summary         `json:"summary"`

	// Debug previews, only populated when debug output was requested. They
	// are not part of the stable contract.
	DebugSegments []json.RawMessage `json:"_debug_segments_preview,omitempty"`
	DebugProsody  []WordProsody     `json:"_debug_prosody_words,omitempty"`
}

// Ptr returns a pointer to v. Handy for building optional fields.
func Ptr[T any](v T) *T {
	return &v
}
