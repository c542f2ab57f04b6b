// Package scorer is the alignment-scoring engine. It turns an expected
// sentence, a timed word hypothesis and the utterance audio into a
// [types.ScoringResult].
//
// The text side (tokenize and align) and the audio side (prosody extraction)
// run concurrently and are joined by the score aggregator. A [Scorer] holds
// only immutable configuration and may be shared across goroutines.
package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakwell/internal/align"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/hypothesis"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/phoneme"
	"github.com/MrWong99/speakwell/internal/phonetic"
	"github.com/MrWong99/speakwell/internal/prosody"
	"github.com/MrWong99/speakwell/internal/score"
	"github.com/MrWong99/speakwell/internal/textnorm"
	"github.com/MrWong99/speakwell/pkg/audio"
	"github.com/MrWong99/speakwell/pkg/types"
)

// ErrSampleRateMismatch is returned when the audio sample rate differs from
// the configured rate and resampling is disabled.
var ErrSampleRateMismatch = errors.New("scorer: sample rate mismatch")

// ErrInvalidAudio is returned for non-empty audio without a positive sample
// rate.
var ErrInvalidAudio = errors.New("scorer: invalid audio")

// ErrAudioTooLong is returned for audio longer than the configured
// scoring.max_audio_seconds.
var ErrAudioTooLong = errors.New("scorer: audio too long")

// Number of entries kept in the debug previews.
const (
	debugSegments = 4
	debugProsody  = 8
)

// Request is one utterance to score.
type Request struct {
	// ExpectedText is the sentence the speaker was asked to say.
	ExpectedText string

	// Aligned is the raw aligned-result JSON from the upstream recognizer or
	// aligner. When set it takes precedence over Words.
	Aligned json.RawMessage

	// Words is an already flattened hypothesis.
	Words []types.TimedWord

	// Audio is the utterance waveform.
	Audio audio.Waveform

	// Hypothesis is the recognizer's flat transcript, used to recover word
	// texts missing from the timed words.
	Hypothesis string

	// Debug attaches segment and prosody previews to the result.
	Debug bool
}

// Scorer scores utterances. Create one with [New].
type Scorer struct {
	cfg      *config.Config
	registry *config.Registry
	tracker  prosody.PitchTracker
	phonemes phoneme.Hinter
	metrics  *observe.Metrics

	extractor  *prosody.Extractor
	aggregator *score.Aggregator
}

// Option configures a [Scorer].
type Option func(*Scorer)

// WithConfig sets the scoring and prosody configuration. Default:
// [config.Default].
func WithConfig(cfg *config.Config) Option {
	return func(s *Scorer) {
		s.cfg = cfg
	}
}

// WithRegistry sets the registry used to build the configured pitch
// trackers. Default: [config.NewRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(s *Scorer) {
		s.registry = r
	}
}

// WithPitchTracker bypasses the registry and uses t for pitch tracking.
func WithPitchTracker(t prosody.PitchTracker) Option {
	return func(s *Scorer) {
		s.tracker = t
	}
}

// WithPhonemes enables phoneme hints for expected words.
func WithPhonemes(h phoneme.Hinter) Option {
	return func(s *Scorer) {
		s.phonemes = h
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scorer) {
		s.metrics = m
	}
}

// New creates a [Scorer]. It fails when the configured pitch trackers cannot
// be built.
func New(opts ...Option) (*Scorer, error) {
	s := &Scorer{}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if s.registry == nil {
		s.registry = config.NewRegistry()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.tracker == nil {
		t, err := s.registry.BuildTracker(s.cfg.Prosody)
		if err != nil {
			return nil, fmt.Errorf("scorer: build pitch tracker: %w", err)
		}
		s.tracker = t
	}

	s.extractor = prosody.NewExtractor(s.cfg.Prosody.Analysis(), prosody.WithTracker(s.tracker))

	aggOpts := []score.Option{score.WithReplaceScore(s.cfg.Scoring.ReplaceDefaultScore)}
	if s.phonemes != nil {
		aggOpts = append(aggOpts, score.WithPhonemes(s.phonemes))
	}
	if th := s.cfg.Scoring.NearMissThreshold; th > 0 {
		aggOpts = append(aggOpts, score.WithNearMiss(phonetic.New(phonetic.WithPhoneticThreshold(th))))
	}
	s.aggregator = score.New(aggOpts...)
	return s, nil
}

// Score scores one utterance. Input errors wrap [hypothesis.ErrInvalidAligned],
// [ErrInvalidAudio], [ErrAudioTooLong] or [ErrSampleRateMismatch]; pitch tracking problems
// degrade the prosody instead of failing the call.
func (s *Scorer) Score(ctx context.Context, req Request) (_ *types.ScoringResult, err error) {
	start := time.Now()
	ctx, span := observe.StartScore(ctx)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordUtterance(ctx, status, time.Since(start))
		observe.EndSpan(span, err)
	}()
	log := observe.Logger(ctx)

	words, segments, err := s.words(ctx, req)
	if err != nil {
		return nil, err
	}

	wave, err := s.prepareAudio(ctx, req.Audio)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("speakwell.words", len(words)),
		attribute.Float64("speakwell.audio_seconds", wave.Duration().Seconds()),
	)

	var (
		expected  []string
		alignment []types.AlignmentEntry
		analysis  *prosody.Analysis
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.stage(gctx, observe.StageText)()
		expected = textnorm.Tokens(req.ExpectedText)
		actual := make([]string, len(words))
		for i, w := range words {
			actual[i] = textnorm.Word(w.Word)
		}
		alignment = align.Align(expected, actual)
		return nil
	})
	g.Go(func() error {
		defer s.stage(gctx, observe.StageProsody)()
		a, err := s.extractor.Extract(gctx, wave.Samples, wave.SampleRate, words)
		if err != nil {
			return fmt.Errorf("scorer: prosody: %w", err)
		}
		analysis = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if analysis.Fallback {
		s.metrics.RecordPitchFallback(ctx, analysis.Tracker)
		log.Debug("scorer: pitch contour from fallback tracker", "tracker", analysis.Tracker)
	}

	done := s.stage(ctx, observe.StageAggregate)
	res := s.aggregator.Aggregate(score.Input{
		ExpectedText:   req.ExpectedText,
		ExpectedTokens: expected,
		Words:          words,
		Alignment:      alignment,
		Prosody:        analysis.Words,
	})
	done()

	if req.Debug || s.cfg.Scoring.Debug {
		res.DebugSegments = segments[:min(len(segments), debugSegments)]
		res.DebugProsody = analysis.Words[:min(len(analysis.Words), debugProsody)]
	}

	s.record(ctx, res)
	log.Debug("scorer: utterance scored",
		"expected_words", res.Summary.ExpectedWords,
		"correct_words", res.Summary.CorrectWords,
		"frames", analysis.Frames,
		"tracker", analysis.Tracker,
	)
	return res, nil
}

// words resolves the timed words of req and back-fills missing texts.
func (s *Scorer) words(ctx context.Context, req Request) ([]types.TimedWord, []json.RawMessage, error) {
	words := req.Words
	var segments []json.RawMessage
	if len(req.Aligned) > 0 {
		parsed, err := hypothesis.Parse(req.Aligned)
		if err != nil {
			s.metrics.RecordInputError(ctx, "invalid_aligned")
			return nil, nil, fmt.Errorf("scorer: %w", err)
		}
		words, segments = parsed.Words, parsed.Segments
	}

	filled := hypothesis.Backfill(words, req.Hypothesis)
	for i := range words {
		if words[i].Word != filled[i].Word {
			observe.Logger(ctx).Debug("scorer: back-filled missing word text",
				"index", i,
				"word", filled[i].Word,
			)
		}
	}
	return filled, segments, nil
}

// prepareAudio validates the waveform and brings it to the configured rate.
func (s *Scorer) prepareAudio(ctx context.Context, w audio.Waveform) (audio.Waveform, error) {
	want := s.cfg.Scoring.SampleRate
	if w.Empty() {
		return audio.Waveform{SampleRate: want}, nil
	}
	if w.SampleRate <= 0 {
		s.metrics.RecordInputError(ctx, "invalid_audio")
		return audio.Waveform{}, fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, w.SampleRate)
	}
	if limit := s.cfg.Scoring.MaxAudioSeconds; limit > 0 {
		if secs := float64(len(w.Samples)) / float64(w.SampleRate); secs > limit {
			s.metrics.RecordInputError(ctx, "audio_too_long")
			return audio.Waveform{}, fmt.Errorf("%w: %.1f s, limit %.1f s", ErrAudioTooLong, secs, limit)
		}
	}
	if w.SampleRate == want {
		return w, nil
	}
	if !s.cfg.Scoring.Resample {
		s.metrics.RecordInputError(ctx, "sample_rate_mismatch")
		return audio.Waveform{}, fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRateMismatch, w.SampleRate, want)
	}
	observe.Logger(ctx).Debug("scorer: resampling audio", "from_hz", w.SampleRate, "to_hz", want)
	return w.Resample(want), nil
}

// stage times one pipeline stage in its own span. Call the returned func
// when the stage ends.
func (s *Scorer) stage(ctx context.Context, name string) func() {
	return observe.StartStage(ctx, s.metrics, name)
}

// record emits per-word metrics for res.
func (s *Scorer) record(ctx context.Context, res *types.ScoringResult) {
	ops := make(map[types.Op]int, 4)
	for _, rec := range res.PerWord {
		ops[rec.Op]++
		for _, reason := range rec.Prosody.UnreliableReasons {
			s.metrics.RecordUnreliable(ctx, reason)
		}
	}
	for _, op := range []types.Op{types.OpEqual, types.OpReplace, types.OpInsert, types.OpDelete} {
		s.metrics.RecordWords(ctx, string(op), ops[op])
	}
}
