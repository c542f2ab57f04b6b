// Package hypothesis adapts upstream recogniser output into the canonical
// [types.TimedWord] sequence consumed by the scoring engine.
//
// Word-timing tools disagree on field names ("text" vs "word", "start" vs
// "start_time", ...). Rather than probing keys throughout the engine, [Parse]
// resolves every field once from a fixed priority list. [Backfill] then
// recovers words whose text was dropped by the timing step, using the flat
// transcript of the recogniser's running hypothesis.
package hypothesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/speakwell/internal/textnorm"
	"github.com/MrWong99/speakwell/pkg/types"
)

// ErrInvalidAligned is returned by [Parse] when the aligned result is not a
// JSON object.
var ErrInvalidAligned = errors.New("hypothesis: aligned result must be a JSON object")

// Field priority lists. The first key that yields a usable value wins.
var (
	textKeys       = []string{"text", "word", "aligned_word", "alignedText", "aligned_text", "word_text", "token"}
	startKeys      = []string{"start", "start_time", "s"}
	endKeys        = []string{"end", "end_time", "e"}
	confidenceKeys = []string{"confidence", "probability", "score"}
)

// Parsed is the flattened content of an aligned result.
type Parsed struct {
	// Words holds every timed word of every segment, in order. Word text may
	// be empty when the upstream step dropped it; see [Backfill].
	Words []types.TimedWord

	// Segments holds the raw JSON of each segment, for debug previews.
	Segments []json.RawMessage
}

// Parse flattens an aligned result of the form
//
//	{"segments": [{"words": [{"text": "hi", "start": 0.1, "end": 0.4, "confidence": 0.9}, ...]}, ...]}
//
// into timed words. A missing "segments" or "words" array yields no words.
// Missing or null times default to 0; a missing or null confidence stays
// absent.
func Parse(raw []byte) (*Parsed, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrInvalidAligned)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrInvalidAligned
	}

	p := &Parsed{Words: []types.TimedWord{}}
	for _, seg := range arrayOf(root, "segments") {
		p.Segments = append(p.Segments, json.RawMessage(seg.Raw))
		for _, w := range arrayOf(seg, "words") {
			p.Words = append(p.Words, wordFrom(w))
		}
	}
	return p, nil
}

// arrayOf returns the elements of r[key], or nil when it is not an array.
func arrayOf(r gjson.Result, key string) []gjson.Result {
	v := r.Get(key)
	if !v.IsArray() {
		return nil
	}
	return v.Array()
}

// wordFrom resolves a single word object. Non-object entries produce an
// untexted word at time zero so that positional back-fill still lines up.
func wordFrom(w gjson.Result) types.TimedWord {
	if !w.IsObject() {
		return types.TimedWord{}
	}
	tw := types.TimedWord{
		Word:  textOf(w),
		Start: floatOf(w, startKeys),
		End:   floatOf(w, endKeys),
	}
	if c, ok := first(w, confidenceKeys); ok && c.Type != gjson.Null {
		tw.Confidence = types.Ptr(c.Float())
	}
	return tw
}

// textOf returns the first string among textKeys that still has a token
// after normalization, trimmed.
func textOf(w gjson.Result) string {
	for _, k := range textKeys {
		v := w.Get(k)
		if v.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(v.Str); !untexted(s) {
			return s
		}
	}
	return ""
}

// untexted reports whether s carries no token, such as "" or "...".
func untexted(s string) bool {
	return textnorm.Normalize(s) == ""
}

// floatOf returns the value of the first present key, or 0 when that value is
// null or no key is present.
func floatOf(w gjson.Result, keys []string) float64 {
	v, ok := first(w, keys)
	if !ok || v.Type == gjson.Null {
		return 0
	}
	return v.Float()
}

// first returns the first key of keys present in w, even if its value is null.
func first(w gjson.Result, keys []string) (gjson.Result, bool) {
	for _, k := range keys {
		if v := w.Get(k); v.Exists() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

// Backfill returns a copy of words in which every empty or punctuation-only
// word text has been recovered from hypothesis, or replaced by
// [types.UnknownWord].
//
// When the hypothesis has exactly as many tokens as there are words, empty
// slots take the token at the same position. Otherwise empty slots are filled
// in order from the hypothesis tokens that do not already appear among the
// texted words. Slots that remain empty become the unknown placeholder, so
// the result never contains an empty word.
func Backfill(words []types.TimedWord, hypothesis string) []types.TimedWord {
	out := make([]types.TimedWord, len(words))
	copy(out, words)

	empty := 0
	for i := range out {
		if untexted(out[i].Word) {
			out[i].Word = ""
			empty++
		}
	}
	if empty == 0 {
		return out
	}

	if hypothesis != "" {
		tokens := textnorm.Tokens(hypothesis)
		if len(tokens) == len(out) {
			for i := range out {
				if out[i].Word == "" {
					out[i].Word = tokens[i]
				}
			}
		} else {
			existing := make(map[string]struct{}, len(out))
			for _, w := range out {
				if w.Word != "" {
					existing[textnorm.Normalize(w.Word)] = struct{}{}
				}
			}
			remaining := make([]string, 0, len(tokens))
			for _, t := range tokens {
				if _, ok := existing[t]; !ok {
					remaining = append(remaining, t)
				}
			}
			next := 0
			for i := range out {
				if out[i].Word != "" || next >= len(remaining) {
					continue
				}
				out[i].Word = remaining[next]
				next++
			}
		}
	}

	for i := range out {
		if out[i].Word == "" {
			out[i].Word = types.UnknownWord
		}
	}
	return out
}
