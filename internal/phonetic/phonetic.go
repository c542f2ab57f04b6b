// Package phonetic detects substitutions that sound like the expected word.
//
// A substituted word is a near miss when its Double Metaphone codes overlap
// with the expected word's codes and their Jaro-Winkler similarity reaches
// the phonetic threshold ("their" for "there"). Without a code overlap the
// pair can still qualify on spelling alone at the stricter fuzzy threshold.
//
// Near misses only annotate a report; they never change a word's score.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/speakwell/pkg/types"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a pair whose
// phonetic codes overlap. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a pair without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher classifies expected/actual word pairs. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// NearMiss reports whether actual is a plausible mishearing or
// mispronunciation of expected, together with the Jaro-Winkler similarity.
// Either side may hold several tokens (a recognizer word such as "don t").
// Identical words, empty words and the unknown placeholder never match.
func (m *Matcher) NearMiss(expected, actual string) (score float64, ok bool) {
	exp := strings.ToLower(strings.TrimSpace(expected))
	act := strings.ToLower(strings.TrimSpace(actual))
	if exp == "" || act == "" || exp == act || act == types.UnknownWord {
		return 0, false
	}

	expTokens := strings.Fields(exp)
	actTokens := strings.Fields(act)
	score = bestJWScore(expTokens, actTokens, exp, act)

	if codesOverlap(codesForTokens(expTokens), codesForTokens(actTokens)) {
		return score, score >= m.phoneticThreshold
	}
	return score, score >= m.fuzzyThreshold
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)

	if len(aTokens) > 1 || len(bTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false); s > score {
			score = s
		}
	}

	for _, a := range aTokens {
		for _, b := range bTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
