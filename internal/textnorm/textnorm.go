// Package textnorm canonicalises expected and recognised text into comparable
// token sequences.
//
// Normalisation is simple: Unicode lowercase, every rune that is
// neither a letter, a number nor whitespace becomes a space, whitespace is
// collapsed. There is no stemming and no spelling correction, so tokens only
// match when they are identical.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MrWong99/speakwell/pkg/types"
)

// Normalize lowercases s, replaces punctuation and symbols with spaces and
// collapses runs of whitespace into single spaces. The result is trimmed.
func Normalize(s string) string {
	// cases.Caser is stateful and not safe for concurrent use; build one per call.
	lower := cases.Lower(language.Und).String(s)

	var b strings.Builder
	b.Grow(len(lower))
	space := true // suppresses leading whitespace
	for _, r := range lower {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Tokens splits the normalised form of s into tokens. Empty or
// punctuation-only input yields an empty (non-nil) slice.
func Tokens(s string) []string {
	fields := strings.Fields(Normalize(s))
	if fields == nil {
		return []string{}
	}
	return fields
}

// Word normalises a single recogniser word into exactly one token, keeping
// the 1:1 correspondence between timed words and actual tokens. A word such
// as "don't" becomes the single token "don t".
//
// The unknown-word placeholder is returned verbatim so it can never equal a
// normalised expected token.
func Word(w string) string {
	if w == types.UnknownWord {
		return w
	}
	return Normalize(w)
}
