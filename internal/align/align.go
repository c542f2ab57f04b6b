// Package align computes the word-level edit script between the expected and
// the actually spoken token sequences.
//
// The script is derived from a longest-matching-block diff over whole tokens
// (the classic SequenceMatcher algorithm). Replace blocks are never
// re-aligned by similarity: the first min(la, lb) tokens are paired
// positionally and the surplus on the longer side becomes delete or insert
// entries. This positional pairing decides which words are penalised, so it
// must stay stable.
package align

import (
	"github.com/pmezard/go-difflib/difflib"

	"github.com/MrWong99/speakwell/pkg/types"
)

// Align returns the ordered edit script that turns expected into actual.
//
// Every expected index appears exactly once across equal, replace and delete
// entries, and every actual index exactly once across equal, replace and
// insert entries. Either input may be empty.
func Align(expected, actual []string) []types.AlignmentEntry {
	if len(expected) == 0 && len(actual) == 0 {
		return []types.AlignmentEntry{}
	}

	m := difflib.NewMatcher(expected, actual)
	out := make([]types.AlignmentEntry, 0, max(len(expected), len(actual)))

	for _, oc := range m.GetOpCodes() {
		switch oc.Tag {
		case 'e':
			for k := 0; k < oc.I2-oc.I1; k++ {
				out = append(out, pair(types.OpEqual, expected, oc.I1+k, actual, oc.J1+k))
			}
		case 'r':
			la, lb := oc.I2-oc.I1, oc.J2-oc.J1
			n := min(la, lb)
			for k := range n {
				out = append(out, pair(types.OpReplace, expected, oc.I1+k, actual, oc.J1+k))
			}
			for k := n; k < la; k++ {
				out = append(out, deletion(expected, oc.I1+k))
			}
			for k := n; k < lb; k++ {
				out = append(out, insertion(actual, oc.J1+k))
			}
		case 'd':
			for i := oc.I1; i < oc.I2; i++ {
				out = append(out, deletion(expected, i))
			}
		case 'i':
			for j := oc.J1; j < oc.J2; j++ {
				out = append(out, insertion(actual, j))
			}
		}
	}
	return out
}

func pair(op types.Op, expected []string, i int, actual []string, j int) types.AlignmentEntry {
	return types.AlignmentEntry{
		Op:          op,
		ExpectedIdx: types.Ptr(i),
		Expected:    types.Ptr(expected[i]),
		ActualIdx:   types.Ptr(j),
		Actual:      types.Ptr(actual[j]),
	}
}

func deletion(expected []string, i int) types.AlignmentEntry {
	return types.AlignmentEntry{
		Op:          types.OpDelete,
		ExpectedIdx: types.Ptr(i),
		Expected:    types.Ptr(expected[i]),
	}
}

func insertion(actual []string, j int) types.AlignmentEntry {
	return types.AlignmentEntry{
		Op:        types.OpInsert,
		ActualIdx: types.Ptr(j),
		Actual:    types.Ptr(actual[j]),
	}
}
