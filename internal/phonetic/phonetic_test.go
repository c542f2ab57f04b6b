package phonetic_test

import (
	"testing"

	"github.com/MrWong99/speakwell/internal/phonetic"
)

func TestMatcher_NearMiss(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	tests := []struct {
		expected string
		actual   string
		want     bool
	}{
		{expected: "there", actual: "their", want: true},
		{expected: "saw", actual: "sew", want: true},
		{expected: "Whispers", actual: "wispers", want: true},
		{expected: "dont", actual: "don t", want: true},
		{expected: "dog", actual: "banana", want: false},
		{expected: "same", actual: "same", want: false},
		{expected: "", actual: "word", want: false},
		{expected: "word", actual: "<unk>", want: false},
	}
	for _, tt := range tests {
		score, ok := m.NearMiss(tt.expected, tt.actual)
		if ok != tt.want {
			t.Errorf("NearMiss(%q, %q) = %v (score %.3f), want %v", tt.expected, tt.actual, ok, score, tt.want)
		}
		if ok && (score <= 0 || score > 1) {
			t.Errorf("NearMiss(%q, %q): score %.3f outside (0, 1]", tt.expected, tt.actual, score)
		}
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, ok := strict.NearMiss("there", "their"); ok {
		t.Error("NearMiss with 0.99 thresholds matched there/their")
	}

	loose := phonetic.New(phonetic.WithFuzzyThreshold(0.5))
	if _, ok := loose.NearMiss("cat", "cap"); !ok {
		t.Error("NearMiss with 0.5 fuzzy threshold did not match cat/cap")
	}
}
