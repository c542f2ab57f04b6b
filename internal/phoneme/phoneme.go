// Package phoneme provides pronunciation hints from a CMU Pronouncing
// Dictionary formatted file.
//
// The expected format is one entry per line, the word followed by its ARPAbet
// phones separated by whitespace:
//
//	HELLO  HH AH0 L OW1
//	HELLO(1)  HH EH0 L OW1
//
// Alternate pronunciations carry a "(n)" suffix. Lines starting with ";;;" or
// "#" are comments.
package phoneme

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Hinter returns a pronunciation hint for a normalized word.
type Hinter interface {
	Phonemes(word string) (string, bool)
}

// Dictionary maps lowercase words to their pronunciations in file order.
// It is read-only after loading and safe for concurrent use.
type Dictionary struct {
	entries map[string][]string
}

// Load reads a CMU-format pronunciation dictionary.
func Load(r io.Reader) (*Dictionary, error) {
	d := &Dictionary{entries: make(map[string][]string)}
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";;;") || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("phoneme: line %d: expected word and phones, got %q", lineNum, line)
		}
		word := strings.ToLower(stripVariant(fields[0]))
		d.entries[word] = append(d.entries[word], strings.Join(fields[1:], " "))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("phoneme: read dictionary: %w", err)
	}
	return d, nil
}

// LoadFile is a convenience wrapper that opens a file path.
func LoadFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("phoneme: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Phonemes returns the first pronunciation of word. Lookup is case-insensitive.
func (d *Dictionary) Phonemes(word string) (string, bool) {
	prons := d.entries[strings.ToLower(word)]
	if len(prons) == 0 {
		return "", false
	}
	return prons[0], true
}

// Lookup returns every pronunciation of word in file order.
func (d *Dictionary) Lookup(word string) []string {
	return d.entries[strings.ToLower(word)]
}

// Len returns the number of distinct words.
func (d *Dictionary) Len() int {
	return len(d.entries)
}

// stripVariant removes a trailing "(n)" alternate-pronunciation marker.
func stripVariant(word string) string {
	if i := strings.IndexByte(word, '('); i > 0 && strings.HasSuffix(word, ")") {
		return word[:i]
	}
	return word
}
