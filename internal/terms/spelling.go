package terms

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// maxCorrectionDistance bounds how far a misspelled token may be from a
	// vocabulary word to be corrected.
	maxCorrectionDistance = 2
	// minCorrectableLength skips short tokens; "de" or "mg" are never typos.
	minCorrectableLength = 4
)

// vocabulary is the set of normalized words that appear anywhere in the
// taxonomy, kept sorted for deterministic corrections.
type vocabulary struct {
	words []string
	set   map[string]struct{}
}

func newVocabulary(words map[string]struct{}) *vocabulary {
	v := &vocabulary{set: words, words: make([]string, 0, len(words))}
	for w := range words {
		v.words = append(v.words, w)
	}
	sort.Strings(v.words)
	return v
}

func (v *vocabulary) contains(word string) bool {
	_, ok := v.set[word]
	return ok
}

// nearest returns the closest word within maxCorrectionDistance. Ties go to
// the lexicographically smaller word.
func (v *vocabulary) nearest(token string) (string, bool) {
	best, bestDist := "", maxCorrectionDistance+1
	n := utf8.RuneCountInString(token)
	for _, w := range v.words {
		diff := utf8.RuneCountInString(w) - n
		if diff < 0 {
			diff = -diff
		}
		if diff > maxCorrectionDistance {
			continue
		}
		if d := LevenshteinDistance(token, w); d < bestDist {
			best, bestDist = w, d
		}
	}
	return best, best != ""
}

// correct rewrites every unknown token of query to its nearest vocabulary
// word. It returns "" when nothing was corrected.
func (v *vocabulary) correct(query string) string {
	tokens := Tokenize(query)
	changed := false
	for i, tok := range tokens {
		if utf8.RuneCountInString(tok) < minCorrectableLength || v.contains(tok) {
			continue
		}
		if w, ok := v.nearest(tok); ok {
			tokens[i] = w
			changed = true
		}
	}
	if !changed {
		return ""
	}
	return strings.Join(tokens, " ")
}
