package terms

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, strips diacritics and collapses whitespace, so that
// "Hanseníase" and "hanseniase" compare equal.
func Normalize(s string) string {
	// transform.Chain keeps internal state, so a fresh chain is built per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Tokenize normalizes s and splits it into letter/digit runs.
// "Qual a dose de rifampicina para 70kg?" yields
// [qual a dose de rifampicina para 70kg].
func Tokenize(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// phraseKey is the token-joined form used for phrase equality, so that
// punctuation differences ("PQT-U" vs "pqt u") do not matter.
func phraseKey(s string) string {
	return strings.Join(Tokenize(s), " ")
}
