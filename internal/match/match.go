// Package match decides whether a recognized utterance answers a prompt.
//
// Matching is exact after normalization: no fuzzy or phonetic credit is given.
// [Similarity] and [NearMiss] only grade how close a miss was, for feedback.
// Normalization folds case and Unicode compatibility forms, straightens curly
// quotes, drops everything that is not a letter, number or whitespace, and
// collapses whitespace, so "You   play baseball!!" matches "You play baseball.".
package match

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/unicode/norm"
)

// NearMissThreshold is the [Similarity] at or above which a miss counts as a
// near miss.
const NearMissThreshold = 0.9

// quoteReplacer maps typographic quotes to their ASCII forms.
var quoteReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`,
	"‘", "'", "’", "'", "‚", "'",
)

// Normalize returns the canonical comparison form of s. It is idempotent:
// Normalize(Normalize(s)) == Normalize(s) for every s.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = norm.NFKC.String(s)
	// NFKC can surface upper-case letters from compatibility forms (e.g. "ℍ").
	s = strings.ToLower(s)
	s = quoteReplacer.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

// Matches reports whether recognized equals expected after normalization.
// An expected utterance that normalizes to the empty string never matches.
func Matches(recognized, expected string) bool {
	want := Normalize(expected)
	if want == "" {
		return false
	}
	return Normalize(recognized) == want
}

// ContainsWord reports whether the normalized utterance contains phrase as a
// whole-word sequence. An empty phrase is never contained.
func ContainsWord(utterance, phrase string) bool {
	p := Normalize(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(" "+Normalize(utterance)+" ", " "+p+" ")
}

// Similarity returns the Jaro-Winkler similarity of the normalized forms, in
// [0, 1]. Two empty strings score 0.
func Similarity(recognized, expected string) float64 {
	a, b := Normalize(recognized), Normalize(expected)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return matchr.JaroWinkler(a, b, false)
}

// SoundsAlike reports whether both utterances have the same number of words
// and every word pair shares a Double Metaphone code.
func SoundsAlike(recognized, expected string) bool {
	got := strings.Fields(Normalize(recognized))
	want := strings.Fields(Normalize(expected))
	if len(want) == 0 || len(got) != len(want) {
		return false
	}
	for i := range want {
		if !codesOverlap(metaphone(got[i]), metaphone(want[i])) {
			return false
		}
	}
	return true
}

// NearMiss reports a miss that is close enough to deserve an "almost".
func NearMiss(recognized, expected string) bool {
	if Matches(recognized, expected) || Normalize(recognized) == "" {
		return false
	}
	return Similarity(recognized, expected) >= NearMissThreshold || SoundsAlike(recognized, expected)
}

// metaphone returns the non-empty Double Metaphone codes of word. Words
// without consonants (and digits) fall back to the word itself.
func metaphone(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	var codes []string
	if p != "" {
		codes = append(codes, p)
	}
	if s != "" && s != p {
		codes = append(codes, s)
	}
	if len(codes) == 0 {
		codes = append(codes, word)
	}
	return codes
}

func codesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
