package segment

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// overlapRatio is the minimum share of the stored text that must survive as a
// common prefix for an incoming soft patch to count as a corrected rewrite
// rather than a detached continuation.
const overlapRatio = 0.8

// similarityGuard is the minimum Jaro similarity between stored and incoming
// text for an ambiguous patch to be treated as a rewrite.
const similarityGuard = 0.85

// NormalizeText collapses whitespace runs to single spaces, strips control
// characters, and trims the result. Applied to every patch before versioned
// comparison so that recognizer formatting jitter never looks like a content
// change.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// RepairContinuation reconciles an incoming soft text with the stored text of
// the same unit. Recognizers occasionally re-emit a window that drops the
// start of the utterance or rewrites its tail; listeners must never see the
// text jump backwards.
//
// Returns the text to store and whether a repair was applied:
//
//   - incoming extends stored: plain growth, no repair.
//   - incoming shares at least overlapRatio of stored as a prefix, or is
//     Jaro-similar beyond similarityGuard: a corrected rewrite, incoming wins.
//   - otherwise incoming is treated as a detached continuation and spliced
//     after the stored text.
//
// Both inputs must already be normalized.
func RepairContinuation(stored, incoming string) (string, bool) {
	// An empty incoming text is a recognizer reset, not a continuation.
	if stored == "" || incoming == "" || strings.HasPrefix(incoming, stored) {
		return incoming, false
	}

	lcp := commonPrefixRunes(stored, incoming)
	storedLen := len([]rune(stored))
	if float64(lcp)/float64(storedLen) >= overlapRatio {
		return incoming, true
	}

	if matchr.Jaro(stored, incoming) >= similarityGuard {
		return incoming, true
	}

	return stored + " " + incoming, true
}

// commonPrefixRunes returns the length in runes of the longest common prefix
// of a and b.
func commonPrefixRunes(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := min(len(ra), len(rb))
	for i := range n {
		if ra[i] != rb[i] {
			return i
		}
	}
	return n
}
