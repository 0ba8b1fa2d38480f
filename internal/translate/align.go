package translate

import "github.com/interpres-live/interpres/internal/segment"

// alignSentenceSpans produces a span vector for translated text with exactly
// as many entries as the source has sentences. When the translator kept the
// sentence count (the usual case), the spans are the translation's own
// sentence lengths. Otherwise the translation's runes are distributed
// proportionally to the source spans, snapped forward to the next word
// boundary, so clients can still align highlighting sentence by sentence.
func alignSentenceSpans(srcLens []int, translated string) []int {
	if len(srcLens) == 0 {
		return nil
	}

	own := segment.SentenceLengths(translated)
	if len(own) == len(srcLens) {
		return own
	}

	runes := []rune(translated)
	total := len(runes)
	if total == 0 {
		return make([]int, len(srcLens))
	}

	srcTotal := 0
	for _, l := range srcLens {
		srcTotal += l
	}
	if srcTotal == 0 {
		// Degenerate source spans; put everything in the first span.
		out := make([]int, len(srcLens))
		out[0] = total
		return out
	}

	out := make([]int, len(srcLens))
	pos := 0
	for i := range srcLens {
		if i == len(srcLens)-1 {
			out[i] = total - pos
			break
		}
		target := pos + srcLens[i]*total/srcTotal
		if target > total {
			target = total
		}
		// Snap forward to the next space so spans never split a word.
		for target < total && runes[target] != ' ' {
			target++
		}
		// Consume the boundary space into the left span.
		if target < total {
			target++
		}
		out[i] = target - pos
		pos = target
	}
	return out
}
