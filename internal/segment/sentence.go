package segment

// firstSentenceBoundary returns the byte index of the first sentence
// terminator (., !, ?) that is followed by whitespace, or -1 when the text
// holds no complete sentence yet. A terminator at the very end of the text is
// not a boundary — the recognizer may still extend the token.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// SplitSentences cuts text into sentences at terminator-plus-whitespace
// boundaries. Text after the last boundary forms a trailing sentence, even
// without a terminator, so every rune of the input is covered. Returns nil
// for empty input.
func SplitSentences(text string) []string {
	var out []string
	rest := text
	for {
		idx := firstSentenceBoundary(rest)
		if idx < 0 {
			break
		}
		out = append(out, trimLeadingSpace(rest[:idx+1]))
		rest = rest[idx+1:]
	}
	if t := trimLeadingSpace(rest); t != "" {
		out = append(out, t)
	}
	return out
}

// SentenceLengths returns the rune count of each sentence in text, in order.
// Translators are held to producing the same number of sentences; the length
// vector rides along on every segment so clients can align highlighting.
func SentenceLengths(text string) []int {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	out := make([]int, len(sentences))
	for i, s := range sentences {
		out[i] = len([]rune(s))
	}
	return out
}

// trimLeadingSpace removes leading spaces left over from boundary cuts.
func trimLeadingSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\n' || s[0] == '\r' || s[0] == '\t') {
		s = s[1:]
	}
	return s
}
