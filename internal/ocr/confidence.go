package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reSentenceEnd = regexp.MustCompile(`[.!?]`)
	reWord        = regexp.MustCompile(`\p{L}+`)
)

// heuristicConfidence guesses how readable the decoded text is: mostly
// alphabetic words, some sentence punctuation and a reasonable length.
func heuristicConfidence(txt string) float32 {
	fields := strings.Fields(txt)
	if len(fields) == 0 {
		return 0
	}
	score := float32(0.2) // base

	words := 0
	for _, f := range fields {
		if w := reWord.FindString(f); len([]rune(w)) >= 2 && len(w)*2 >= len(f) {
			words++
		}
	}
	score += 0.4 * float32(words) / float32(len(fields))

	if reSentenceEnd.MatchString(txt) {
		score += 0.15
	}
	letters := 0
	for _, r := range txt {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters > 120 {
		score += 0.1
	} // enough content
	if score > 1.0 {
		score = 1.0
	}
	return score
}
