package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

// OCR quality levels.
const (
	QualityLow    = "baixa"
	QualityMedium = "media"
	QualityHigh   = "alta"
)

const (
	problemNoText        = "Nenhum texto foi detectado na imagem"
	problemStrangeChars  = "Caracteres não reconhecidos detectados"
	problemFragmented    = "Muitas palavras fragmentadas - possível problema de qualidade da imagem"
	problemGluedWords    = "Palavras muito longas detectadas - possível falta de espaçamento"
	problemNoPunctuation = "Nenhuma pontuação detectada"
	problemRepetition    = "Padrões repetitivos detectados"
)

var (
	reParagraphBreak = regexp.MustCompile(`\n\s*\n`)
	reSentenceEnd    = regexp.MustCompile(`[.!?]+`)
	reStrangeChars   = regexp.MustCompile(`[^\w\s\p{L}\p{N}\p{P}]`)
	reGluedWord      = regexp.MustCompile(`(?i)[a-záéíóúâêîôûãõç]{15,}`)
	rePunctuation    = regexp.MustCompile(`[.!?,:;]`)
)

// ComputeStats counts words, characters, non-blank lines, paragraphs and
// sentences of text. Counts are over the trimmed text.
func ComputeStats(text string) entity.TextStats {
	t := strings.TrimSpace(text)
	if t == "" {
		return entity.TextStats{}
	}
	var st entity.TextStats
	st.Words = len(strings.Fields(t))
	st.Characters = utf8.RuneCountInString(t)
	for _, line := range strings.Split(t, "\n") {
		if strings.TrimSpace(line) != "" {
			st.Lines++
		}
	}
	for _, p := range reParagraphBreak.Split(t, -1) {
		if strings.TrimSpace(p) != "" {
			st.Paragraphs++
		}
	}
	for _, s := range reSentenceEnd.Split(t, -1) {
		if strings.TrimSpace(s) != "" {
			st.Sentences++
		}
	}
	return st
}

// AssessOCRQuality scores how trustworthy extracted text looks. Reliability
// starts at 100 and each detected problem subtracts a fixed penalty.
func AssessOCRQuality(text string) entity.OCRQuality {
	t := strings.TrimSpace(text)
	if t == "" {
		return entity.OCRQuality{Level: QualityLow, Problems: []string{problemNoText}, Reliability: 0}
	}

	problems := []string{}
	reliability := 100

	if reStrangeChars.MatchString(t) {
		problems = append(problems, problemStrangeChars)
		reliability -= 20
	}

	words := strings.Fields(t)
	short := 0
	for _, w := range words {
		if n := utf8.RuneCountInString(w); n == 1 || n == 2 {
			short++
		}
	}
	if float64(short)/float64(len(words)) > 0.3 {
		problems = append(problems, problemFragmented)
		reliability -= 30
	}

	if reGluedWord.MatchString(t) {
		problems = append(problems, problemGluedWords)
		reliability -= 15
	}

	if !rePunctuation.MatchString(t) && utf8.RuneCountInString(t) > 50 {
		problems = append(problems, problemNoPunctuation)
		reliability -= 10
	}

	if hasRepetition(t) {
		problems = append(problems, problemRepetition)
		reliability -= 15
	}

	level := QualityHigh
	switch {
	case reliability < 40:
		level = QualityLow
	case reliability < 70:
		level = QualityMedium
	}
	return entity.OCRQuality{Level: level, Problems: problems, Reliability: reliability}
}

// maxRepeatUnit bounds the period searched by hasRepetition.
const maxRepeatUnit = 24

// hasRepetition reports whether some run of at least two characters occurs
// three or more times back to back on one line ("abababab", "lalala").
// RE2 has no backreferences, so the search is done by hand.
func hasRepetition(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		r := []rune(line)
		for unit := 2; unit <= maxRepeatUnit && unit*3 <= len(r); unit++ {
			run := 0
			for i := unit; i < len(r); i++ {
				if r[i] == r[i-unit] {
					run++
					if run >= unit*2 {
						return true
					}
					continue
				}
				run = 0
			}
		}
	}
	return false
}
