package constants

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Criterion names one of the five rubric criteria.
type Criterion string

const (
	Tese       Criterion = "tese"
	Argumentos Criterion = "argumentos"
	Coesao     Criterion = "coesao"
	Repertorio Criterion = "repertorio"
	Norma      Criterion = "norma"
)

// EmptyTextMarker stands in for textoUsado when the scored text was empty.
const EmptyTextMarker = "[nenhum texto detectado]"

const (
	MinScore = 0.0
	MaxScore = 10.0
)

var allCriteria = []Criterion{Tese, Argumentos, Coesao, Repertorio, Norma}

// AllCriteria returns the rubric criteria in their canonical order.
func AllCriteria() []Criterion {
	out := make([]Criterion, len(allCriteria))
	copy(out, allCriteria)
	return out
}

func CriteriaStrings() []string {
	result := make([]string, len(allCriteria))
	for i, c := range allCriteria {
		result[i] = string(c)
	}
	return result
}

// CanonicalCriterion maps the labels a model tends to emit ("Coesão", "norma culta")
// back to the canonical key.
func CanonicalCriterion(input string) (Criterion, bool) {
	normalized := foldAccents(strings.ToLower(strings.TrimSpace(input)))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]Criterion{
		"tese central":             Tese,
		"tese_central":             Tese,
		"argumentacao":             Argumentos,
		"argumento":                Argumentos,
		"coesao textual":           Coesao,
		"coerencia":                Coesao,
		"repertorio cultural":      Repertorio,
		"repertorio sociocultural": Repertorio,
		"norma culta":              Norma,
		"gramatica":                Norma,
	}
	if c, ok := synonyms[normalized]; ok {
		return c, true
	}

	for _, c := range allCriteria {
		if normalized == string(c) {
			return c, true
		}
	}
	return "", false
}

func foldAccents(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
