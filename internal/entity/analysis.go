package entity

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/constants"
)

// Correction is a single suggested fragment replacement. Original always refers
// to text present in the input that was analyzed.
type Correction struct {
	Original  string `json:"original"`
	Suggested string `json:"sugerido"`
	Reason    string `json:"motivo,omitempty"`
}

// Breakdown holds the five rubric criteria, each in [0,10].
type Breakdown struct {
	Tese       float64 `json:"tese"`
	Argumentos float64 `json:"argumentos"`
	Coesao     float64 `json:"coesao"`
	Repertorio float64 `json:"repertorio"`
	Norma      float64 `json:"norma"`
}

// Get returns the score of criterion c.
func (b Breakdown) Get(c constants.Criterion) float64 {
	switch c {
	case constants.Tese:
		return b.Tese
	case constants.Argumentos:
		return b.Argumentos
	case constants.Coesao:
		return b.Coesao
	case constants.Repertorio:
		return b.Repertorio
	case constants.Norma:
		return b.Norma
	}
	return 0
}

// Set assigns criterion c; unknown criteria are ignored.
func (b *Breakdown) Set(c constants.Criterion, v float64) {
	switch c {
	case constants.Tese:
		b.Tese = v
	case constants.Argumentos:
		b.Argumentos = v
	case constants.Coesao:
		b.Coesao = v
	case constants.Repertorio:
		b.Repertorio = v
	case constants.Norma:
		b.Norma = v
	}
}

// Normalized clamps every criterion to [0,10] with one decimal.
func (b Breakdown) Normalized() Breakdown {
	var out Breakdown
	for _, c := range constants.AllCriteria() {
		out.Set(c, ClampScore(b.Get(c)))
	}
	return out
}

// OverallScore is the documented aggregation: the arithmetic mean of the five
// criteria, rounded to one decimal.
func (b Breakdown) OverallScore() float64 {
	var sum float64
	criteria := constants.AllCriteria()
	for _, c := range criteria {
		sum += b.Get(c)
	}
	return Round1(sum / float64(len(criteria)))
}

// Analysis is one immutable scoring pass over a given text.
type Analysis struct {
	ID            uuid.UUID    `json:"id"`
	EssayID       uuid.UUID    `json:"redacaoId"`
	TextUsed      string       `json:"textoUsado"`
	CorrectedText string       `json:"textoCorrigido"`
	OverallScore  float64      `json:"notaGeral"`
	Breakdown     Breakdown    `json:"breakdown"`
	Strengths     []string     `json:"pontosFavoraveis"`
	Improvements  []string     `json:"pontosMelhoria"`
	Suggestions   []string     `json:"sugestoes"`
	Comments      []string     `json:"comentarios"`
	Corrections   []Correction `json:"correcoes"`
	Model         string       `json:"modelo,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Clone returns a deep copy.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.Strengths = cloneStrings(a.Strengths)
	c.Improvements = cloneStrings(a.Improvements)
	c.Suggestions = cloneStrings(a.Suggestions)
	c.Comments = cloneStrings(a.Comments)
	c.Corrections = append([]Correction{}, a.Corrections...)
	return &c
}

func cloneStrings(in []string) []string {
	return append([]string{}, in...)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ClampScore bounds a criterion score to the rubric range and rounds it.
func ClampScore(v float64) float64 {
	if math.IsNaN(v) {
		return constants.MinScore
	}
	return Round1(math.Max(constants.MinScore, math.Min(constants.MaxScore, v)))
}
