package llm

import (
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/provider"
)

// AnalysisFields is the normalized shape we want from the LLM.
type AnalysisFields struct {
	CorrectedText string              `json:"textoCorrigido"`
	Corrections   []entity.Correction `json:"correcoes"`
	Breakdown     entity.Breakdown    `json:"breakdown"`
	OverallScore  *float64            `json:"notaGeral,omitempty"` // informative only; recomputed locally
	Strengths     []string            `json:"pontosFavoraveis"`
	Improvements  []string            `json:"pontosMelhoria"`
	Suggestions   []string            `json:"sugestoes"`
	Comments      []string            `json:"comentarios"`
}

// ToResult converts validated fields into the provider result.
func (f AnalysisFields) ToResult(model string) provider.AnalyzeResult {
	res := provider.AnalyzeResult{
		CorrectedText: f.CorrectedText,
		Corrections:   f.Corrections,
		Breakdown:     f.Breakdown,
		Strengths:     f.Strengths,
		Improvements:  f.Improvements,
		Suggestions:   f.Suggestions,
		Comments:      f.Comments,
		Model:         model,
	}
	if f.OverallScore != nil {
		res.OverallScore = *f.OverallScore
	}
	return res
}
