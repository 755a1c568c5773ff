package pipeline

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/provider"
)

// TextAnalyzer is the slice of provider.Client the scoring stage needs.
type TextAnalyzer interface {
	Analyze(ctx context.Context, text string) (provider.AnalyzeResult, error)
}

const (
	emptyTextComment    = "Nenhum texto foi detectado na imagem, portanto não há conteúdo para avaliar. Todas as competências receberam nota zero."
	emptyTextSuggestion = "Envie uma imagem nítida, bem iluminada e com bom contraste para que o texto possa ser extraído."
)

type CorrectionScoringStage struct {
	Analyzer TextAnalyzer
	Logger   *slog.Logger
	now      func() time.Time
}

func NewCorrectionScoringStage(an TextAnalyzer, logger *slog.Logger) *CorrectionScoringStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrectionScoringStage{Analyzer: an, Logger: logger, now: time.Now}
}

// Run corrects and scores text. The returned analysis is not persisted and
// has no ID or EssayID yet.
//
// Blank text never reaches the provider: it yields a zero rubric whose
// TextUsed is constants.EmptyTextMarker.
func (s *CorrectionScoringStage) Run(ctx context.Context, text string) (*entity.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return s.emptyAnalysis(), nil
	}

	res, err := s.Analyzer.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}

	breakdown := res.Breakdown.Normalized()
	overall := breakdown.OverallScore()
	if res.OverallScore != 0 && math.Abs(res.OverallScore-overall) >= 0.1 {
		s.Logger.Debug("pipeline.score.overall_recomputed", "model_overall", res.OverallScore, "overall", overall)
	}

	corrections := FilterCorrections(text, res.Corrections)
	if dropped := len(res.Corrections) - len(corrections); dropped > 0 {
		s.Logger.Info("pipeline.score.corrections_dropped", "dropped", dropped, "kept", len(corrections))
	}

	corrected := res.CorrectedText
	if strings.TrimSpace(corrected) == "" {
		corrected = text
	}

	return &entity.Analysis{
		TextUsed:      text,
		CorrectedText: corrected,
		OverallScore:  overall,
		Breakdown:     breakdown,
		Strengths:     cleanList(res.Strengths),
		Improvements:  cleanList(res.Improvements),
		Suggestions:   cleanList(res.Suggestions),
		Comments:      cleanList(res.Comments),
		Corrections:   corrections,
		Model:         res.Model,
		CreatedAt:     s.now().UTC(),
	}, nil
}

func (s *CorrectionScoringStage) emptyAnalysis() *entity.Analysis {
	return &entity.Analysis{
		TextUsed:      constants.EmptyTextMarker,
		CorrectedText: "",
		OverallScore:  0,
		Breakdown:     entity.Breakdown{},
		Strengths:     []string{},
		Improvements:  []string{},
		Suggestions:   []string{emptyTextSuggestion},
		Comments:      []string{emptyTextComment},
		Corrections:   []entity.Correction{},
		CreatedAt:     s.now().UTC(),
	}
}

// FilterCorrections keeps only corrections whose original fragment occurs in
// input and that actually change something.
func FilterCorrections(input string, in []entity.Correction) []entity.Correction {
	out := make([]entity.Correction, 0, len(in))
	for _, c := range in {
		c.Original = strings.TrimSpace(c.Original)
		c.Suggested = strings.TrimSpace(c.Suggested)
		c.Reason = strings.TrimSpace(c.Reason)
		if c.Original == "" || c.Original == c.Suggested {
			continue
		}
		if !strings.Contains(input, c.Original) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
