package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/ocr"
	"github.com/joseph-ayodele/essay-grader/internal/provider"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
)

// TextExtractor is the slice of provider.Client the extraction stage needs.
type TextExtractor interface {
	Extract(ctx context.Context, image []byte) (provider.ExtractResult, error)
}

type ExtractionStage struct {
	Extractor TextExtractor
	Logger    *slog.Logger
}

func NewExtractionStage(ex TextExtractor, logger *slog.Logger) *ExtractionStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionStage{Extractor: ex, Logger: logger}
}

// Run validates the image, extracts and normalizes its text, and computes the
// observational statistics. Empty text is a valid outcome. Nothing is persisted.
func (s *ExtractionStage) Run(ctx context.Context, image []byte) (repository.ExtractionOutcome, error) {
	info, err := ValidateImage(image)
	if err != nil {
		return repository.ExtractionOutcome{}, err
	}

	start := time.Now()
	res, err := s.Extractor.Extract(ctx, image)
	if err != nil {
		return repository.ExtractionOutcome{}, err
	}

	text := ocr.Normalize(res.Text)
	out := repository.ExtractionOutcome{
		Text:       text,
		Stats:      ComputeStats(text),
		Quality:    AssessOCRQuality(text),
		Method:     res.Method,
		Confidence: res.Confidence,
		Status:     constants.StatusExtracted,
	}
	if out.Quality.Level == QualityLow {
		s.Logger.Warn("pipeline.extract.low_quality",
			"reliability", out.Quality.Reliability,
			"problems", out.Quality.Problems,
			"method", res.Method,
		)
	}
	s.Logger.Debug("pipeline.extract.ok",
		"format", info.Format,
		"width", info.Width,
		"height", info.Height,
		"words", out.Stats.Words,
		"warnings", len(res.Warnings),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
