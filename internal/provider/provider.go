// Package provider is the single gateway to the external extraction (image to
// text) and analysis (text to corrections and rubric) services.
package provider

import (
	"context"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/entity"
)

// ExtractResult is what an extraction backend read from an image.
type ExtractResult struct {
	Text       string
	Method     string
	Confidence float32 // 0..1
	Language   string
	Warnings   []string
	Duration   time.Duration
}

// AnalyzeResult is the raw outcome of one analysis call. Scores are not yet
// clamped or aggregated; the scoring stage owns that.
type AnalyzeResult struct {
	CorrectedText string
	Corrections   []entity.Correction
	Breakdown     entity.Breakdown
	OverallScore  float64
	Strengths     []string
	Improvements  []string
	Suggestions   []string
	Comments      []string
	Model         string
}

// Extractor turns image bytes into text.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, image []byte) (ExtractResult, error)
}

// Analyzer corrects and scores essay text.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, text string) (AnalyzeResult, error)
}
