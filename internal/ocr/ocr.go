// Package ocr runs a local tesseract binary as an extraction backend.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/provider"
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "por"
	TessdataDir   string

	EnableTSVConfidence bool

	PSM int // page segmentation mode; 0 keeps tesseract's default
	OEM int // 1 = LSTM; leave 0 to use default
}

// Extractor implements provider.Extractor with tesseract.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "por"
	}
	return &Extractor{cfg: cfg, runner: newExecRunner(logger), logger: logger}
}

func (e *Extractor) Name() string { return "tesseract" }

// Extract writes image to a private temp dir and runs tesseract on it.
func (e *Extractor) Extract(ctx context.Context, image []byte) (provider.ExtractResult, error) {
	start := time.Now()
	dir, err := os.MkdirTemp("", "essay-ocr-*")
	if err != nil {
		return provider.ExtractResult{}, fmt.Errorf("ocr temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "page")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return provider.ExtractResult{}, fmt.Errorf("ocr temp file: %w", err)
	}

	e.logger.Debug("starting ocr extraction", "bytes", len(image), "lang", e.cfg.TesseractLang)
	txt, warn, err := e.tesseractOCR(ctx, path)
	if err != nil {
		return provider.ExtractResult{Warnings: warn}, err
	}
	txt = Normalize(txt)

	var ocrConf float32
	if e.cfg.EnableTSVConfidence {
		if c, w, err := e.tesseractTSVConfidence(ctx, path); err == nil {
			ocrConf = c
			warn = append(warn, w...)
		} else {
			warn = append(warn, err.Error())
		}
	}
	heurConf := heuristicConfidence(txt)

	// blend: weight OCR higher if present
	conf := heurConf
	if ocrConf > 0 {
		conf = 0.7*ocrConf + 0.3*heurConf
	}
	if conf > 1.0 {
		conf = 1.0
	}

	return provider.ExtractResult{
		Text:       txt,
		Method:     e.Name(),
		Confidence: conf,
		Language:   e.cfg.TesseractLang,
		Warnings:   warn,
		Duration:   time.Since(start),
	}, nil
}
