package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/bootstrap"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/pipeline"
)

// runocr runs the extraction stage on a local image and prints the text,
// statistics and OCR quality. Nothing is persisted.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <image-file>")
		os.Exit(2)
	}
	path := os.Args[1]
	image, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read image", "path", path, "error", err)
		os.Exit(2)
	}

	cfg, err := common.LoadConfig(os.Getenv("ESSAY_CONFIG"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	providers, err := bootstrap.NewProviders(cfg.Providers, logger)
	if err != nil {
		logger.Error("build providers", "error", err)
		os.Exit(1)
	}
	stage := pipeline.NewExtractionStage(providers, logger)

	ctx, cancel := context.WithTimeout(context.Background(), bootstrap.RunTimeout(cfg.Providers))
	defer cancel()

	start := time.Now()
	out, err := stage.Run(ctx, image)
	dur := time.Since(start)
	if err != nil {
		logger.Error("text extraction failed",
			"path", path, "kind", common.Kind(err), "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	logger.Info("text extraction OK",
		"path", path,
		"method", out.Method,
		"chars", out.Stats.Characters,
		"quality", out.Quality.Level,
		"duration_ms", dur.Milliseconds(),
	)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"textoExtraido":  out.Text,
		"estatisticas":   out.Stats,
		"qualidadeOCR":   out.Quality,
		"metodoExtracao": out.Method,
		"confianca":      out.Confidence,
	})
}
