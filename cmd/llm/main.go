package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/bootstrap"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/pipeline"
)

// llm scores the same essay text several times and reports how far the
// overall score drifts between runs.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: llm <text-file> [times]")
		os.Exit(2)
	}
	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		logger.Error("read text", "path", os.Args[1], "error", err)
		os.Exit(2)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		logger.Error("text file is empty", "path", os.Args[1])
		os.Exit(2)
	}
	times := 5
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
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
	stage := pipeline.NewCorrectionScoringStage(providers, logger)

	var scores []entity.Analysis
	failures := 0
	for i := 1; i <= times; i++ {
		runCtx, cancelRun := context.WithTimeout(context.Background(), 3*time.Minute)
		start := time.Now()
		a, err := stage.Run(runCtx, text)
		cancelRun()
		if err != nil {
			failures++
			logger.Error("scoring.run.failed", "iter", i, "kind", common.Kind(err), "error", err,
				"elapsed_ms", time.Since(start).Milliseconds())
			continue
		}
		scores = append(scores, *a)
		logger.Info("scoring.run.ok",
			"iter", i,
			"nota_geral", a.OverallScore,
			"corrections", len(a.Corrections),
			"model", a.Model,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}

	if len(scores) == 0 {
		logger.Error("every run failed", "runs", times)
		os.Exit(1)
	}
	lo, hi := scores[0].OverallScore, scores[0].OverallScore
	for _, a := range scores[1:] {
		lo = min(lo, a.OverallScore)
		hi = max(hi, a.OverallScore)
	}
	logger.Info("scoring.summary", "runs", times, "failures", failures, "min", lo, "max", hi, "spread", entity.Round1(hi-lo))
}
