package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/essay-grader/constants"
	"github.com/joseph-ayodele/essay-grader/internal/bootstrap"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		configPath = flag.String("config", os.Getenv("ESSAY_CONFIG"), "path to YAML config (optional)")
		out        = flag.String("out", "", "write an XLSX listing of essays to this path after scoring (optional)")
		status     = flag.String("status", "", "restrict the XLSX listing to one status")
		wait       = flag.Duration("wait", 30*time.Minute, "how long to wait for the queue to drain")
	)
	flag.Parse()

	filter := repository.ListFilter{Limit: 500}
	if *status != "" {
		st, ok := constants.ParseStatus(strings.ToUpper(*status))
		if !ok {
			printError("Error: unknown --status %q\n", *status)
			os.Exit(1)
		}
		filter.Status = st
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := bootstrap.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	if err := app.Recover(ctx); err != nil {
		printError("Error: %v\n", err)
		_ = app.Close(context.Background())
		os.Exit(1)
	}

	drainCtx, cancel := context.WithTimeout(ctx, *wait)
	app.Queue.Shutdown(drainCtx)
	cancel()
	stats := app.Queue.Stats()
	logger.Info("batch.done",
		"scored", stats.Scored,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	exitCode := 0
	if *out != "" {
		data, err := app.Exporter.ExportEssaysXLSX(ctx, filter)
		if err == nil {
			err = os.WriteFile(*out, data, 0o644)
		}
		if err != nil {
			printError("Error: export: %v\n", err)
			exitCode = 1
		} else {
			fmt.Printf("wrote %s\n", *out)
		}
	}
	if err := app.Close(context.Background()); err != nil {
		logger.Error("app.close.failed", "error", err)
	}
	if stats.Failed > 0 {
		exitCode = 2
	}
	os.Exit(exitCode)
}
