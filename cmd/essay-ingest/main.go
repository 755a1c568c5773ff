package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/async"
	"github.com/joseph-ayodele/essay-grader/internal/bootstrap"
	"github.com/joseph-ayodele/essay-grader/internal/common"
	"github.com/joseph-ayodele/essay-grader/internal/ingest"
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
		dir        = flag.String("dir", "", "directory of essay images to submit (required)")
		watch      = flag.Bool("watch", false, "keep running and submit images as they appear")
		score      = flag.Bool("score", false, "queue every submitted essay for scoring")
		skipHidden = flag.Bool("skip-hidden", true, "skip dot files and directories")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
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
	in := ingest.New(app.Orchestrator, logger)

	enqueue := func(r ingest.FileResult) {
		if !*score || r.Err != "" {
			return
		}
		if err := app.Queue.Enqueue(ctx, async.Job{EssayID: r.EssayID, SubmittedAt: time.Now(), Reason: "ingest"}); err != nil {
			logger.Warn("ingest.enqueue.failed", "essay_id", r.EssayID, "error", err)
		}
	}

	exitCode := 0
	if *watch {
		events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       []string{*dir},
			InitialScan: true,
			Debounce:    500 * time.Millisecond,
		}, logger)
		if err != nil {
			printError("Error: %v\n", err)
			exitCode = 1
		} else {
			logger.Info("ingest.watching", "dir", *dir)
			for path := range events {
				e, err := in.IngestPath(ctx, path)
				if err != nil {
					continue
				}
				enqueue(ingest.FileResult{Path: path, EssayID: e.ID, Status: e.Status})
			}
			for err := range errs {
				logger.Warn("ingest.watch.error", "error", err)
			}
		}
	} else {
		results, stats, err := in.IngestDirectory(ctx, *dir, *skipHidden)
		if err != nil {
			printError("Error: %v\n", err)
			exitCode = 1
		}
		for _, r := range results {
			if r.Err != "" {
				fmt.Printf("FAIL  %s: %s\n", r.Path, r.Err)
				continue
			}
			fmt.Printf("OK    %s -> %s (%s)\n", r.Path, r.EssayID, r.Status)
			enqueue(r)
		}
		if stats.Failed > 0 {
			exitCode = 2
		}
	}

	// Close drains whatever scoring was queued.
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ProcessTimeout*2)
	if err := app.Close(closeCtx); err != nil {
		logger.Error("app.close.failed", "error", err)
	}
	cancel()
	os.Exit(exitCode)
}
