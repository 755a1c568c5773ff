// Command provider-check exercises each configured dependency once and
// reports which ones answer.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/bootstrap"
	"github.com/joseph-ayodele/essay-grader/internal/common"
)

const (
	checkTimeout = 15 * time.Second
	sampleEssay  = "A educação é a base de uma sociedade justa. Portanto, investir em escolas é essencial."
)

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func main() {
	configPath := flag.String("config", os.Getenv("ESSAY_CONFIG"), "path to YAML config (optional)")
	skipAnalyze := flag.Bool("skip-analyze", false, "do not call the analysis model")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := bootstrap.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	providers, err := bootstrap.NewProviders(cfg.Providers, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	samplePNG, err := blankPNG()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	checks := []check{
		{"store", func(ctx context.Context) (string, error) {
			store, err := bootstrap.OpenStore(ctx, cfg.Store, logger)
			if err != nil {
				return "", err
			}
			defer store.Close()
			return cfg.Store.Driver, store.Ping(ctx)
		}},
		{"images", func(ctx context.Context) (string, error) {
			images, err := bootstrap.OpenImages(ctx, cfg.Images, logger)
			if err != nil {
				return "", err
			}
			return cfg.Images.Driver, images.Ping(ctx)
		}},
		{"extract", func(ctx context.Context) (string, error) {
			res, err := providers.Extract(ctx, samplePNG)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s: %d chars, confidence %.2f", providers.ExtractorName(), len(res.Text), res.Confidence), nil
		}},
	}
	if !*skipAnalyze {
		checks = append(checks, check{"analyze", func(ctx context.Context) (string, error) {
			res, err := providers.Analyze(ctx, sampleEssay)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s: model %s, %d corrections", providers.AnalyzerName(), res.Model, len(res.Corrections)), nil
		}})
	}

	failed := 0
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		detail, err := c.run(cctx)
		cancel()
		elapsed := time.Since(start).Round(time.Millisecond)
		if err != nil {
			failed++
			fmt.Printf("FAIL  %-8s %-8s %s (%s)\n", c.name, elapsed, err, common.Kind(err))
			continue
		}
		fmt.Printf("OK    %-8s %-8s %s\n", c.name, elapsed, detail)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// blankPNG is a 1x1 white image; extractors should return little or no text.
func blankPNG() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
