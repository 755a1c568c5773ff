package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/essay-grader/internal/common"
)

// Client wraps one Extractor and one Analyzer behind the per-capability call
// policies. Callers never retry on top of it.
type Client struct {
	extractor     Extractor
	analyzer      Analyzer
	extract       *gate
	analyze       *gate
	maxImageBytes int64
	logger        *slog.Logger
}

func NewClient(ex Extractor, an Analyzer, cfg common.ProvidersConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		extractor:     ex,
		analyzer:      an,
		extract:       newGate("extract", cfg.Extract.Policy, logger),
		analyze:       newGate("analyze", cfg.Analyze.Policy, logger),
		maxImageBytes: cfg.Extract.MaxImageBytes,
		logger:        logger,
	}
}

func (c *Client) ExtractorName() string { return c.extractor.Name() }
func (c *Client) AnalyzerName() string  { return c.analyzer.Name() }

// Extract reads text from image. The image is checked for size before any call.
func (c *Client) Extract(ctx context.Context, image []byte) (ExtractResult, error) {
	if len(image) == 0 {
		return ExtractResult{}, common.InvalidInputf("image is empty")
	}
	if c.maxImageBytes > 0 && int64(len(image)) > c.maxImageBytes {
		return ExtractResult{}, common.InvalidInputf("image has %d bytes, limit is %d", len(image), c.maxImageBytes)
	}

	start := time.Now()
	var res ExtractResult
	err := c.extract.do(ctx, c.extractor.Name(), func(ctx context.Context) error {
		r, err := c.extractor.Extract(ctx, image)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		c.logger.Error("provider.extract.failed", "provider", c.extractor.Name(), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return ExtractResult{}, err
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	if res.Method == "" {
		res.Method = c.extractor.Name()
	}
	c.logger.Info("provider.extract.ok",
		"provider", c.extractor.Name(),
		"chars", len(res.Text),
		"confidence", res.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Analyze corrects and scores text, which must not be blank.
func (c *Client) Analyze(ctx context.Context, text string) (AnalyzeResult, error) {
	if strings.TrimSpace(text) == "" {
		return AnalyzeResult{}, common.InvalidInputf("text to analyze is empty")
	}

	start := time.Now()
	var res AnalyzeResult
	err := c.analyze.do(ctx, c.analyzer.Name(), func(ctx context.Context) error {
		r, err := c.analyzer.Analyze(ctx, text)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		c.logger.Error("provider.analyze.failed", "provider", c.analyzer.Name(), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return AnalyzeResult{}, err
	}
	c.logger.Info("provider.analyze.ok",
		"provider", c.analyzer.Name(),
		"model", res.Model,
		"corrections", len(res.Corrections),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Describe is a short human-readable summary for startup logs.
func (c *Client) Describe() string {
	return fmt.Sprintf("extract=%s (timeout %s, %d attempts) analyze=%s (timeout %s, %d attempts)",
		c.extractor.Name(), c.extract.policy.Timeout, c.extract.policy.MaxAttempts,
		c.analyzer.Name(), c.analyze.policy.Timeout, c.analyze.policy.MaxAttempts)
}
