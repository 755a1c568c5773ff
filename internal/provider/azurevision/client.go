// Package azurevision extracts text from essay images with the Azure AI
// Vision Image Analysis 4.0 Read feature.
package azurevision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/internal/provider"
)

const (
	defaultAPIVersion = "2024-05-01"
	maxErrorBody      = 64 << 10
	styleHandwritten  = "handwritten"
)

type Config struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Language   string
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New returns an Extractor. httpClient may be nil; per-attempt deadlines come
// from the caller's context.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Language == "" {
		cfg.Language = "pt"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

func (c *Client) Name() string { return "azure-vision" }

func (c *Client) analyzeURL() string {
	q := url.Values{}
	q.Set("api-version", c.cfg.APIVersion)
	q.Set("features", "read")
	q.Set("model-version", "latest")
	q.Set("language", c.cfg.Language)
	return c.cfg.Endpoint + "/computervision/imageanalysis:analyze?" + q.Encode()
}

func (c *Client) Extract(ctx context.Context, image []byte) (provider.ExtractResult, error) {
	reqID := uuid.NewString()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.analyzeURL(), bytes.NewReader(image))
	if err != nil {
		return provider.ExtractResult{}, provider.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)

	c.logger.Debug("azurevision.http.request", "req_id", reqID, "content_length", len(image))
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("azurevision.http.send_error", "req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return provider.ExtractResult{}, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("azurevision.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("azurevision.http.non_2xx", "req_id", reqID, "status", resp.StatusCode,
			"elapsed_ms", time.Since(start).Milliseconds())
		return provider.ExtractResult{}, &provider.StatusError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var payload analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return provider.ExtractResult{}, provider.Permanent(fmt.Errorf("decode read result: %w", err))
	}

	res := payload.toResult()
	res.Method = c.Name()
	res.Language = c.cfg.Language
	res.Duration = time.Since(start)
	c.logger.Info("azurevision.read.ok",
		"req_id", reqID,
		"chars", len(res.Text),
		"confidence", res.Confidence,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

type analyzeResponse struct {
	ReadResult *struct {
		Blocks []struct {
			Lines []readLine `json:"lines"`
		} `json:"blocks"`
	} `json:"readResult"`
}

type readLine struct {
	Text  string `json:"text"`
	Words []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Style      *struct {
			Name       string  `json:"name"`
			Confidence float64 `json:"confidence"`
		} `json:"style,omitempty"`
	} `json:"words"`
}

func (l readLine) confidence() float64 {
	if len(l.Words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range l.Words {
		sum += w.Confidence
	}
	return sum / float64(len(l.Words))
}

func (l readLine) handwritten() bool {
	return len(l.Words) > 0 && l.Words[0].Style != nil && l.Words[0].Style.Name == styleHandwritten
}

// toResult keeps handwritten lines when there are any, otherwise every line.
// Confidence is the mean line confidence over the kept lines.
func (r analyzeResponse) toResult() provider.ExtractResult {
	if r.ReadResult == nil {
		return provider.ExtractResult{Warnings: []string{"no read result"}}
	}
	var all, handwritten []readLine
	for _, b := range r.ReadResult.Blocks {
		for _, l := range b.Lines {
			all = append(all, l)
			if l.handwritten() {
				handwritten = append(handwritten, l)
			}
		}
	}
	kept := all
	var warnings []string
	if len(handwritten) > 0 {
		kept = handwritten
		if dropped := len(all) - len(handwritten); dropped > 0 {
			warnings = append(warnings, fmt.Sprintf("ignored %d printed line(s)", dropped))
		}
	}
	if len(kept) == 0 {
		return provider.ExtractResult{Warnings: []string{"no text detected"}}
	}

	texts := make([]string, 0, len(kept))
	var conf float64
	for _, l := range kept {
		texts = append(texts, l.Text)
		conf += l.confidence()
	}
	return provider.ExtractResult{
		Text:       strings.Join(texts, "\n"),
		Confidence: float32(conf / float64(len(kept))),
		Warnings:   warnings,
	}
}
