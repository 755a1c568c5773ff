package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/joseph-ayodele/essay-grader/internal/llm"
	"github.com/joseph-ayodele/essay-grader/internal/provider"
)

func (c *Client) Name() string { return "openai" }

// Analyze implements provider.Analyzer with a JSON-mode chat completion.
// Output that cannot be made to match the schema is a permanent failure.
func (c *Client) Analyze(ctx context.Context, text string) (provider.AnalyzeResult, error) {
	rid := uuid.New().String()
	start := time.Now()
	model := c.cfg.Deployment

	c.logger.Info("llm.analyze.start",
		"req_id", rid,
		"model", model,
		"temp", c.cfg.Temperature,
		"text_len", len(text),
	)

	req := goopenai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: llm.BuildSystemPrompt()},
			{Role: goopenai.ChatMessageRoleUser, Content: llm.BuildUserPrompt(text)},
			{Role: goopenai.ChatMessageRoleSystem, Content: llm.SchemaPrompt()},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if reasoningModel(model) {
		req.MaxCompletionTokens = c.cfg.MaxTokens
	} else {
		req.MaxTokens = c.cfg.MaxTokens
		req.Temperature = c.cfg.Temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("llm.analyze.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return provider.AnalyzeResult{}, mapAPIError(err)
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("llm.analyze.no_choices", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return provider.AnalyzeResult{}, &provider.StatusError{Provider: c.Name(), StatusCode: 502, Body: "no choices in completion"}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	rawContent, err := llm.ExtractJSONObject(content)
	if err != nil {
		c.logger.Error("llm.analyze.decode_error", "req_id", rid, "error", err, "content_len", len(content))
		return provider.AnalyzeResult{}, provider.Permanent(err)
	}

	rawContent, err = c.validate(rid, start, rawContent)
	if err != nil {
		return provider.AnalyzeResult{}, provider.Permanent(err)
	}

	var out llm.AnalysisFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		c.logger.Error("llm.analyze.unmarshal_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return provider.AnalyzeResult{}, provider.Permanent(fmt.Errorf("unmarshal fields: %w", err))
	}

	usedModel := resp.Model
	if usedModel == "" {
		usedModel = model
	}
	c.logger.Info("llm.analyze.ok",
		"req_id", rid,
		"model", usedModel,
		"corrections", len(out.Corrections),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out.ToResult(usedModel), nil
}

// validate checks strictly first and, when lenient mode is on, retries after
// sanitizing known deviations.
func (c *Client) validate(rid string, start time.Time, raw []byte) ([]byte, error) {
	err := llm.ValidateAnalysisJSON(raw)
	if err == nil {
		return raw, nil
	}
	if !c.cfg.LenientOptional {
		c.logger.Error("llm.analyze.schema_validation_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	cleaned, changed, sErr := llm.NormalizeAndSanitizeJSON(raw, c.logger)
	if sErr != nil {
		c.logger.Error("llm.analyze.sanitize_failed",
			"req_id", rid, "error", sErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("sanitize failed: %w", sErr)
	}
	if vErr := llm.ValidateAnalysisJSON(cleaned); vErr != nil {
		c.logger.Error("llm.analyze.schema_validation_failed",
			"req_id", rid, "error", vErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("schema validation failed: %w", vErr)
	}
	c.logger.Warn("llm.analyze.lenient_sanitize_applied",
		"req_id", rid, "changed", changed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return cleaned, nil
}

// mapAPIError turns SDK errors into provider.StatusError so retry can classify them.
func mapAPIError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &provider.StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &provider.StatusError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return err
}
