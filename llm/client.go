// ABOUTME: This file implements the HTTP client for the news-analyzer LLM service
// ABOUTME: One analysis call per item, with JSON validation and a single repair retry
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"newswatch/config"
	"newswatch/domain"
)

// Analysis is one validated provider result.
type Analysis struct {
	Sentiment  domain.Sentiment
	Impact     domain.Impact
	TokensUsed int
	CostUSD    float64
}

// Provider analyzes one item at a time. Implementations must be safe for
// concurrent use by the worker pool.
type Provider interface {
	Analyze(ctx context.Context, item *domain.Item, modelTag string) (*Analysis, error)
	CheckHealth(ctx context.Context) error
}

type generatePayload struct {
	Model     string          `json:"model"`
	Prompt    string          `json:"prompt"`
	Stream    bool            `json:"stream"`
	KeepAlive int             `json:"keep_alive"`
	Options   generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
	NumCtx      int     `json:"num_ctx"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type analysisDocument struct {
	Sentiment domain.Sentiment `json:"sentiment"`
	Impact    domain.Impact    `json:"impact"`
}

type httpProvider struct {
	client *http.Client
	cfg    config.LLMConfig
	logger *slog.Logger
}

// NewHTTPProvider creates the provider client for the analyzer service.
func NewHTTPProvider(cfg config.LLMConfig, logger *slog.Logger) Provider {
	return &httpProvider{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// Analyze builds the prompt, calls the provider, and validates the response
// against the analysis schema. An invalid response gets exactly one repair
// attempt before the call fails with ErrInvalidResponse.
func (p *httpProvider) Analyze(ctx context.Context, item *domain.Item, modelTag string) (*Analysis, error) {
	if item.Title == "" && item.Description == "" && item.Content == "" {
		return nil, fmt.Errorf("analyze item %d: %w", item.ID, domain.ErrInputTooLarge)
	}

	prompt := BuildPrompt(item, p.cfg.MaxPromptChars)

	raw, tokens, err := p.generate(ctx, modelTag, prompt)
	if err != nil {
		return nil, err
	}

	doc, validationErr := decodeAnalysis(raw)
	if validationErr != nil {
		p.logger.WarnContext(ctx, "provider response failed validation, attempting repair",
			"item_id", item.ID, "model", modelTag, "error", validationErr)

		repairPrompt := BuildRepairPrompt(validationErr.Error(), raw, p.cfg.MaxPromptChars)
		var repairTokens int
		raw, repairTokens, err = p.generate(ctx, modelTag, repairPrompt)
		if err != nil {
			return nil, err
		}
		tokens += repairTokens

		doc, validationErr = decodeAnalysis(raw)
		if validationErr != nil {
			return nil, fmt.Errorf("analyze item %d: %w: %v", item.ID, domain.ErrInvalidResponse, validationErr)
		}
	}

	return &Analysis{
		Sentiment:  doc.Sentiment,
		Impact:     doc.Impact,
		TokensUsed: tokens,
		CostUSD:    CostPerItem(modelTag),
	}, nil
}

func (p *httpProvider) generate(ctx context.Context, modelTag, prompt string) (string, int, error) {
	payload := generatePayload{
		Model:     modelTag,
		Prompt:    prompt,
		Stream:    false,
		KeepAlive: -1,
		Options: generateOptions{
			Temperature: 0.0,
			TopP:        0.9,
			NumPredict:  1200,
			NumCtx:      8192,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("marshal analyze payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+p.cfg.APIPath, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", 0, fmt.Errorf("analyze call timed out: %w", err)
		}
		return "", 0, fmt.Errorf("analyze call failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return "", 0, fmt.Errorf("analyze call: %w", domain.ErrProviderRateLimit)
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return "", 0, fmt.Errorf("analyze call: provider returned %d: %w", resp.StatusCode, domain.ErrProviderUnavailable)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return "", 0, fmt.Errorf("analyze call: unexpected status %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", 0, fmt.Errorf("decode analyze response: %w", err)
	}

	return gen.Response, gen.PromptEvalCount + gen.EvalCount, nil
}

// CheckHealth probes the analyzer's health endpoint.
func (p *httpProvider) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Host+p.cfg.HealthPath, http.NoBody)
	if err != nil {
		return fmt.Errorf("build health check request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("analyzer health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analyzer not healthy: status %d", resp.StatusCode)
	}
	return nil
}

// decodeAnalysis parses the model output into the analysis schema and runs
// full validation. Code fences around the JSON are tolerated.
func decodeAnalysis(raw string) (*analysisDocument, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var doc analysisDocument
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	if err := doc.Sentiment.Validate(); err != nil {
		return nil, err
	}
	if err := doc.Impact.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// IsRetryable reports whether a provider failure is worth another attempt
// after backoff. Invalid responses already got their repair retry and input
// size problems never improve.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrInvalidResponse), errors.Is(err, domain.ErrInputTooLarge):
		return false
	case errors.Is(err, domain.ErrProviderRateLimit), errors.Is(err, domain.ErrProviderUnavailable):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
