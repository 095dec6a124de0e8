// Package llm implements the language-model tier: primary classification,
// verification, and entity extraction against OpenAI with JSON-mode output.
// Retries, deadlines, schema validation, and cost telemetry live here;
// callers see validated results or tagged errors only.
package llm

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/pkg/apperr"
	"mailsense/pkg/redact"
)

const (
	DefaultModel = "gpt-4o-mini"

	// Inputs are capped before they reach a prompt. Subjects and snippets
	// beyond this carry no classification signal.
	maxSubjectLen = 256
	maxSnippetLen = 2000
)

type Client struct {
	api           *openai.Client
	model         string
	maxTokens     int
	temperature   float32
	timeout       time.Duration
	maxRetries    int
	promptVersion string
	costs         out.CostRepository
	clock         domain.Clock
	logger        zerolog.Logger
}

type ClientConfig struct {
	APIKey        string
	Model         string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
	MaxRetries    int
	PromptVersion string
}

// NewClient builds the LLM client. costs may be nil, in which case spend
// telemetry is skipped.
func NewClient(cfg ClientConfig, costs out.CostRepository, clock domain.Clock, logger zerolog.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	promptVersion := cfg.PromptVersion
	if promptVersion == "" {
		promptVersion = CurrentPromptVersion
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Client{
		api:           openai.NewClient(cfg.APIKey),
		model:         model,
		maxTokens:     maxTokens,
		temperature:   float32(cfg.Temperature),
		timeout:       timeout,
		maxRetries:    maxRetries,
		promptVersion: promptVersion,
		costs:         costs,
		clock:         clock,
		logger:        logger.With().Str("component", "llm").Logger(),
	}
}

func (c *Client) ModelVersion() string  { return c.model }
func (c *Client) PromptVersion() string { return c.promptVersion }

// Ping verifies the API is reachable, for /health.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.api.ListModels(ctx)
	return err
}

// usage is per-call token telemetry.
type usage struct {
	InputTokens  int
	OutputTokens int
	DurationMS   int64
}

// completeJSON runs one JSON-mode chat completion with bounded retries.
// Transient failures (429, 5xx, network) are retried with exponential
// backoff and jitter; other 4xx responses are not. The per-attempt deadline
// is the configured timeout; the caller's context bounds the whole call.
func (c *Client) completeJSON(ctx context.Context, systemPrompt, userPrompt string) (string, usage, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(backoff / 2)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", usage{}, apperr.LLMTimeout(ctx.Err())
			}
		}

		content, u, err := c.attempt(ctx, systemPrompt, userPrompt)
		if err == nil {
			return content, u, nil
		}
		lastErr = err
		if !apperr.IsKind(err, apperr.KindLLMTransient) {
			return "", usage{}, err
		}
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("llm call failed, retrying")
	}
	return "", usage{}, lastErr
}

func (c *Client) attempt(ctx context.Context, systemPrompt, userPrompt string) (string, usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		return "", usage{}, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", usage{}, apperr.LLMTransient(errors.New("empty choices"))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", usage{}, apperr.LLMRefused(errors.New("content filter"))
	}
	u := usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		DurationMS:   elapsed,
	}
	return choice.Message.Content, u, nil
}

// classifyAPIError maps transport errors to tagged kinds. 429 and 5xx are
// transient; other 4xx are terminal.
func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.LLMTimeout(err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return apperr.LLMTransient(err)
		case apiErr.HTTPStatusCode >= 400:
			return apperr.LLMRefused(err)
		}
	}
	// Network-level failures have no status code.
	return apperr.LLMTransient(err)
}

// recordCost writes one spend event; a write failure is logged, never
// surfaced, so billing telemetry cannot fail a classification.
func (c *Client) recordCost(ctx context.Context, userID, operation string, u usage) {
	if c.costs == nil {
		return
	}
	event := &domain.CostEvent{
		UserID:          userID,
		Operation:       operation,
		ModelVersion:    c.model,
		PromptVersion:   c.promptVersion,
		InputTokensEst:  u.InputTokens,
		OutputTokensEst: u.OutputTokens,
		CostUSDEst:      estimateCost(c.model, u.InputTokens, u.OutputTokens),
		DurationMS:      u.DurationMS,
		CreatedAt:       c.clock.Now(),
	}
	if err := c.costs.Record(ctx, event); err != nil {
		c.logger.Error().Err(err).Str("operation", operation).Msg("cost event write failed")
	}
}

// Per-million-token pricing. Unknown models fall back to the most expensive
// known rate so the daily cap errs toward tripping early.
var pricing = map[string]struct{ in, out float64 }{
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4o":      {2.50, 10.00},
}

func estimateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		p = pricing["gpt-4o"]
	}
	return float64(inputTokens)/1e6*p.in + float64(outputTokens)/1e6*p.out
}

// sanitizeEmail applies prompt hygiene before any field reaches a prompt.
func sanitizeEmail(email *domain.InboundEmail) (from, subject, snippet string) {
	return redact.Sanitize(email.From, maxSubjectLen),
		redact.Sanitize(email.Subject, maxSubjectLen),
		redact.Sanitize(email.Snippet, maxSnippetLen)
}

// parseJSON strips optional markdown fences and unmarshals into v.
func parseJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return json.Unmarshal([]byte(strings.TrimSpace(s)), v)
}
