package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/crewchat/internal/log"
)

var tracer = otel.Tracer("github.com/zjrosen/crewchat/internal/llm")

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 512

// OpenAIClient calls an OpenAI-compatible chat/completions endpoint.
type OpenAIClient struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	credential  CredentialFunc
	httpClient  *http.Client
}

var _ Gateway = (*OpenAIClient)(nil)

// OpenAIOption customizes an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// WithCredential replaces the environment lookup.
func WithCredential(fn CredentialFunc) OpenAIOption {
	return func(c *OpenAIClient) { c.credential = fn }
}

// NewOpenAIClient creates a client from cfg. Zero fields take OpenAI defaults.
func NewOpenAIClient(cfg Config, opts ...OpenAIOption) *OpenAIClient {
	cfg.Provider = ProviderOpenAI
	cfg = cfg.withDefaults()
	c := &OpenAIClient{
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		credential:  EnvCredential(cfg.APIKeyEnv),
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Generate sends one chat completion request. The credential is checked
// before any network activity. Every call is bounded by the configured timeout.
func (c *OpenAIClient) Generate(ctx context.Context, system, user string) (string, error) {
	ctx, span := startSpan(ctx, ProviderOpenAI, c.model, system, user)
	defer span.End()

	apiKey := c.credential()
	if apiKey == "" {
		log.Error(log.CatLLM, "OpenAI API key not configured")
		return "", fail(span, fmt.Errorf("%w: OpenAI API key not configured", ErrProviderUnavailable))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fail(span, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fail(span, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	start := time.Now()
	log.Debug(log.CatLLM, "Sending completion request", "model", c.model, "system_len", len(system), "user_len", len(user))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "request timed out"
		}
		log.ErrorErr(log.CatLLM, "OpenAI request failed", err, "model", c.model)
		return "", fail(span, &ProviderError{Provider: ProviderOpenAI, Reason: reason, Err: err})
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fail(span, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Reason: "failed to read response", Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error(log.CatLLM, "OpenAI returned non-success status", "status", resp.StatusCode, "model", c.model)
		return "", fail(span, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Reason: truncate(string(raw), maxErrorBody)})
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fail(span, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Reason: "malformed response", Err: err})
	}
	if parsed.Error != nil {
		return "", fail(span, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Reason: parsed.Error.Message})
	}
	if len(parsed.Choices) == 0 {
		return "", fail(span, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Reason: "no completion returned"})
	}

	content := parsed.Choices[0].Message.Content
	span.SetAttributes(
		attribute.Int("llm.completion_len", len(content)),
		attribute.Int("llm.usage.total_tokens", parsed.Usage.TotalTokens),
	)
	log.Debug(log.CatLLM, "Completion received",
		"model", c.model, "duration", time.Since(start).String(), "completion_len", len(content), "total_tokens", parsed.Usage.TotalTokens)
	return content, nil
}

func startSpan(ctx context.Context, p Provider, model, system, user string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "llm.generate")
	span.SetAttributes(
		attribute.String("llm.provider", string(p)),
		attribute.String("llm.model", model),
		attribute.Int("llm.system_len", len(system)),
		attribute.Int("llm.user_len", len(user)),
	)
	return ctx, span
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
