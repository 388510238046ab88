package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/zjrosen/crewchat/internal/log"
)

// contentGenerator is the slice of genai.Models used by GeminiClient.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// modelsFactory opens a generator for an API key.
type modelsFactory func(ctx context.Context, apiKey, baseURL string) (contentGenerator, error)

func newGenAIModels(ctx context.Context, apiKey, baseURL string) (contentGenerator, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client.Models, nil
}

// GeminiClient calls the Gemini API through google.golang.org/genai.
type GeminiClient struct {
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	credential  CredentialFunc
	open        modelsFactory
}

var _ Gateway = (*GeminiClient)(nil)

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithGeminiCredential replaces the environment lookup.
func WithGeminiCredential(fn CredentialFunc) GeminiOption {
	return func(c *GeminiClient) { c.credential = fn }
}

func withModelsFactory(f modelsFactory) GeminiOption {
	return func(c *GeminiClient) { c.open = f }
}

// NewGeminiClient creates a client from cfg. Zero fields take Gemini defaults.
func NewGeminiClient(cfg Config, opts ...GeminiOption) *GeminiClient {
	cfg.Provider = ProviderGemini
	cfg = cfg.withDefaults()
	c := &GeminiClient{
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		credential:  EnvCredential(cfg.APIKeyEnv),
		open:        newGenAIModels,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

// Generate sends one GenerateContent request with system as the system
// instruction.
func (c *GeminiClient) Generate(ctx context.Context, system, user string) (string, error) {
	ctx, span := startSpan(ctx, ProviderGemini, c.model, system, user)
	defer span.End()

	apiKey := c.credential()
	if apiKey == "" {
		log.Error(log.CatLLM, "Gemini API key not configured")
		return "", fail(span, fmt.Errorf("%w: Gemini API key not configured", ErrProviderUnavailable))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	models, err := c.open(ctx, apiKey, c.baseURL)
	if err != nil {
		return "", fail(span, &ProviderError{Provider: ProviderGemini, Reason: "client setup failed", Err: err})
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(float32(c.temperature)),
		MaxOutputTokens:   int32(c.maxTokens),
	}
	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	start := time.Now()
	resp, err := models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		pe := &ProviderError{Provider: ProviderGemini, Reason: "request failed", Err: err}
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.Code
			pe.Reason = apiErr.Message
		} else if errors.Is(err, context.DeadlineExceeded) {
			pe.Reason = "request timed out"
		}
		log.ErrorErr(log.CatLLM, "Gemini request failed", err, "model", c.model)
		return "", fail(span, pe)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fail(span, &ProviderError{Provider: ProviderGemini, Reason: "no completion returned"})
	}

	content := resp.Text()
	if strings.TrimSpace(content) == "" {
		return "", fail(span, &ProviderError{Provider: ProviderGemini, Reason: "empty completion returned"})
	}
	span.SetAttributes(attribute.Int("llm.completion_len", len(content)))
	log.Debug(log.CatLLM, "Completion received", "model", c.model, "duration", time.Since(start).String(), "completion_len", len(content))
	return content, nil
}
