// Package llm is the boundary to hosted chat-completion providers.
//
// A Gateway turns (system instructions, user prompt) into completion text.
// It makes one outbound call per Generate, never retries, and never caches.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Gateway generates a completion for a system instruction and a user prompt.
type Gateway interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Provider names a supported backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// IsValid reports whether p is supported.
func (p Provider) IsValid() bool {
	return p == ProviderOpenAI || p == ProviderGemini
}

var (
	// ErrProviderUnavailable is returned before any network call when the
	// provider credential is not set.
	ErrProviderUnavailable = errors.New("llm provider unavailable")

	// ErrUnknownProvider is returned by NewGateway for an unsupported provider.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// ProviderError reports a failed or unusable upstream response.
type ProviderError struct {
	Provider   Provider
	StatusCode int // zero when no HTTP response was received
	Reason     string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s provider error", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the transport error, if any.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Config selects and tunes a provider.
type Config struct {
	Provider    Provider
	Model       string
	BaseURL     string
	APIKeyEnv   string // environment variable holding the credential
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Defaults for the OpenAI backend.
const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultOpenAIAPIKeyEnv = "OPENAI_API_KEY"
	DefaultGeminiModel     = "gemini-2.5-flash"
	DefaultGeminiAPIKeyEnv = "GEMINI_API_KEY"
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 2000
	DefaultTimeout         = 60 * time.Second
)

// withDefaults fills zero fields with provider defaults.
func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	switch c.Provider {
	case ProviderOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = DefaultOpenAIBaseURL
		}
		if c.Model == "" {
			c.Model = DefaultOpenAIModel
		}
		if c.APIKeyEnv == "" {
			c.APIKeyEnv = DefaultOpenAIAPIKeyEnv
		}
	case ProviderGemini:
		if c.Model == "" {
			c.Model = DefaultGeminiModel
		}
		if c.APIKeyEnv == "" {
			c.APIKeyEnv = DefaultGeminiAPIKeyEnv
		}
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// CredentialFunc returns the provider credential, or "" when unset.
// It is called on every Generate.
type CredentialFunc func() string

// EnvCredential reads the credential from the named environment variable.
func EnvCredential(name string) CredentialFunc {
	return func() string { return strings.TrimSpace(os.Getenv(name)) }
}

// NewGateway builds the gateway for cfg.Provider.
func NewGateway(cfg Config) (Gateway, error) {
	cfg = cfg.withDefaults()
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg), nil
	case ProviderGemini:
		return NewGeminiClient(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
