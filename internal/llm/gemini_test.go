package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	calls    int
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func newGeminiForTest(fake *fakeModels, key string) (*GeminiClient, *int) {
	opened := 0
	c := NewGeminiClient(Config{Model: "gemini-test"},
		WithGeminiCredential(staticKey(key)),
		withModelsFactory(func(_ context.Context, apiKey, _ string) (contentGenerator, error) {
			opened++
			return fake, nil
		}),
	)
	return c, &opened
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func TestGemini_Generate_Success(t *testing.T) {
	fake := &fakeModels{resp: textResponse("export const App = () => null;")}
	c, _ := newGeminiForTest(fake, "g-key")

	out, err := c.Generate(context.Background(), "you write code", "make an app")
	require.NoError(t, err)
	assert.Equal(t, "export const App = () => null;", out)

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, "gemini-test", fake.model)
	require.Len(t, fake.contents, 1)
	require.Len(t, fake.contents[0].Parts, 1)
	assert.Equal(t, "make an app", fake.contents[0].Parts[0].Text)
	require.NotNil(t, fake.config.SystemInstruction)
	assert.Equal(t, "you write code", fake.config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, fake.config.Temperature)
	assert.InDelta(t, DefaultTemperature, *fake.config.Temperature, 1e-6)
	assert.EqualValues(t, DefaultMaxTokens, fake.config.MaxOutputTokens)
}

func TestGemini_Generate_MissingCredential(t *testing.T) {
	fake := &fakeModels{resp: textResponse("unused")}
	c, opened := newGeminiForTest(fake, "")

	_, err := c.Generate(context.Background(), "s", "u")
	require.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, 0, *opened)
	assert.Equal(t, 0, fake.calls)
}

func TestGemini_Generate_Failures(t *testing.T) {
	tests := []struct {
		name       string
		fake       *fakeModels
		wantStatus int
		wantReason string
	}{
		{
			name:       "api error",
			fake:       &fakeModels{err: genai.APIError{Code: 403, Message: "permission denied"}},
			wantStatus: 403,
			wantReason: "permission denied",
		},
		{
			name:       "transport error",
			fake:       &fakeModels{err: errors.New("connection reset")},
			wantReason: "request failed",
		},
		{
			name:       "no candidates",
			fake:       &fakeModels{resp: &genai.GenerateContentResponse{}},
			wantReason: "no completion returned",
		},
		{
			name:       "nil response",
			fake:       &fakeModels{},
			wantReason: "no completion returned",
		},
		{
			name:       "blank text",
			fake:       &fakeModels{resp: textResponse("   ")},
			wantReason: "empty completion returned",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newGeminiForTest(tt.fake, "g-key")
			_, err := c.Generate(context.Background(), "s", "u")

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, ProviderGemini, pe.Provider)
			assert.Equal(t, tt.wantStatus, pe.StatusCode)
			assert.Contains(t, pe.Reason, tt.wantReason)
			assert.Equal(t, 1, tt.fake.calls, "no retries")
		})
	}
}

func TestGemini_Generate_FactoryError(t *testing.T) {
	c := NewGeminiClient(Config{},
		WithGeminiCredential(staticKey("k")),
		withModelsFactory(func(context.Context, string, string) (contentGenerator, error) {
			return nil, errors.New("bad config")
		}),
	)
	_, err := c.Generate(context.Background(), "s", "u")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "client setup failed", pe.Reason)
}
