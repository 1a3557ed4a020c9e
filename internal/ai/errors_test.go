package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"quota via status", errors.New("API returned unexpected status code: 429: You exceeded your current quota"), KindRateLimit},
		{"rate limit text", errors.New("Rate limit reached for requests"), KindRateLimit},
		{"auth via status", errors.New("API returned unexpected status code: 401: Incorrect API key provided"), KindAuth},
		{"bad request", errors.New("API returned unexpected status code: 400: input too long"), KindBadRequest},
		{"deadline", fmt.Errorf("send request: %w", context.DeadlineExceeded), KindTimeout},
		{"http client timeout", errors.New("Post \"https://api.openai.com\": net/http: request canceled (Client.Timeout exceeded)"), KindTimeout},
		{"server error", errors.New("API returned unexpected status code: 503: overloaded"), KindUnavailable},
		{"network", errors.New("dial tcp: connection refused"), KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(OpenAI, tt.err)
			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.kind, pe.Kind)
			assert.Equal(t, "OpenAI", pe.Provider)
			assert.NotEmpty(t, pe.Error())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_PassThrough(t *testing.T) {
	assert.NoError(t, Classify(OpenAI, nil))

	canceled := fmt.Errorf("stream: %w", context.Canceled)
	assert.Equal(t, canceled, Classify(Anthropic, canceled))

	already := &ProviderError{Provider: "Anthropic", Kind: KindAuth, Message: "nope"}
	assert.Same(t, already, Classify(OpenAI, already))
}

func TestClassify_RateLimitMessageIsActionable(t *testing.T) {
	err := Classify(Anthropic, errors.New("status code: 429"))
	assert.Contains(t, err.Error(), "Anthropic API rate limit exceeded")
	assert.Contains(t, err.Error(), "billing")

	err = Classify(Anthropic, errors.New("status code: 401"))
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestClientsWithoutKeyReportNotConfigured(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(EmbeddingConfig{Model: "text-embedding-3-small"})
	require.NoError(t, err)
	_, err = embedder.EmbedQuery(context.Background(), "hello")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindNotConfigured, pe.Kind)
	assert.Contains(t, pe.Error(), "OPENAI_API_KEY")

	claude, err := NewClaudeClient(ChatConfig{Model: "claude-sonnet-4-5"})
	require.NoError(t, err)
	_, err = claude.Generate(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, nil)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindNotConfigured, pe.Kind)
	assert.Contains(t, pe.Error(), "ANTHROPIC_API_KEY")
}
