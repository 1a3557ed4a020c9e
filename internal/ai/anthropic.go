package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// ClaudeClient generates answers with Anthropic's Messages API via langchaingo.
type ClaudeClient struct {
	llm       *anthropic.LLM
	maxTokens int
}

func NewClaudeClient(cfg ChatConfig) (*ClaudeClient, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &ClaudeClient{maxTokens: cfg.MaxTokens}, nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
		anthropic.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init anthropic client failed: %w", err)
	}
	return &ClaudeClient{llm: llm, maxTokens: cfg.MaxTokens}, nil
}

// Generate sends the conversation and returns the full answer. When onChunk is
// non-nil the answer is streamed to it as it arrives.
func (c *ClaudeClient) Generate(ctx context.Context, messages []ChatMessage, onChunk func(string) error) (string, error) {
	if c.llm == nil {
		return "", notConfigured(Anthropic)
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(roleOf(m.Role), m.Content))
	}

	opts := []llms.CallOption{
		llms.WithTemperature(0),
		llms.WithMaxTokens(c.maxTokens),
	}
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onChunk(string(chunk))
		}))
	}

	resp, err := c.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", Classify(Anthropic, err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: Anthropic.Name, Kind: KindUnavailable, Message: "Anthropic API returned no answer."}
	}
	return resp.Choices[0].Content, nil
}

func roleOf(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
