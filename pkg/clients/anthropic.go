package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

const (
	// DefaultAnthropicURL is the Anthropic API root.
	DefaultAnthropicURL = "https://api.anthropic.com/v1"

	anthropicMaxTokens = 4096
)

// Anthropic calls the messages API with the prompt as a single user turn.
type Anthropic struct {
	APIKey  string
	BaseURL string

	client *http.Client
}

func NewAnthropic(apiKey, baseURL string, client *http.Client) *Anthropic {
	if baseURL == "" {
		baseURL = DefaultAnthropicURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Anthropic{APIKey: apiKey, BaseURL: baseURL, client: client}
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	if a.APIKey == "" {
		return "", missingKey(BackendAnthropic)
	}

	llm, err := anthropic.New(
		anthropic.WithToken(a.APIKey),
		anthropic.WithModel(req.Model),
		anthropic.WithBaseURL(a.BaseURL),
		anthropic.WithHTTPClient(a.client),
	)
	if err != nil {
		return "", fmt.Errorf("Anthropic client: %w", err)
	}

	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	resp, err := llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}, llms.WithTemperature(req.temperature()), llms.WithMaxTokens(anthropicMaxTokens))
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("Anthropic API returned no choices")
	}
	return resp.Choices[0].Content, nil
}
