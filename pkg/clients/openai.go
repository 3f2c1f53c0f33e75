package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mikeboe/deep-research/pkg/prompts"
)

// DefaultOpenAIURL is the OpenAI API root.
const DefaultOpenAIURL = "https://api.openai.com/v1"

// OpenAI calls the chat completions API with the researcher system preamble.
type OpenAI struct {
	APIKey  string
	BaseURL string
	Now     func() time.Time

	client *http.Client
}

func NewOpenAI(apiKey, baseURL string, client *http.Client) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAI{APIKey: apiKey, BaseURL: baseURL, Now: time.Now, client: client}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o.APIKey == "" {
		return "", missingKey(BackendOpenAI)
	}

	llm, err := openai.New(
		openai.WithToken(o.APIKey),
		openai.WithModel(req.Model),
		openai.WithBaseURL(o.BaseURL),
		openai.WithHTTPClient(o.client),
	)
	if err != nil {
		return "", fmt.Errorf("OpenAI client: %w", err)
	}

	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	resp, err := llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, prompts.SystemPreamble(o.Now())),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}, llms.WithTemperature(req.temperature()))
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("OpenAI API returned no choices")
	}
	return resp.Choices[0].Content, nil
}
