// Package clients implements the language-model backends of the research
// pipeline behind a single Completer contract.
package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// DefaultTemperature is used when a Request leaves Temperature at zero.
const DefaultTemperature = 0.7

var (
	ErrMissingCredential = errors.New("missing API key")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrRateLimited       = errors.New("rate limited")
)

// Backend is the closed set of language-model providers.
type Backend int

const (
	BackendGemini Backend = iota + 1
	BackendOpenAI
	BackendAnthropic
)

func (b Backend) String() string {
	switch b {
	case BackendGemini:
		return "gemini"
	case BackendOpenAI:
		return "openai"
	case BackendAnthropic:
		return "anthropic"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// displayName is used in error messages that end up in a record's error field.
func (b Backend) displayName() string {
	switch b {
	case BackendGemini:
		return "Gemini"
	case BackendOpenAI:
		return "OpenAI"
	case BackendAnthropic:
		return "Anthropic"
	}
	return b.String()
}

// ResolveBackend maps a model identifier to its backend by name prefix.
func ResolveBackend(model string) (Backend, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gemini"):
		return BackendGemini, nil
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return BackendOpenAI, nil
	case strings.HasPrefix(m, "claude"):
		return BackendAnthropic, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
}

// Request is one completion call.
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	// Timeout bounds each network attempt; zero leaves only ctx in charge.
	Timeout time.Duration
}

func (r Request) temperature() float64 {
	if r.Temperature == 0 {
		return DefaultTemperature
	}
	return r.Temperature
}

// Completer returns the completion text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// APIError is a non-success HTTP response from a backend.
type APIError struct {
	Backend    Backend
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Backend.displayName(), e.StatusCode, e.Body)
}

// Config holds the endpoint and credential of every backend.
type Config struct {
	GeminiAPIKey     string
	GeminiBaseURL    string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Router dispatches each request to the backend its model resolves to.
type Router struct {
	backends map[Backend]Completer
}

// NewRouter builds the three backends from cfg.
func NewRouter(cfg Config) *Router {
	return &Router{backends: map[Backend]Completer{
		BackendGemini:    NewGemini(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.HTTPClient, cfg.Logger),
		BackendOpenAI:    NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.HTTPClient),
		BackendAnthropic: NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.HTTPClient),
	}}
}

// NewRouterWith wires explicit backends, mainly for tests.
func NewRouterWith(backends map[Backend]Completer) *Router {
	return &Router{backends: backends}
}

func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	b, err := ResolveBackend(req.Model)
	if err != nil {
		return "", err
	}
	c, ok := r.backends[b]
	if !ok {
		return "", fmt.Errorf("no %s backend configured: %w", b.displayName(), ErrMissingCredential)
	}

	text, err := c.Complete(ctx, req)
	outcome := metrics.OK
	if err != nil {
		outcome = metrics.Failed
	}
	metrics.LLMCalls.WithLabelValues(b.String(), outcome).Inc()
	return text, err
}

func missingKey(b Backend) error {
	return fmt.Errorf("no API key found for %s model: %w", b.displayName(), ErrMissingCredential)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
