package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

const (
	// DefaultGeminiURL is the Generative Language API models endpoint.
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models"

	geminiMaxAttempts    = 5
	geminiInitialBackoff = 2 * time.Second

	retryInfoType = "type.googleapis.com/google.rpc.RetryInfo"
)

// Gemini calls generateContent through the genai SDK. Rate-limited attempts
// are retried with exponential backoff, honoring the server's RetryInfo delay.
type Gemini struct {
	APIKey         string
	BaseURL        string
	MaxAttempts    int
	InitialBackoff time.Duration
	// Sleep waits between attempts. Replaced in tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger

	httpClient *http.Client

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGemini constructs a Gemini backend with the default retry policy.
func NewGemini(apiKey, baseURL string, client *http.Client, logger *slog.Logger) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		APIKey:         apiKey,
		BaseURL:        baseURL,
		MaxAttempts:    geminiMaxAttempts,
		InitialBackoff: geminiInitialBackoff,
		Sleep:          sleepContext,
		Logger:         logger,
		httpClient:     client,
	}
}

// GenAIConfig returns the genai client configuration for the Gemini API
// behind baseURL, given in its REST form (".../v1beta/models").
func GenAIConfig(apiKey, baseURL string, httpClient *http.Client) *genai.ClientConfig {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base, version := SplitGeminiBaseURL(baseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base, APIVersion: version}
	}
	return cfg
}

// SplitGeminiBaseURL turns a REST models URL such as
// https://host/v1beta/models into the SDK's base URL and API version.
func SplitGeminiBaseURL(raw string) (base, version string) {
	raw = strings.TrimSuffix(strings.TrimRight(raw, "/"), "/models")
	i := strings.LastIndex(raw, "/")
	if i < 0 || !strings.Contains(raw[:i], "://") {
		return "", ""
	}
	return raw[:i+1], raw[i+1:]
}

func (g *Gemini) sdk(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(context.WithoutCancel(ctx), GenAIConfig(g.APIKey, g.BaseURL, g.httpClient))
	})
	return g.client, g.initErr
}

// rateLimited marks an attempt worth retrying. delay is the server hint, or
// zero when the current backoff applies.
type rateLimited struct {
	delay time.Duration
	cause string
}

func (e *rateLimited) Error() string { return e.cause }

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	if g.APIKey == "" {
		return "", missingKey(BackendGemini)
	}
	client, err := g.sdk(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}

	contents := genai.Text(req.Prompt)
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.temperature())),
	}

	backoff := g.InitialBackoff
	for attempt := 1; attempt <= g.MaxAttempts; attempt++ {
		text, err := g.attempt(ctx, client, req.Model, contents, config, req.Timeout)
		if err == nil {
			return text, nil
		}

		var rl *rateLimited
		if !errors.As(err, &rl) {
			return "", err
		}
		if attempt == g.MaxAttempts {
			break
		}

		delay := backoff
		if rl.delay > 0 {
			delay = rl.delay
		}
		g.Logger.WarnContext(ctx, "gemini rate limited, retrying",
			"model", req.Model, "attempt", attempt, "max_attempts", g.MaxAttempts,
			"delay", delay, "cause", rl.cause)
		metrics.LLMRateLimitRetries.WithLabelValues(BackendGemini.String()).Inc()

		if err := g.Sleep(ctx, delay); err != nil {
			return "", err
		}
		backoff *= 2
	}

	return "", fmt.Errorf("failed after %d attempts to call Gemini API due to rate limiting: %w", g.MaxAttempts, ErrRateLimited)
}

func (g *Gemini) attempt(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, config *genai.GenerateContentConfig, timeout time.Duration) (string, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 {
		return "", errors.New("unexpected Gemini API response format: missing candidates")
	}
	content := resp.Candidates[0].Content
	if content == nil || content.Parts == nil {
		return "", errors.New("unexpected Gemini API response structure")
	}
	if len(content.Parts) == 0 || content.Parts[0] == nil {
		return "", errors.New("empty response from Gemini API")
	}
	return content.Parts[0].Text, nil
}

// classifyGeminiError separates rate limits, which are retried, from API
// and transport failures, which end the call.
func classifyGeminiError(err error) error {
	if apiErr, ok := asGenAIError(err); ok {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return &rateLimited{delay: retryDelay(apiErr.Details), cause: apiErr.Error()}
		}
		return &APIError{Backend: BackendGemini, StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	if msg := strings.ToLower(err.Error()); strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota") {
		return &rateLimited{cause: err.Error()}
	}
	return fmt.Errorf("gemini API request error: %w", err)
}

func asGenAIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// retryDelay reads the RetryInfo detail of a 429 error, e.g. "13s".
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		if t, _ := d["@type"].(string); t != retryInfoType {
			continue
		}
		raw, _ := d["retryDelay"].(string)
		if raw == "" {
			continue
		}
		secs, err := strconv.ParseFloat(strings.TrimSuffix(raw, "s"), 64)
		if err != nil || secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
