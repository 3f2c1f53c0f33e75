// Package keycheck verifies the configured provider credentials: it checks
// each key's format and probes the provider with it where that is possible
// without spending tokens.
package keycheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/search"
)

// ProbeTimeout bounds each reachability probe.
const ProbeTimeout = 10 * time.Second

// ProbeModel is the Gemini model looked up to validate a Google key.
const ProbeModel = "gemini-1.5-pro"

type Level string

const (
	LevelOK      Level = "ok"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelFailed  Level = "failed"
)

// Result is the outcome of checking one credential. Usable reports whether
// the backend can be used with the current configuration.
type Result struct {
	Name   string
	Usable bool
	Notes  []Note
}

type Note struct {
	Level   Level
	Message string
}

func (r *Result) note(level Level, format string, args ...any) {
	r.Notes = append(r.Notes, Note{Level: level, Message: fmt.Sprintf(format, args...)})
}

// Keys is the credential set to check.
type Keys struct {
	GeminiAPIKey    string
	GeminiBaseURL   string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	TavilyAPIKey    string
	TavilyBaseURL   string
	SearchProvider  string
}

// ModelGetter looks up a Gemini model with the given key.
type ModelGetter interface {
	GetModel(ctx context.Context, apiKey, baseURL, model string) error
}

// Checker runs the probes.
type Checker struct {
	Keys       Keys
	Gemini     ModelGetter
	HTTPClient *http.Client
}

// New returns a Checker that probes Gemini through the genai SDK.
func New(keys Keys) *Checker {
	return &Checker{
		Keys:       keys,
		Gemini:     GenAIModelGetter{},
		HTTPClient: &http.Client{Timeout: ProbeTimeout},
	}
}

var prefixes = map[string]string{
	"Google":    "AIza",
	"OpenAI":    "sk-",
	"Anthropic": "sk-ant-",
	"Tavily":    "tvly-",
}

// ValidFormat reports whether key carries the prefix issued by provider.
func ValidFormat(provider, key string) bool {
	p, ok := prefixes[provider]
	return ok && strings.HasPrefix(key, p)
}

// placeholder values shipped in example env files count as unset.
func unset(key string) bool {
	key = strings.TrimSpace(key)
	return key == "" || strings.HasPrefix(key, "your_")
}

func (c *Checker) formatNote(r *Result, provider, key string) {
	if !ValidFormat(provider, key) {
		r.note(LevelWarning, "%s API key doesn't match expected format (should start with '%s')", provider, prefixes[provider])
	}
}

// Run checks every credential in order Google, OpenAI, Anthropic, Tavily.
func (c *Checker) Run(ctx context.Context) []Result {
	return []Result{
		c.checkGoogle(ctx),
		c.checkOpenAI(ctx),
		c.checkAnthropic(),
		c.checkTavily(ctx),
	}
}

func (c *Checker) checkGoogle(ctx context.Context) Result {
	r := Result{Name: "Google"}
	key := c.Keys.GeminiAPIKey
	if unset(key) {
		r.note(LevelFailed, "Google API key not configured")
		return r
	}
	c.formatNote(&r, "Google", key)

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	if err := c.Gemini.GetModel(ctx, key, c.Keys.GeminiBaseURL, ProbeModel); err != nil {
		r.note(LevelFailed, "Google API key error: %v", err)
		return r
	}
	r.Usable = true
	r.note(LevelOK, "Google API key is valid")
	return r
}

func (c *Checker) checkOpenAI(ctx context.Context) Result {
	r := Result{Name: "OpenAI"}
	key := c.Keys.OpenAIAPIKey
	if unset(key) {
		r.note(LevelWarning, "OpenAI API key not configured")
		return r
	}
	c.formatNote(&r, "OpenAI", key)

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	base := strings.TrimRight(c.Keys.OpenAIBaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
	if err != nil {
		r.note(LevelFailed, "OpenAI API request error: %v", err)
		return r
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		r.note(LevelFailed, "OpenAI API request error: %v", err)
		return r
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 100))
		r.note(LevelFailed, "OpenAI API key error: %d - %s", resp.StatusCode, body)
		return r
	}
	r.Usable = true
	r.note(LevelOK, "OpenAI API key is valid")
	return r
}

// Anthropic has no endpoint that validates a key without a completion, so
// only the format is checked.
func (c *Checker) checkAnthropic() Result {
	r := Result{Name: "Anthropic"}
	key := c.Keys.AnthropicAPIKey
	if unset(key) {
		r.note(LevelWarning, "Anthropic API key not configured")
		return r
	}
	c.formatNote(&r, "Anthropic", key)
	r.Usable = true
	r.note(LevelInfo, "Anthropic API key is configured but not verified (requires making a completion)")
	return r
}

func (c *Checker) checkTavily(ctx context.Context) Result {
	r := Result{Name: "Tavily"}
	key := c.Keys.TavilyAPIKey
	if c.Keys.SearchProvider != search.ProviderTavily {
		r.Usable = true
		r.note(LevelInfo, "Search provider is set to '%s', not 'tavily'", c.Keys.SearchProvider)
		if unset(key) {
			r.note(LevelInfo, "Tavily API key not configured (not needed with current search provider)")
		}
		return r
	}
	if unset(key) {
		r.note(LevelFailed, "Tavily API key not configured but SEARCH_PROVIDER is set to 'tavily'")
		return r
	}
	c.formatNote(&r, "Tavily", key)

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	probe := search.NewTavily(key, c.Keys.TavilyBaseURL, c.HTTPClient)
	probe.Depth = "basic"
	if _, err := probe.Search(ctx, "test"); err != nil {
		r.note(LevelFailed, "Tavily API key error: %v", err)
		return r
	}
	r.Usable = true
	r.note(LevelOK, "Tavily API key is valid")
	return r
}

// Summary reduces the results to the configuration verdict: a Google key is
// always required, a Tavily key only when Tavily is the search provider.
func Summary(results []Result) (ok bool, problems []string) {
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	if !byName["Google"].Usable {
		problems = append(problems, "Configure your Google API key - required for basic functionality")
	}
	if !byName["Tavily"].Usable {
		problems = append(problems, "Configure your Tavily API key or change SEARCH_PROVIDER to 'searxng'")
	}
	return len(problems) == 0, problems
}

// GenAIModelGetter probes Gemini with the genai SDK.
type GenAIModelGetter struct{}

func (GenAIModelGetter) GetModel(ctx context.Context, apiKey, baseURL, model string) error {
	client, err := genai.NewClient(ctx, clients.GenAIConfig(apiKey, baseURL, nil))
	if err != nil {
		return fmt.Errorf("failed to create Gemini API client: %w", err)
	}
	if _, err := client.Models.Get(ctx, model, nil); err != nil {
		return err
	}
	return nil
}
