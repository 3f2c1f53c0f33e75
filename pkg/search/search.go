// Package search implements the web-search backends used by the research
// pipeline. Every backend returns at most MaxResults items.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// MaxResults caps the number of items a backend returns per query.
const MaxResults = 5

// DefaultTimeout bounds each network call a backend makes.
const DefaultTimeout = 30 * time.Second

// ErrMissingCredential is returned when a backend that needs an API key has none.
var ErrMissingCredential = errors.New("missing search API key")

// Result is one search hit handed to the distillation prompt.
type Result struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Provider executes a query against one search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]Result, error)
}

// Provider identifiers, as accepted by SEARCH_PROVIDER.
const (
	ProviderSearXNG = "searxng"
	ProviderTavily  = "tavily"
	ProviderArxiv   = "arxiv"
)

// Config selects and configures a backend.
type Config struct {
	Provider string

	SearXNGBaseURL      string
	PlaceholderOnOutage bool
	TavilyAPIKey        string
	TavilyBaseURL       string
	ArxivBaseURL        string
	Timeout             time.Duration
	ContentMaxChars     int
	HTTPClient          *http.Client
}

// New builds the configured provider, wrapped so that oversized content is
// clipped when ContentMaxChars is set.
func New(cfg Config) (Provider, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout()}
	}

	var p Provider
	switch cfg.Provider {
	case "", ProviderSearXNG:
		s := NewSearXNG(cfg.SearXNGBaseURL, client)
		s.PlaceholderOnOutage = cfg.PlaceholderOnOutage
		s.Timeout = cfg.timeout()
		p = s
	case ProviderTavily:
		p = NewTavily(cfg.TavilyAPIKey, cfg.TavilyBaseURL, client)
	case ProviderArxiv:
		p = NewArxiv(cfg.ArxivBaseURL, client)
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Provider)
	}

	if cfg.ContentMaxChars > 0 {
		p = Clipped(p, cfg.ContentMaxChars)
	}
	return p, nil
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

type loggerKey struct{}

// WithLogger attaches the logger backends report degraded searches to,
// typically the logger of the job issuing the query.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
