package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// DefaultSearXNGURL is the primary instance used when none is configured.
const DefaultSearXNGURL = "https://searx.be/search"

// FallbackSearXNGInstances are tried, in order, after the primary instance.
var FallbackSearXNGInstances = []string{
	"https://searx.tiekoetter.com/search",
	"https://search.mdosch.de/search",
	"https://search.privacyguides.net/search",
}

// Public instances block obvious bot user agents.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// SearXNG queries a list of SearXNG instances and returns the results of the
// first one that yields anything usable.
type SearXNG struct {
	Instances []string
	// PlaceholderOnOutage makes Search return two placeholder items instead
	// of an empty list when every instance fails.
	PlaceholderOnOutage bool
	// Timeout bounds the request to each instance. A stalled instance costs
	// at most this long before the next one is tried.
	Timeout time.Duration
	// Logger is used when the query context carries none (see WithLogger).
	Logger *slog.Logger

	client *http.Client
}

// NewSearXNG returns a provider trying primary first, then the fixed fallbacks.
func NewSearXNG(primary string, client *http.Client) *SearXNG {
	if primary == "" {
		primary = DefaultSearXNGURL
	}
	instances := []string{primary}
	for _, inst := range FallbackSearXNGInstances {
		if inst != primary {
			instances = append(instances, inst)
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SearXNG{
		Instances:           instances,
		PlaceholderOnOutage: true,
		Timeout:             DefaultTimeout,
		Logger:              slog.Default(),
		client:              client,
	}
}

func (s *SearXNG) Name() string { return ProviderSearXNG }

// Search never fails because of an unhealthy instance; it only returns an
// error when ctx is done.
func (s *SearXNG) Search(ctx context.Context, query string) ([]Result, error) {
	log := loggerFrom(ctx, s.Logger)
	for _, instance := range s.Instances {
		results, err := s.searchInstance(ctx, instance, query)
		if err != nil {
			if ctx.Err() != nil {
				metrics.SearchRequests.WithLabelValues(ProviderSearXNG, metrics.Failed).Inc()
				return nil, ctx.Err()
			}
			log.WarnContext(ctx, "SearXNG instance unusable", "instance", instance, "error", err)
			metrics.SearchInstanceFallbacks.Inc()
			continue
		}
		log.InfoContext(ctx, "SearXNG instance returned results", "instance", instance, "count", len(results))
		metrics.SearchRequests.WithLabelValues(ProviderSearXNG, metrics.OK).Inc()
		return results, nil
	}

	log.WarnContext(ctx, "All SearXNG instances failed", "instances", len(s.Instances), "placeholder", s.PlaceholderOnOutage)
	metrics.SearchRequests.WithLabelValues(ProviderSearXNG, metrics.Degraded).Inc()
	if !s.PlaceholderOnOutage {
		return []Result{}, nil
	}
	return outagePlaceholder(query), nil
}

func (s *SearXNG) searchInstance(ctx context.Context, instance, query string) ([]Result, error) {
	u, err := url.Parse(instance)
	if err != nil {
		return nil, fmt.Errorf("invalid instance URL: %w", err)
	}
	params := u.Query()
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("engines", "google")
	u.RawQuery = params.Encode()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("403 Forbidden")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload struct {
		Results []struct {
			URL     *string `json:"url"`
			Content *string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(payload.Results) == 0 {
		return nil, fmt.Errorf("no results")
	}

	results := make([]Result, 0, MaxResults)
	for _, r := range payload.Results {
		if len(results) == MaxResults {
			break
		}
		if r.URL == nil || r.Content == nil {
			continue
		}
		results = append(results, Result{URL: *r.URL, Content: *r.Content})
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no valid results")
	}
	return results, nil
}

func outagePlaceholder(query string) []Result {
	return []Result{
		{
			URL:     "https://example.com/result1",
			Content: fmt.Sprintf("This is a mock search result for query: %s. The search providers are currently unavailable.", query),
		},
		{
			URL:     "https://example.com/result2",
			Content: "Please consider using Tavily search provider instead by setting SEARCH_PROVIDER=tavily in your .env file and adding a valid Tavily API key.",
		},
	}
}
