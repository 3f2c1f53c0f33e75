package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey  string
	BaseURL string
	// Depth is Tavily's search_depth parameter (basic or advanced).
	Depth string

	client *http.Client
}

// NewTavily constructs a Tavily provider.
func NewTavily(apiKey, baseURL string, client *http.Client) *Tavily {
	if baseURL == "" {
		baseURL = DefaultTavilyURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Tavily{APIKey: apiKey, BaseURL: baseURL, Depth: "advanced", client: client}
}

func (t *Tavily) Name() string { return ProviderTavily }

// Search posts the query in a single attempt.
func (t *Tavily) Search(ctx context.Context, query string) ([]Result, error) {
	results, err := t.search(ctx, query)
	outcome := metrics.OK
	if err != nil {
		outcome = metrics.Failed
	}
	metrics.SearchRequests.WithLabelValues(ProviderTavily, outcome).Inc()
	return results, err
}

func (t *Tavily) search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, fmt.Errorf("tavily: %w", ErrMissingCredential)
	}

	payload, err := json.Marshal(map[string]any{
		"query":           query,
		"api_key":         t.APIKey,
		"search_depth":    t.Depth,
		"include_answer":  false,
		"include_domains": []string{},
		"exclude_domains": []string{},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tavily: failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Tavily API error (%d): %s", resp.StatusCode, truncate(string(body), 500))
	}

	var response struct {
		Results []struct {
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("tavily: invalid JSON response: %w", err)
	}

	results := make([]Result, 0, MaxResults)
	for _, r := range response.Results {
		if r.URL == "" || r.Content == "" {
			continue
		}
		results = append(results, Result{URL: r.URL, Content: r.Content})
		if len(results) == MaxResults {
			break
		}
	}
	return results, nil
}
