package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// DefaultArxivURL is the arXiv export API endpoint.
const DefaultArxivURL = "https://export.arxiv.org/api/query"

type arxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

// Arxiv searches arXiv paper abstracts. It needs no API key.
type Arxiv struct {
	BaseURL string

	client *http.Client
}

// NewArxiv constructs an arXiv provider.
func NewArxiv(baseURL string, client *http.Client) *Arxiv {
	if baseURL == "" {
		baseURL = DefaultArxivURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Arxiv{BaseURL: baseURL, client: client}
}

func (a *Arxiv) Name() string { return ProviderArxiv }

// Search returns up to MaxResults papers, one Result per abstract.
func (a *Arxiv) Search(ctx context.Context, query string) ([]Result, error) {
	results, err := a.search(ctx, query)
	outcome := metrics.OK
	if err != nil {
		outcome = metrics.Failed
	}
	metrics.SearchRequests.WithLabelValues(ProviderArxiv, outcome).Inc()
	return results, err
}

func (a *Arxiv) search(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(MaxResults))
	params.Add("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arXiv request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("arXiv: failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API error (%d): %s", resp.StatusCode, truncate(string(body), 500))
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arXiv: failed to unmarshal XML: %w", err)
	}

	results := make([]Result, 0, MaxResults)
	for _, entry := range feed.Entry {
		link := entry.ID
		for _, l := range entry.Link {
			if l.Type == "application/pdf" {
				link = l.Href
				break
			}
		}
		if link == "" {
			continue
		}
		content := fmt.Sprintf("%s (published %s)\n%s",
			collapseSpace(entry.Title), entry.Published, collapseSpace(entry.Summary))
		results = append(results, Result{URL: link, Content: content})
		if len(results) == MaxResults {
			break
		}
	}
	return results, nil
}

// arXiv wraps titles and abstracts at fixed column widths.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
