package search

import (
	"context"

	"github.com/mikeboe/deep-research/pkg/splitter"
)

type clipped struct {
	Provider
	clipper *splitter.Clipper
}

// Clipped limits each result's content to maxChars, cutting at the first
// paragraph, line or word boundary the recursive splitter finds.
func Clipped(p Provider, maxChars int) Provider {
	return &clipped{
		Provider: p,
		clipper:  splitter.NewClipper(maxChars),
	}
}

func (c *clipped) Search(ctx context.Context, query string) ([]Result, error) {
	results, err := c.Provider.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Content = c.clipper.Head(results[i].Content)
	}
	return results, nil
}
