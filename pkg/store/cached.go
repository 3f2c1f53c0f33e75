package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
)

// DefaultCacheTTL applies when NewCached is given a zero ttl.
const DefaultCacheTTL = 10 * time.Minute

// Cached serves Get from an expirable LRU for records in a terminal status.
// Terminal records never change, so the cache needs no invalidation beyond
// what Update already does for live ones.
type Cached struct {
	Store
	cache *expirable.LRU[string, *research.Record]
}

func NewCached(s Store, size int, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		Store: s,
		cache: expirable.NewLRU[string, *research.Record](size, nil, ttl),
	}
}

func (c *Cached) Get(ctx context.Context, id string) (*research.Record, error) {
	if rec, ok := c.cache.Get(id); ok {
		metrics.CacheHits.Inc()
		return rec.Clone(), nil
	}
	metrics.CacheMisses.Inc()

	rec, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.remember(rec)
	return rec, nil
}

func (c *Cached) Update(ctx context.Context, id string, fn func(*research.Record) error) (*research.Record, error) {
	rec, err := c.Store.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	c.remember(rec)
	return rec, nil
}

func (c *Cached) remember(rec *research.Record) {
	if rec.Status.Terminal() {
		c.cache.Add(rec.ID, rec.Clone())
		return
	}
	c.cache.Remove(rec.ID)
}
