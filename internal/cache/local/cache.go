// Package local is an in-process predictor.Cache built on go-cache.
package local

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/agrobuddy/backend/internal/predictor"
)

type Cache struct {
	items *gocache.Cache
}

// New returns a cache whose entries expire after ttl. Expired entries are
// purged every cleanupInterval; zero disables the janitor.
func New(ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{items: gocache.New(ttl, cleanupInterval)}
}

func (c *Cache) Name() string { return "memory" }

func (c *Cache) Get(_ context.Context, digest string) (*predictor.Prediction, bool, error) {
	v, ok := c.items.Get(digest)
	if !ok {
		return nil, false, nil
	}
	p := v.(predictor.Prediction)
	p.All = append([]predictor.Candidate(nil), p.All...)
	return &p, true, nil
}

func (c *Cache) Set(_ context.Context, digest string, p *predictor.Prediction) error {
	stored := *p
	stored.All = append([]predictor.Candidate(nil), p.All...)
	stored.Cached = false
	c.items.SetDefault(digest, stored)
	return nil
}

func (c *Cache) Len() int {
	return c.items.ItemCount()
}

func (c *Cache) Flush() {
	c.items.Flush()
}
