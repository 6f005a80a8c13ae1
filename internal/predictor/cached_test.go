package predictor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrobuddy/backend/pkg/utils"
)

type mapCache struct {
	mu      sync.Mutex
	items   map[string]*Prediction
	readErr error
}

func newMapCache() *mapCache { return &mapCache{items: map[string]*Prediction{}} }

func (c *mapCache) Name() string { return "map" }

func (c *mapCache) Get(_ context.Context, key string) (*Prediction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, false, c.readErr
	}
	p, ok := c.items[key]
	return p, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, p *Prediction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = p
	return nil
}

func TestCached_HitAfterMiss(t *testing.T) {
	next := &stubPredictor{pred: mustPrediction(t, SourceLive, "tomato_late_blight")}
	cache := newMapCache()
	c := NewCached(next, cache)
	img := testImage()

	first, err := c.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := c.Predict(context.Background(), img)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Top, second.Top)
	assert.Equal(t, SourceLive, second.Source)

	assert.Equal(t, 1, next.calls)
	assert.Contains(t, cache.items, utils.ImageDigest(img.Data))
}

func TestCached_DifferentImagesMiss(t *testing.T) {
	next := &stubPredictor{pred: mustPrediction(t, SourceLive, "tomato_late_blight")}
	c := NewCached(next, newMapCache())

	_, _ = c.Predict(context.Background(), Image{Data: []byte("one")})
	_, _ = c.Predict(context.Background(), Image{Data: []byte("two")})
	assert.Equal(t, 2, next.calls)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	next := &stubPredictor{err: &Error{Predictor: SourceLive, Message: "boom"}}
	cache := newMapCache()

	_, err := NewCached(next, cache).Predict(context.Background(), testImage())
	require.Error(t, err)
	assert.Empty(t, cache.items)
}

func TestCached_ReadErrorFallsThrough(t *testing.T) {
	next := &stubPredictor{pred: mustPrediction(t, SourceLive, "tomato_late_blight")}
	cache := newMapCache()
	cache.readErr = errors.New("redis down")

	p, err := NewCached(next, cache).Predict(context.Background(), testImage())
	require.NoError(t, err)
	assert.False(t, p.Cached)
	assert.Equal(t, 1, next.calls)
}
