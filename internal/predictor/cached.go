package predictor

import (
	"context"

	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/pkg/logger"
	"github.com/agrobuddy/backend/pkg/utils"
)

// Cache stores predictions by image digest. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Prediction, bool, error)
	Set(ctx context.Context, key string, p *Prediction) error
	Name() string
}

// Cached memoizes a predictor by the SHA-256 of the image bytes. Cache
// failures are logged and never fail the prediction.
type Cached struct {
	next  Predictor
	cache Cache
}

func NewCached(next Predictor, cache Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

func (c *Cached) Predict(ctx context.Context, img Image) (*Prediction, error) {
	key := utils.ImageDigest(img.Data)

	cached, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("Prediction cache read failed", zap.String("cache", c.cache.Name()), zap.Error(err))
	}
	if ok && err == nil {
		metrics.CacheHits.WithLabelValues(c.cache.Name()).Inc()
		logger.Debug("Prediction cache hit", zap.String("image", key[:12]))

		hit := cached.clone()
		hit.Cached = true
		return hit, nil
	}
	metrics.CacheMisses.WithLabelValues(c.cache.Name()).Inc()

	pred, err := c.next.Predict(ctx, img)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, pred.clone()); err != nil {
		logger.Warn("Prediction cache write failed", zap.String("cache", c.cache.Name()), zap.Error(err))
	}

	return pred, nil
}
