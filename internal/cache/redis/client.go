package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/predictor"
	"github.com/agrobuddy/backend/pkg/logger"
	"github.com/agrobuddy/backend/pkg/retry"
)

const keyPrefix = "agrobuddy:prediction:"

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
	// Retry controls the startup ping; zero means retry.DefaultConfig.
	Retry retry.Config
}

// Client is a predictor.Cache backed by Redis. Predictions are stored as
// JSON under their image digest.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(ctx context.Context, opts Options) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	rc := opts.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.DefaultConfig("redis-ping")
		rc.Logger = logger.GetLogger()
	}

	err := retry.Do(ctx, rc, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr), zap.Duration("ttl", opts.TTL))

	return &Client{client: client, ttl: opts.TTL}, nil
}

func (c *Client) Name() string { return "redis" }

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Set(ctx context.Context, digest string, p *predictor.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	if err := c.client.Set(ctx, key(digest), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set prediction cache: %w", err)
	}

	logger.Debug("Prediction cached", zap.String("digest", digest), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) Get(ctx context.Context, digest string) (*predictor.Prediction, bool, error) {
	data, err := c.client.Get(ctx, key(digest)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get prediction cache: %w", err)
	}

	p, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Flush removes every cached prediction.
func (c *Client) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Prediction cache flushed")
	return nil
}

func key(digest string) string {
	return keyPrefix + digest
}

func decode(data []byte) (*predictor.Prediction, error) {
	var p predictor.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prediction: %w", err)
	}
	if len(p.All) == 0 {
		return nil, errors.New("cached prediction has no candidates")
	}
	return &p, nil
}
