// Package app builds the service graph from configuration. The predictor
// strategy is chosen here, once; nothing downstream branches on the mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agrobuddy/backend/internal/api"
	"github.com/agrobuddy/backend/internal/cache/local"
	rediscache "github.com/agrobuddy/backend/internal/cache/redis"
	"github.com/agrobuddy/backend/internal/diagnosis"
	"github.com/agrobuddy/backend/internal/history"
	"github.com/agrobuddy/backend/internal/knowledge"
	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/internal/middleware/ratelimit"
	"github.com/agrobuddy/backend/internal/predictor"
	"github.com/agrobuddy/backend/internal/storage"
	"github.com/agrobuddy/backend/internal/storage/memory"
	"github.com/agrobuddy/backend/internal/storage/sqlite"
	"github.com/agrobuddy/backend/internal/upload"
	"github.com/agrobuddy/backend/pkg/circuitbreaker"
	"github.com/agrobuddy/backend/pkg/config"
	"github.com/agrobuddy/backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config    *config.Config
	KB        *knowledge.Base
	Predictor predictor.Predictor
	// Source is the configured strategy: live, vision or mock.
	Source    string
	Diagnosis *diagnosis.Service
	History   *history.Service
	Uploads   *upload.Store
	Limiter   *ratelimit.RateLimiter

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.KB, err = knowledge.Load(cfg.Knowledge.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}
	logger.Info("Knowledge base loaded",
		zap.String("version", a.KB.Version()),
		zap.Int("diseases", a.KB.Len()),
	)

	a.Predictor, err = a.buildPredictor(ctx)
	if err != nil {
		return nil, err
	}
	a.Source = cfg.Predictor.Mode
	a.Diagnosis = diagnosis.NewService(a.Predictor, a.KB)

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.History = history.NewService(store)

	a.Uploads, err = upload.NewStore(cfg.Upload.Dir, cfg.Upload.MaxBytes)
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit.DetectPerMinute > 0 {
		a.Limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.DetectPerMinute,
			CleanupInterval:      5 * time.Minute,
			Logger:               logger.Named("ratelimit"),
		})
		a.onClose(func() error { a.Limiter.Stop(); return nil })
	}

	return a, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildPredictor(ctx context.Context) (predictor.Predictor, error) {
	cfg := a.Config

	mock, err := predictor.NewMock(a.KB.IDs(), nil)
	if err != nil {
		return nil, err
	}

	var primary predictor.Predictor
	switch cfg.Predictor.Mode {
	case config.PredictorModeMock:
		logger.Info("Predictor strategy selected", zap.String("mode", cfg.Predictor.Mode))
		return mock, nil

	case config.PredictorModeLive:
		primary, err = predictor.NewLive(predictor.LiveConfig{
			URL:     cfg.Predictor.URL,
			Timeout: time.Duration(cfg.Predictor.TimeoutSec) * time.Second,
		})

	case config.PredictorModeVision:
		timeout := cfg.Vision.TimeoutSec
		if timeout <= 0 {
			timeout = cfg.Predictor.TimeoutSec
		}
		primary, err = predictor.NewVision(predictor.VisionConfig{
			APIKey:    cfg.Vision.APIKey,
			BaseURL:   cfg.Vision.BaseURL,
			Model:     cfg.Vision.Model,
			Detail:    cfg.Vision.Detail,
			MaxTokens: cfg.Vision.MaxTokens,
			Timeout:   time.Duration(timeout) * time.Second,
			Labels:    a.KB.IDs(),
		})

	default:
		return nil, fmt.Errorf("unknown predictor mode %q", cfg.Predictor.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s predictor: %w", cfg.Predictor.Mode, err)
	}

	if cfg.Cache.Enabled {
		cache, err := a.buildCache(ctx)
		if err != nil {
			return nil, err
		}
		primary = predictor.NewCached(primary, cache)
	}

	breaker := circuitbreaker.New("predictor-"+cfg.Predictor.Mode, circuitbreaker.Config{
		FailureThreshold: cfg.Predictor.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Predictor.Breaker.SuccessThreshold,
		Timeout:          time.Duration(cfg.Predictor.Breaker.OpenTimeoutSec) * time.Second,
		Logger:           logger.Named("breaker"),
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("Predictor circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	metrics.BreakerState.WithLabelValues(breaker.Name()).Set(float64(circuitbreaker.StateClosed))

	logger.Info("Predictor strategy selected",
		zap.String("mode", cfg.Predictor.Mode),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.String("fallback", predictor.SourceMock),
	)

	return predictor.NewFallback(primary, mock, breaker), nil
}

func (a *App) buildCache(ctx context.Context) (predictor.Cache, error) {
	cfg := a.Config
	ttl := time.Duration(cfg.Cache.TTLSec) * time.Second

	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		client, err := rediscache.NewClient(ctx, rediscache.Options{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      ttl,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		return client, nil

	case config.CacheBackendMemory:
		return local.New(ttl, 10*time.Minute), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
}

func (a *App) buildStore(ctx context.Context) (storage.Store, error) {
	switch a.Config.History.Backend {
	case config.HistoryBackendSQLite:
		client, err := sqlite.NewClient(ctx, a.Config.SQLite.Path)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		return client, nil

	case config.HistoryBackendMemory:
		logger.Warn("Using in-memory history store; saved diagnoses are lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown history backend %q", a.Config.History.Backend)
}

// Handler builds the fiber app with every route mounted.
func (a *App) Handler() *fiber.App {
	app := api.NewApp(a.Config)
	api.SetupRoutes(app, api.Deps{
		Config:    a.Config,
		Diagnosis: a.Diagnosis,
		History:   a.History,
		Uploads:   a.Uploads,
		Limiter:   a.Limiter,
		Source:    a.Source,
	})
	return app
}

// Serve listens until ctx is done, then shuts the server down gracefully.
func (a *App) Serve(ctx context.Context) error {
	metrics.Init()
	server := a.Handler()
	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server starting",
			zap.String("address", addr),
			zap.String("predictor", a.Source),
			zap.String("environment", a.Config.Server.Environment),
		)
		if err := server.Listen(addr); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down gracefully...")
		if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		logger.Info("Server stopped")
		return nil
	})

	return g.Wait()
}
