package predictor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/pkg/circuitbreaker"
	"github.com/agrobuddy/backend/pkg/logger"
)

// Fallback serves predictions from primary and substitutes fallback when the
// primary is unreachable or its circuit breaker is open. Explicit predictor
// errors are returned unchanged and do not count against the breaker.
type Fallback struct {
	primary  Predictor
	fallback Predictor
	breaker  *circuitbreaker.CircuitBreaker
}

func NewFallback(primary, fallback Predictor, breaker *circuitbreaker.CircuitBreaker) *Fallback {
	if breaker == nil {
		breaker = circuitbreaker.New("predictor", circuitbreaker.Config{Logger: logger.GetLogger()})
	}
	return &Fallback{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
	}
}

func (f *Fallback) Predict(ctx context.Context, img Image) (*Prediction, error) {
	var (
		pred     *Prediction
		explicit error
	)

	err := f.breaker.Execute(ctx, func() error {
		p, err := f.primary.Predict(ctx, img)
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		pred, explicit = p, err
		return nil
	})

	var reason string
	switch {
	case err == nil:
		return pred, explicit
	case errors.Is(err, ErrUnavailable):
		reason = "unavailable"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		reason = "circuit_open"
	default:
		return nil, err
	}

	logger.Warn("Predictor unavailable, using mock data as fallback",
		zap.String("reason", reason),
		zap.String("breaker", f.breaker.Name()),
		zap.String("breaker_state", f.breaker.State().String()),
		zap.Error(err),
	)
	metrics.PredictorFallbacks.WithLabelValues(reason).Inc()

	return f.fallback.Predict(ctx, img)
}
