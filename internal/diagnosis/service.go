// Package diagnosis turns raw predictor output into a diagnosis joined
// against the disease knowledge base.
package diagnosis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/knowledge"
	"github.com/agrobuddy/backend/internal/label"
	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/internal/predictor"
	"github.com/agrobuddy/backend/pkg/logger"
)

type Service struct {
	predictor predictor.Predictor
	kb        *knowledge.Base
	now       func() time.Time
}

func NewService(p predictor.Predictor, kb *knowledge.Base) *Service {
	return &Service{
		predictor: p,
		kb:        kb,
		now:       time.Now,
	}
}

func (s *Service) KnowledgeBase() *knowledge.Base {
	return s.kb
}

// Assemble predicts img and joins the top candidate with its knowledge base
// record. Alternatives whose id is unknown are dropped. An unknown top
// candidate yields *UnknownDiseaseError; predictor failures are returned
// wrapped.
func (s *Service) Assemble(ctx context.Context, img predictor.Image) (*Result, error) {
	start := time.Now()

	pred, err := s.predictor.Predict(ctx, img)
	if err != nil {
		metrics.DetectionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to predict disease: %w", err)
	}

	id := label.Normalize(pred.Top.Label)
	rec, ok := s.kb.Get(id)
	if !ok {
		metrics.UnknownDiseases.Inc()
		metrics.DetectionsTotal.WithLabelValues("unknown_disease").Inc()
		logger.Warn("Predicted disease missing from knowledge base",
			zap.String("disease_id", id),
			zap.String("raw_label", pred.Top.Label),
			zap.String("source", pred.Source),
		)
		return nil, &UnknownDiseaseError{DiseaseID: id, RawLabel: pred.Top.Label}
	}

	result := newResult(rec, pred.Top.Confidence, pred.Source, pred.Cached, s.now())

	for _, alt := range pred.Alternatives() {
		altID := label.Normalize(alt.Label)
		altRec, ok := s.kb.Get(altID)
		if !ok {
			metrics.DroppedAlternatives.Inc()
			logger.Debug("Dropping unknown alternative prediction",
				zap.String("disease_id", altID),
				zap.String("raw_label", alt.Label),
			)
			continue
		}
		result.AlternativePredictions = append(result.AlternativePredictions, Alternative{
			Disease:    altRec.Disease,
			Confidence: ConfidencePercent(alt.Confidence),
		})
	}

	metrics.DetectionDuration.WithLabelValues(pred.Source).Observe(time.Since(start).Seconds())
	metrics.DetectionsTotal.WithLabelValues("success").Inc()
	metrics.DiagnosisConfidence.Observe(float64(result.Prediction.Confidence))
	metrics.DiagnosesBySeverity.WithLabelValues(string(rec.Severity)).Inc()

	logger.Info("Disease detected",
		zap.String("disease_id", rec.ID),
		zap.Int("confidence", result.Prediction.Confidence),
		zap.String("source", pred.Source),
		zap.Bool("cached", pred.Cached),
		zap.Int("alternatives", len(result.AlternativePredictions)),
	)

	return result, nil
}
