package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DetectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrobuddy_detection_duration_seconds",
			Help:    "End-to-end disease detection duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrobuddy_detections_total",
			Help: "Total disease detections by outcome",
		},
		[]string{"status"},
	)

	DiagnosisConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agrobuddy_diagnosis_confidence_percent",
			Help:    "Confidence of the top prediction of assembled diagnoses",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100},
		},
	)

	DiagnosesBySeverity = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrobuddy_diagnoses_by_severity_total",
			Help: "Assembled diagnoses by disease severity",
		},
		[]string{"severity"},
	)

	UnknownDiseases = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agrobuddy_unknown_disease_total",
			Help: "Top predictions whose normalized id is missing from the knowledge base",
		},
	)

	DroppedAlternatives = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agrobuddy_dropped_alternatives_total",
			Help: "Alternative predictions dropped because their id is missing from the knowledge base",
		},
	)

	PredictorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrobuddy_predictor_requests_total",
			Help: "Predictor calls by predictor and outcome",
		},
		[]string{"predictor", "outcome"},
	)

	PredictorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agrobuddy_predictor_duration_seconds",
			Help:    "Predictor call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"predictor"},
	)

	PredictorFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrobuddy_predictor_fallbacks_total",
			Help: "Predictions served by the mock predictor because the primary was unavailable",
		},
		[]string{"reason"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agrobuddy_predictor_breaker_state",
			Help: "Predictor circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrobuddy_cache_hits_total",
			Help: "Prediction cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrobuddy_cache_misses_total",
			Help: "Prediction cache misses",
		},
		[]string{"cache_type"},
	)

	UploadsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrobuddy_uploads_rejected_total",
			Help: "Uploads rejected before detection",
		},
		[]string{"reason"},
	)

	UploadCleanupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agrobuddy_upload_cleanup_failures_total",
			Help: "Temporary upload files that could not be removed",
		},
	)

	HistoryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agrobuddy_history_operations_total",
			Help: "Diagnosis history operations by type and outcome",
		},
		[]string{"operation", "status"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DetectionDuration,
			DetectionsTotal,
			DiagnosisConfidence,
			DiagnosesBySeverity,
			UnknownDiseases,
			DroppedAlternatives,
			PredictorRequests,
			PredictorDuration,
			PredictorFallbacks,
			BreakerState,
			CacheHits,
			CacheMisses,
			UploadsRejected,
			UploadCleanupFailures,
			HistoryOperations,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
