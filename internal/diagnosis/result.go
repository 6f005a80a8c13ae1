package diagnosis

import (
	"math"
	"time"

	"github.com/agrobuddy/backend/internal/knowledge"
)

type Prediction struct {
	Disease        string             `json:"disease"`
	Plant          string             `json:"plant"`
	DiseaseID      string             `json:"diseaseId"`
	Confidence     int                `json:"confidence"`
	Severity       knowledge.Severity `json:"severity"`
	ScientificName *string            `json:"scientificName"`
}

type Details struct {
	Description string   `json:"description"`
	Symptoms    []string `json:"symptoms"`
	Causes      []string `json:"causes"`
}

type Alternative struct {
	Disease    string `json:"disease"`
	Confidence int    `json:"confidence"`
}

// Result is an assembled diagnosis. Prediction.DiseaseID is always a key of
// the knowledge base it was assembled against.
type Result struct {
	Prediction             Prediction    `json:"prediction"`
	Details                Details       `json:"details"`
	Solutions              []string      `json:"solutions"`
	Prevention             []string      `json:"prevention"`
	TreatmentProducts      []string      `json:"treatmentProducts"`
	AlternativePredictions []Alternative `json:"alternativePredictions"`
	Source                 string        `json:"source"`
	Cached                 bool          `json:"cached"`
	Timestamp              time.Time     `json:"timestamp"`
}

// ConfidencePercent converts a [0,1] confidence to an integer percentage,
// rounding half up. The value is first rounded to six decimals so products
// like 0.925*100 = 92.49999999999999 still round to 93.
func ConfidencePercent(confidence float64) int {
	if math.IsNaN(confidence) {
		return 0
	}
	v := confidence * 100
	v = math.Round(v*1e6) / 1e6
	pct := int(math.Floor(v + 0.5))
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

func newResult(rec *knowledge.Record, confidence float64, source string, cached bool, now time.Time) *Result {
	return &Result{
		Prediction: Prediction{
			Disease:        rec.Disease,
			Plant:          rec.Plant,
			DiseaseID:      rec.ID,
			Confidence:     ConfidencePercent(confidence),
			Severity:       rec.Severity,
			ScientificName: rec.ScientificName,
		},
		Details: Details{
			Description: rec.Description,
			Symptoms:    rec.Symptoms,
			Causes:      rec.Causes,
		},
		Solutions:              rec.Solutions,
		Prevention:             rec.Prevention,
		TreatmentProducts:      rec.TreatmentProducts,
		AlternativePredictions: []Alternative{},
		Source:                 source,
		Cached:                 cached,
		Timestamp:              now.UTC(),
	}
}
