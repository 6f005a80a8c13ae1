package predictor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/agrobuddy/backend/internal/metrics"
)

// Mock synthesizes predictions from a fixed label set, normally the
// knowledge base ids. It never fails.
type Mock struct {
	labels []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock returns a mock over labels. A nil rng is seeded from the clock.
func NewMock(labels []string, rng *rand.Rand) (*Mock, error) {
	if len(labels) == 0 {
		return nil, errors.New("mock predictor needs at least one label")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	l := make([]string, len(labels))
	copy(l, labels)

	return &Mock{labels: l, rng: rng}, nil
}

// Labels returns every label the mock can emit.
func (m *Mock) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// Predict picks a random top label with confidence in [0.85, 0.99) and adds
// the next two labels, cyclically, at [0.05, 0.15) and [0.01, 0.05).
func (m *Mock) Predict(_ context.Context, _ Image) (*Prediction, error) {
	m.mu.Lock()
	n := len(m.labels)
	idx := m.rng.Intn(n)
	candidates := []Candidate{{
		Label:      m.labels[idx],
		Confidence: 0.85 + m.rng.Float64()*0.14,
	}}
	if n > 1 {
		candidates = append(candidates, Candidate{
			Label:      m.labels[(idx+1)%n],
			Confidence: 0.05 + m.rng.Float64()*0.10,
		})
	}
	if n > 2 {
		candidates = append(candidates, Candidate{
			Label:      m.labels[(idx+2)%n],
			Confidence: 0.01 + m.rng.Float64()*0.04,
		})
	}
	m.mu.Unlock()

	metrics.PredictorRequests.WithLabelValues(SourceMock, "success").Inc()

	return &Prediction{
		Top:    candidates[0],
		All:    candidates,
		Source: SourceMock,
	}, nil
}
