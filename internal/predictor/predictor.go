// Package predictor obtains ranked disease candidates for an image from an
// external ML service, an OpenAI vision model or a local mock. Strategies
// share the Predictor interface and are composed with the Fallback and
// Cached decorators once at start.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"strings"
	"syscall"
)

const (
	SourceLive   = "live"
	SourceVision = "vision"
	SourceMock   = "mock"
)

// ErrUnavailable marks a predictor that could not be reached: connection
// refused, dial or DNS failure, or timeout. The Fallback decorator absorbs it.
var ErrUnavailable = errors.New("predictor unavailable")

// Error is an explicit failure reported by a reachable predictor, or a
// response that does not match the expected schema.
type Error struct {
	Predictor string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s predictor: %s: %v", e.Predictor, e.Message, e.Err)
	}
	return fmt.Sprintf("%s predictor: %s", e.Predictor, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Image struct {
	Data        []byte
	Filename    string
	ContentType string
}

type Candidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Prediction holds the candidates for one image sorted by descending
// confidence. All is never empty and All[0] equals Top.
type Prediction struct {
	Top    Candidate   `json:"top"`
	All    []Candidate `json:"all"`
	Source string      `json:"source"`
	Cached bool        `json:"-"`
}

type Predictor interface {
	Predict(ctx context.Context, img Image) (*Prediction, error)
}

// NewPrediction validates candidates and ranks them. The sort is stable, so
// a primary candidate placed first keeps its position on confidence ties.
func NewPrediction(source string, candidates []Candidate) (*Prediction, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidates")
	}

	all := make([]Candidate, len(candidates))
	for i, c := range candidates {
		if strings.TrimSpace(c.Label) == "" {
			return nil, fmt.Errorf("candidate %d has an empty label", i)
		}
		if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
			return nil, fmt.Errorf("candidate %q has confidence %v outside [0,1]", c.Label, c.Confidence)
		}
		all[i] = c
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Confidence > all[j].Confidence
	})

	return &Prediction{
		Top:    all[0],
		All:    all,
		Source: source,
	}, nil
}

// Alternatives returns every candidate except the top one.
func (p *Prediction) Alternatives() []Candidate {
	return p.All[1:]
}

func (p *Prediction) clone() *Prediction {
	all := make([]Candidate, len(p.All))
	copy(all, p.All)
	return &Prediction{Top: p.Top, All: all, Source: p.Source, Cached: p.Cached}
}

// unavailable wraps transport failures that mean the predictor cannot be
// reached so callers can match them with errors.Is(err, ErrUnavailable).
// Any other error is returned unchanged.
func unavailable(err error) error {
	if err == nil || !isUnreachable(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func isUnreachable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
