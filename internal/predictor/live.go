package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/pkg/logger"
	"github.com/agrobuddy/backend/pkg/utils"
)

const (
	DefaultLiveTimeout = 30 * time.Second

	maxLiveResponseBytes = 1 << 20
)

type LiveConfig struct {
	URL     string
	Timeout time.Duration
	// HTTPClient overrides the default client; its Timeout is replaced by
	// the configured one.
	HTTPClient *http.Client
}

// Live posts images to the external ML inference service.
type Live struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

type liveCandidate struct {
	DiseaseID  string   `json:"diseaseId"`
	ClassName  string   `json:"class_name"`
	Confidence *float64 `json:"confidence"`
}

type liveResponse struct {
	Success      *bool           `json:"success"`
	Error        string          `json:"error"`
	Message      string          `json:"message"`
	DiseaseID    string          `json:"diseaseId"`
	ClassName    string          `json:"class_name"`
	Confidence   *float64        `json:"confidence"`
	Predictions  []liveCandidate `json:"predictions"`
	ModelVersion string          `json:"model_version"`
}

func NewLive(cfg LiveConfig) (*Live, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid predictor url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid predictor url %q: want http(s)://host/path", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultLiveTimeout
	}

	// Copy so an injected or shared client keeps its own timeout.
	client := &http.Client{}
	if cfg.HTTPClient != nil {
		c := *cfg.HTTPClient
		client = &c
	}
	client.Timeout = timeout

	return &Live{
		url:        cfg.URL,
		timeout:    timeout,
		httpClient: client,
	}, nil
}

func (l *Live) Predict(ctx context.Context, img Image) (*Prediction, error) {
	start := time.Now()
	pred, err := l.predict(ctx, img)
	metrics.PredictorDuration.WithLabelValues(SourceLive).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.PredictorRequests.WithLabelValues(SourceLive, "success").Inc()
	case errors.Is(err, ErrUnavailable):
		metrics.PredictorRequests.WithLabelValues(SourceLive, "unavailable").Inc()
	default:
		metrics.PredictorRequests.WithLabelValues(SourceLive, "error").Inc()
	}

	return pred, err
}

func (l *Live) predict(ctx context.Context, img Image) (*Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	body, contentType, err := encodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	logger.Debug("Sending image to ML service",
		zap.String("url", l.url),
		zap.String("image", utils.ShortDigest(img.Data)),
		zap.Int("bytes", len(img.Data)),
	)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to call ML service: %w", err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxLiveResponseBytes))
		resp.Body.Close()
	}()

	var payload liveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLiveResponseBytes)).Decode(&payload); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, unavailable(fmt.Errorf("failed to read ML service response: %w", ctxErr))
		}
		return nil, &Error{
			Predictor: SourceLive,
			Message:   fmt.Sprintf("malformed response (status %d)", resp.StatusCode),
			Err:       err,
		}
	}

	pred, err := payload.toPrediction()
	if err != nil {
		return nil, err
	}

	logger.Debug("ML service prediction received",
		zap.String("label", pred.Top.Label),
		zap.Float64("confidence", pred.Top.Confidence),
		zap.Int("candidates", len(pred.All)),
		zap.String("model_version", payload.ModelVersion),
	)

	return pred, nil
}

func (r *liveResponse) toPrediction() (*Prediction, error) {
	if r.Success == nil {
		return nil, &Error{Predictor: SourceLive, Message: "response has no success flag"}
	}
	if !*r.Success {
		msg := r.Error
		if msg == "" {
			msg = "ML service returned error"
		}
		if r.Message != "" {
			msg += ": " + r.Message
		}
		return nil, &Error{Predictor: SourceLive, Message: msg}
	}

	primary := firstNonEmpty(r.DiseaseID, r.ClassName)
	if primary == "" || r.Confidence == nil {
		return nil, &Error{Predictor: SourceLive, Message: "response has no primary prediction"}
	}
	if len(r.Predictions) == 0 {
		return nil, &Error{Predictor: SourceLive, Message: "response has no ranked predictions"}
	}

	candidates := []Candidate{{Label: primary, Confidence: *r.Confidence}}
	primarySeen := false
	for i, p := range r.Predictions {
		lbl := firstNonEmpty(p.DiseaseID, p.ClassName)
		if p.Confidence == nil {
			return nil, &Error{Predictor: SourceLive, Message: fmt.Sprintf("prediction %d has no confidence", i)}
		}
		if lbl == primary && !primarySeen {
			primarySeen = true
			continue
		}
		candidates = append(candidates, Candidate{Label: lbl, Confidence: *p.Confidence})
	}

	pred, err := NewPrediction(SourceLive, candidates)
	if err != nil {
		return nil, &Error{Predictor: SourceLive, Message: "invalid prediction", Err: err}
	}
	return pred, nil
}

func encodeImage(img Image) (io.Reader, string, error) {
	filename := img.Filename
	if filename == "" {
		filename = "image.jpg"
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
