package predictor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/pkg/logger"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type VisionConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Detail    string
	MaxTokens int
	Timeout   time.Duration
	// Labels are the only class labels the model may answer with.
	Labels []string
}

// Vision classifies leaf photos with an OpenAI vision model restricted to a
// closed label set.
type Vision struct {
	client    chatCompleter
	model     string
	detail    openai.ImageURLDetail
	maxTokens int
	timeout   time.Duration
	prompt    string
}

type visionAnswer struct {
	Predictions []struct {
		Label      string   `json:"label"`
		Confidence *float64 `json:"confidence"`
	} `json:"predictions"`
}

func NewVision(cfg VisionConfig) (*Vision, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("vision predictor needs an API key")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return newVision(openai.NewClientWithConfig(oc), cfg)
}

func newVision(client chatCompleter, cfg VisionConfig) (*Vision, error) {
	if len(cfg.Labels) == 0 {
		return nil, errors.New("vision predictor needs at least one label")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLiveTimeout
	}

	detail := openai.ImageURLDetail(strings.ToLower(cfg.Detail))
	switch detail {
	case openai.ImageURLDetailLow, openai.ImageURLDetailHigh, openai.ImageURLDetailAuto:
	default:
		detail = openai.ImageURLDetailLow
	}

	logger.Info("Vision predictor initialized", zap.String("model", cfg.Model), zap.Int("labels", len(cfg.Labels)))

	return &Vision{
		client:    client,
		model:     cfg.Model,
		detail:    detail,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		prompt:    visionPrompt(cfg.Labels),
	}, nil
}

func visionPrompt(labels []string) string {
	var b strings.Builder
	b.WriteString("You are a plant pathologist classifying a single leaf photo.\n")
	b.WriteString("Answer with a JSON object of the form ")
	b.WriteString(`{"predictions":[{"label":"<label>","confidence":<0..1>}]}`)
	b.WriteString(" listing up to three labels ordered by confidence.\n")
	b.WriteString("Use only these labels:\n")
	for _, l := range labels {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func (v *Vision) Predict(ctx context.Context, img Image) (*Prediction, error) {
	start := time.Now()
	pred, err := v.predict(ctx, img)
	metrics.PredictorDuration.WithLabelValues(SourceVision).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.PredictorRequests.WithLabelValues(SourceVision, "success").Inc()
	case errors.Is(err, ErrUnavailable):
		metrics.PredictorRequests.WithLabelValues(SourceVision, "unavailable").Inc()
	default:
		metrics.PredictorRequests.WithLabelValues(SourceVision, "error").Inc()
	}

	return pred, err
}

func (v *Vision) predict(ctx context.Context, img Image) (*Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       v.model,
		MaxTokens:   v.maxTokens,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: v.prompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Classify this leaf."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: v.detail}},
				},
			},
		},
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &Error{Predictor: SourceVision, Message: "completion has no choices"}
	}

	var answer visionAnswer
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &answer); err != nil {
		return nil, &Error{Predictor: SourceVision, Message: "malformed model answer", Err: err}
	}

	candidates := make([]Candidate, 0, len(answer.Predictions))
	for i, p := range answer.Predictions {
		if p.Confidence == nil {
			return nil, &Error{Predictor: SourceVision, Message: fmt.Sprintf("prediction %d has no confidence", i)}
		}
		candidates = append(candidates, Candidate{Label: p.Label, Confidence: *p.Confidence})
	}

	pred, err := NewPrediction(SourceVision, candidates)
	if err != nil {
		return nil, &Error{Predictor: SourceVision, Message: "invalid prediction", Err: err}
	}

	logger.Debug("Vision prediction received",
		zap.String("label", pred.Top.Label),
		zap.Float64("confidence", pred.Top.Confidence),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return pred, nil
}

// classifyOpenAIError treats rate limiting and server-side failures as
// unavailability and every other API error as an explicit failure.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return &Error{Predictor: SourceVision, Message: "completion rejected", Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return &Error{Predictor: SourceVision, Message: "completion request failed", Err: err}
	}

	if wrapped := unavailable(err); errors.Is(wrapped, ErrUnavailable) {
		return wrapped
	}
	return &Error{Predictor: SourceVision, Message: "completion failed", Err: err}
}
