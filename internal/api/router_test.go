package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrobuddy/backend/internal/api"
	"github.com/agrobuddy/backend/internal/diagnosis"
	"github.com/agrobuddy/backend/internal/history"
	"github.com/agrobuddy/backend/internal/knowledge"
	"github.com/agrobuddy/backend/internal/middleware/ratelimit"
	"github.com/agrobuddy/backend/internal/predictor"
	"github.com/agrobuddy/backend/internal/storage/memory"
	"github.com/agrobuddy/backend/internal/upload"
	"github.com/agrobuddy/backend/pkg/config"
)

var jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00fake-leaf")

type riggedPredictor struct {
	candidates []predictor.Candidate
	err        error
}

func (r *riggedPredictor) Predict(context.Context, predictor.Image) (*predictor.Prediction, error) {
	if r.err != nil {
		return nil, r.err
	}
	return predictor.NewPrediction(predictor.SourceLive, r.candidates)
}

var earlyBlight = &riggedPredictor{candidates: []predictor.Candidate{
	{Label: "tomato___early_blight", Confidence: 0.93},
	{Label: "Tomato_Late_Blight", Confidence: 0.05},
	{Label: "potato___healthy", Confidence: 0.02},
}}

type testServer struct {
	app     *fiber.App
	uploads *upload.Store
}

func newTestServer(t *testing.T, p predictor.Predictor, limiter *ratelimit.RateLimiter) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.Environment = "test"
	cfg.Server.BodyLimit = 4 << 20
	cfg.Predictor.TimeoutSec = 5

	uploads, err := upload.NewStore(filepath.Join(t.TempDir(), "uploads"), 1<<20)
	require.NoError(t, err)

	app := api.NewApp(cfg)
	api.SetupRoutes(app, api.Deps{
		Config:    cfg,
		Diagnosis: diagnosis.NewService(p, knowledge.MustDefault()),
		History:   history.NewService(memory.New()),
		Uploads:   uploads,
		Limiter:   limiter,
		Source:    predictor.SourceLive,
	})

	return &testServer{app: app, uploads: uploads}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var m map[string]any
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &m), string(body))
	}
	return resp.StatusCode, m
}

func (s *testServer) jsonRequest(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(t, req)
}

func detectRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/disease/detect", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (s *testServer) assertNoStagedFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(s.uploads.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHealthIndexAndNotFound(t *testing.T) {
	s := newTestServer(t, earlyBlight, nil)

	status, body := s.jsonRequest(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "live", body["predictor"])

	status, body = s.jsonRequest(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "endpoints")

	status, body = s.jsonRequest(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "/api/nope", body["path"])

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDetect_Success(t *testing.T) {
	s := newTestServer(t, earlyBlight, nil)

	status, body := s.do(t, detectRequest(t, "leaf.jpg", "image/jpeg", jpegBytes))
	require.Equal(t, http.StatusOK, status, body)

	assert.Equal(t, true, body["success"])
	pred := body["prediction"].(map[string]any)
	assert.Equal(t, "Early Blight", pred["disease"])
	assert.Equal(t, "Tomato", pred["plant"])
	assert.Equal(t, "tomato_early_blight", pred["diseaseId"])
	assert.Equal(t, float64(93), pred["confidence"])
	assert.Equal(t, "Medium", pred["severity"])
	assert.Equal(t, "Alternaria solani", pred["scientificName"])

	details := body["details"].(map[string]any)
	assert.NotEmpty(t, details["description"])
	assert.NotEmpty(t, body["solutions"])
	assert.NotEmpty(t, body["prevention"])
	assert.Equal(t, "live", body["source"])
	assert.NotEmpty(t, body["timestamp"])

	assert.Equal(t, []any{
		map[string]any{"disease": "Late Blight", "confidence": float64(5)},
		map[string]any{"disease": "Healthy", "confidence": float64(2)},
	}, body["alternativePredictions"])

	s.assertNoStagedFiles(t)
}

func TestDetect_Failures(t *testing.T) {
	tests := []struct {
		name       string
		predictor  predictor.Predictor
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantError  string
	}{
		{
			name:      "unknown disease",
			predictor: &riggedPredictor{candidates: []predictor.Candidate{{Label: "Cassava___Mosaic", Confidence: 0.9}}},
			req: func(t *testing.T) *http.Request {
				return detectRequest(t, "leaf.jpg", "image/jpeg", jpegBytes)
			},
			wantStatus: http.StatusNotFound,
			wantError:  "Disease information not found",
		},
		{
			name:      "predictor error",
			predictor: &riggedPredictor{err: &predictor.Error{Predictor: predictor.SourceLive, Message: "model not loaded"}},
			req: func(t *testing.T) *http.Request {
				return detectRequest(t, "leaf.png", "image/png", jpegBytes)
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to detect disease",
		},
		{
			name:      "wrong type",
			predictor: earlyBlight,
			req: func(t *testing.T) *http.Request {
				return detectRequest(t, "leaf.bmp", "image/bmp", jpegBytes)
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "Only image files (JPEG, JPG, PNG) are allowed!",
		},
		{
			name:      "too large",
			predictor: earlyBlight,
			req: func(t *testing.T) *http.Request {
				return detectRequest(t, "leaf.jpg", "image/jpeg", bytes.Repeat([]byte{0xff}, 2<<20))
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "File too large",
		},
		{
			name:      "not multipart",
			predictor: earlyBlight,
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/disease/detect", strings.NewReader("{}"))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantStatus: http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.predictor, nil)

			status, body := s.do(t, tt.req(t))
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, false, body["success"])
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
			s.assertNoStagedFiles(t)
		})
	}
}

func TestDetect_PredictorErrorCarriesMessage(t *testing.T) {
	s := newTestServer(t, &riggedPredictor{err: &predictor.Error{Predictor: predictor.SourceLive, Message: "model not loaded"}}, nil)

	_, body := s.do(t, detectRequest(t, "leaf.jpg", "image/jpeg", jpegBytes))
	assert.Contains(t, body["message"], "model not loaded")
}

func TestDetect_RateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 1})
	defer limiter.Stop()
	s := newTestServer(t, earlyBlight, limiter)

	status, _ := s.do(t, detectRequest(t, "leaf.jpg", "image/jpeg", jpegBytes))
	assert.Equal(t, http.StatusOK, status)

	status, body := s.do(t, detectRequest(t, "leaf.jpg", "image/jpeg", jpegBytes))
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, false, body["success"])
}

func TestDiseaseRoutes(t *testing.T) {
	s := newTestServer(t, earlyBlight, nil)

	status, body := s.jsonRequest(t, http.MethodGet, "/api/disease/Tomato___Early_blight", nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "tomato_early_blight", data["id"])
	assert.Equal(t, "Early Blight", data["disease"])

	status, _ = s.jsonRequest(t, http.MethodGet, "/api/disease/tomato%20late%20blight", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = s.jsonRequest(t, http.MethodGet, "/api/disease/banana_wilt", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Disease not found", body["error"])

	status, body = s.jsonRequest(t, http.MethodGet, "/api/disease/potato_late_blight/solutions", nil)
	require.Equal(t, http.StatusOK, status)
	sol := body["data"].(map[string]any)
	assert.Equal(t, "Potato", sol["plant"])
	assert.NotEmpty(t, sol["solutions"])

	status, _ = s.jsonRequest(t, http.MethodGet, "/api/disease/banana_wilt/solutions", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.jsonRequest(t, http.MethodGet, "/api/disease/plants/list", nil)
	require.Equal(t, http.StatusOK, status)
	plants := body["data"].(map[string]any)
	assert.Equal(t, float64(6), plants["totalPlants"])
	first := plants["plants"].([]any)[0].(map[string]any)
	assert.Equal(t, "Tomato", first["name"])

	status, body = s.jsonRequest(t, http.MethodGet, "/api/disease/stats/overview", nil)
	require.Equal(t, http.StatusOK, status)
	stats := body["data"].(map[string]any)
	assert.Equal(t, float64(15), stats["totalDiseases"])
	assert.Equal(t, "1.0.0", stats["databaseVersion"])
}

func TestUserRoutes(t *testing.T) {
	s := newTestServer(t, earlyBlight, nil)

	status, body := s.jsonRequest(t, http.MethodGet, "/api/user/profile/farmer-7", nil)
	require.Equal(t, http.StatusOK, status)
	profile := body["data"].(map[string]any)
	assert.Equal(t, "farmer-7", profile["id"])
	assert.Equal(t, "User", profile["name"])
	assert.Nil(t, profile["avatar"])

	status, body = s.jsonRequest(t, http.MethodPut, "/api/user/profile/farmer-7", map[string]any{
		"name":        "Meera",
		"preferences": map[string]any{"language": "tamil"},
	})
	require.Equal(t, http.StatusOK, status)
	profile = body["data"].(map[string]any)
	assert.Equal(t, "Meera", profile["name"])
	assert.Equal(t, map[string]any{"notifications": true, "language": "tamil"}, profile["preferences"])
	assert.NotEmpty(t, profile["updatedAt"])

	status, _ = s.jsonRequest(t, http.MethodPut, "/api/user/profile/farmer-7", map[string]any{"email": "nope"})
	assert.Equal(t, http.StatusBadRequest, status)

	save := map[string]any{
		"id":         "diag-1",
		"diseaseId":  "tomato_early_blight",
		"plant":      "Tomato",
		"disease":    "Early Blight",
		"confidence": 93,
		"solutions":  []string{"Remove infected leaves"},
		"date":       "2024-06-01T10:00:00Z",
	}
	status, body = s.jsonRequest(t, http.MethodPost, "/api/user/farmer-7/history", save)
	require.Equal(t, http.StatusCreated, status, body)
	saved := body["data"].(map[string]any)
	assert.Equal(t, "diag-1", saved["id"])
	assert.Equal(t, "farmer-7", saved["userId"])
	assert.Equal(t, "2024-06-01T10:00:00Z", saved["date"])
	assert.NotEmpty(t, saved["savedAt"])

	status, _ = s.jsonRequest(t, http.MethodPost, "/api/user/farmer-7/history", save)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.jsonRequest(t, http.MethodPost, "/api/user/farmer-7/history", map[string]any{
		"plant": "Potato", "disease": "Late Blight", "confidence": 88, "date": "2024-06-02T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, status)

	status, body = s.jsonRequest(t, http.MethodGet, "/api/user/farmer-7/history?limit=1", nil)
	require.Equal(t, http.StatusOK, status)
	page := body["data"].(map[string]any)
	assert.Equal(t, float64(2), page["total"])
	assert.Equal(t, float64(1), page["limit"])
	diagnoses := page["diagnoses"].([]any)
	require.Len(t, diagnoses, 1)
	assert.Equal(t, "Potato", diagnoses[0].(map[string]any)["plant"])

	status, _ = s.jsonRequest(t, http.MethodGet, "/api/user/farmer-7/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.jsonRequest(t, http.MethodGet, "/api/user/farmer-7/stats", nil)
	require.Equal(t, http.StatusOK, status)
	stats := body["data"].(map[string]any)
	assert.Equal(t, float64(2), stats["totalScans"])
	assert.Equal(t, float64(2), stats["plantsScanned"])
	assert.Equal(t, map[string]any{"Tomato": float64(1), "Potato": float64(1)}, stats["diseasesByPlant"])
	assert.Len(t, stats["recentActivity"], 2)

	status, _ = s.jsonRequest(t, http.MethodDelete, "/api/user/farmer-7/history/diag-1", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = s.jsonRequest(t, http.MethodDelete, "/api/user/farmer-7/history/diag-1", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Diagnosis not found", body["error"])
}

func TestWebSocketDetect(t *testing.T) {
	s := newTestServer(t, earlyBlight, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.app.Listener(ln) }()
	defer func() { _ = s.app.ShutdownWithTimeout(5 * time.Second) }()

	conn, _, err := fastws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/api/ws/detect", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "detect",
		"filename": "leaf.jpg",
		"image":    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes),
	}))

	var status map[string]any
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "status", status["type"])

	var result struct {
		Type string `json:"type"`
		Data struct {
			Success    bool `json:"success"`
			Prediction struct {
				DiseaseID  string `json:"diseaseId"`
				Confidence int    `json:"confidence"`
			} `json:"prediction"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, "result", result.Type)
	assert.True(t, result.Data.Success)
	assert.Equal(t, "tomato_early_blight", result.Data.Prediction.DiseaseID)
	assert.Equal(t, 93, result.Data.Prediction.Confidence)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "detect", "image": "!!not base64!!"}))
	var errMsg map[string]any
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg["type"])

	s.assertNoStagedFiles(t)
}
