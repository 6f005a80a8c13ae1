package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/diagnosis"
	"github.com/agrobuddy/backend/internal/upload"
	"github.com/agrobuddy/backend/pkg/logger"
)

type WebSocketHandler struct {
	diagnosis *diagnosis.Service
	uploads   *upload.Store
	timeout   time.Duration
}

func NewWebSocketHandler(svc *diagnosis.Service, uploads *upload.Store, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &WebSocketHandler{
		diagnosis: svc,
		uploads:   uploads,
		timeout:   timeout,
	}
}

type wsRequest struct {
	Type        string `json:"type"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Image       string `json:"image"`
}

// HandleConnection serves detections over one connection until the client
// goes away. Each "detect" message gets a status frame followed by a result
// or an error frame.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established", zap.String("ip", c.RemoteAddr().String()))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// base64 inflates by 4/3; leave room for the JSON envelope.
	c.SetReadLimit(h.uploads.MaxBytes()*4/3 + 4096)

	for {
		var msg wsRequest
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			if err := c.WriteJSON(map[string]any{"type": "pong"}); err != nil {
				return
			}
		case "detect":
			if err := h.detect(c, msg); err != nil {
				logger.Warn("Failed to write WebSocket response", zap.Error(err))
				return
			}
		default:
			if err := h.sendError(c, "Unsupported message type"); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) detect(c *websocket.Conn, msg wsRequest) error {
	data, err := decodeImage(msg.Image)
	if err != nil {
		return h.sendError(c, "Image must be base64 encoded")
	}

	filename := msg.Filename
	if filename == "" {
		filename = "leaf.jpg"
	}

	f, err := h.uploads.SaveBytes(filename, msg.ContentType, data)
	if err != nil {
		if upload.IsValidationError(err) {
			return h.sendError(c, upload.Reason(err))
		}
		logger.Error("Failed to stage WebSocket upload", zap.Error(err))
		return h.sendError(c, "Failed to process upload")
	}
	defer h.uploads.Release(f)

	if err := c.WriteJSON(map[string]any{"type": "status", "content": "Analyzing image..."}); err != nil {
		return err
	}

	img, err := f.Image()
	if err != nil {
		logger.Error("Failed to read staged upload", zap.Error(err))
		return h.sendError(c, "Failed to detect disease")
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	result, err := h.diagnosis.Assemble(ctx, img)
	if err != nil {
		var unknown *diagnosis.UnknownDiseaseError
		if errors.As(err, &unknown) {
			return h.sendError(c, "Disease information not found")
		}
		logger.Error("Failed to detect disease", zap.Error(err))
		return h.sendError(c, "Failed to detect disease")
	}

	return c.WriteJSON(map[string]any{
		"type": "result",
		"data": detectResponse{Success: true, Result: result},
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]any{
		"type":  "error",
		"error": errorMsg,
	})
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
