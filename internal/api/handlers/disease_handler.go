package handlers

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/diagnosis"
	"github.com/agrobuddy/backend/internal/knowledge"
	"github.com/agrobuddy/backend/internal/label"
	"github.com/agrobuddy/backend/internal/middleware/validation"
	"github.com/agrobuddy/backend/pkg/logger"
)

type DiseaseHandler struct {
	diagnosis *diagnosis.Service
	kb        *knowledge.Base
}

func NewDiseaseHandler(svc *diagnosis.Service) *DiseaseHandler {
	return &DiseaseHandler{
		diagnosis: svc,
		kb:        svc.KnowledgeBase(),
	}
}

type detectResponse struct {
	Success bool `json:"success"`
	*diagnosis.Result
}

// Detect diagnoses the image staged by the upload middleware.
func (h *DiseaseHandler) Detect(c *fiber.Ctx) error {
	f, ok := validation.StagedUpload(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "No image file provided",
		})
	}

	img, err := f.Image()
	if err != nil {
		logger.Error("Failed to read staged upload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to detect disease",
			"message": err.Error(),
		})
	}

	result, err := h.diagnosis.Assemble(c.UserContext(), img)
	if err != nil {
		return detectError(c, err)
	}

	return c.JSON(detectResponse{Success: true, Result: result})
}

func detectError(c *fiber.Ctx, err error) error {
	var unknown *diagnosis.UnknownDiseaseError
	if errors.As(err, &unknown) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success":   false,
			"error":     "Disease information not found",
			"diseaseId": unknown.DiseaseID,
		})
	}

	logger.Error("Failed to detect disease", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "Failed to detect disease",
		"message": err.Error(),
	})
}

func (h *DiseaseHandler) GetDisease(c *fiber.Ctx) error {
	rec, ok := h.kb.Get(diseaseParam(c))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Disease not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    rec,
	})
}

func (h *DiseaseHandler) GetSolutions(c *fiber.Ctx) error {
	sol, ok := h.kb.Solutions(diseaseParam(c))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Disease not found",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sol,
	})
}

func (h *DiseaseHandler) ListPlants(c *fiber.Ctx) error {
	plants := h.kb.Plants()

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"totalPlants": len(plants),
			"plants":      plants,
		},
	})
}

func (h *DiseaseHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    h.kb.Statistics(),
	})
}

// diseaseParam normalizes the :diseaseId path segment so that labels in any
// of the predictor spellings resolve.
func diseaseParam(c *fiber.Ctx) string {
	raw := c.Params("diseaseId")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	return label.Normalize(raw)
}
