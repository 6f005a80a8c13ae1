package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/history"
	"github.com/agrobuddy/backend/internal/storage/models"
	"github.com/agrobuddy/backend/pkg/logger"
)

type UserHandler struct {
	history *history.Service
}

func NewUserHandler(svc *history.Service) *UserHandler {
	return &UserHandler{history: svc}
}

func (h *UserHandler) GetProfile(c *fiber.Ctx) error {
	p, err := h.history.Profile(c.UserContext(), c.Params("userId"))
	if err != nil {
		return userError(c, err, "Failed to fetch user profile")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    p,
	})
}

func (h *UserHandler) UpdateProfile(c *fiber.Ctx) error {
	var upd models.ProfileUpdate
	if err := c.BodyParser(&upd); err != nil {
		logger.Warn("Failed to parse profile update", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	p, err := h.history.UpdateProfile(c.UserContext(), c.Params("userId"), upd)
	if err != nil {
		return userError(c, err, "Failed to update user profile")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Profile updated successfully",
		"data":    p,
	})
}

func (h *UserHandler) GetHistory(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit", history.DefaultLimit)
	if err != nil {
		return badQuery(c, "limit")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return badQuery(c, "offset")
	}

	page, err := h.history.History(c.UserContext(), c.Params("userId"), limit, offset)
	if err != nil {
		return userError(c, err, "Failed to fetch diagnosis history")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    page,
	})
}

func (h *UserHandler) SaveDiagnosis(c *fiber.Ctx) error {
	var in models.DiagnosisInput
	if err := c.BodyParser(&in); err != nil {
		logger.Warn("Failed to parse diagnosis", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	d, err := h.history.Save(c.UserContext(), c.Params("userId"), in)
	if err != nil {
		return userError(c, err, "Failed to save diagnosis")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Diagnosis saved successfully",
		"data":    d,
	})
}

func (h *UserHandler) DeleteDiagnosis(c *fiber.Ctx) error {
	err := h.history.Delete(c.UserContext(), c.Params("userId"), c.Params("diagnosisId"))
	if err != nil {
		return userError(c, err, "Failed to delete diagnosis")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Diagnosis deleted successfully",
	})
}

func (h *UserHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.history.Stats(c.UserContext(), c.Params("userId"))
	if err != nil {
		return userError(c, err, "Failed to fetch user statistics")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}

func userError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, history.ErrInvalid):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	case errors.Is(err, history.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Diagnosis not found",
		})
	case errors.Is(err, history.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "Diagnosis already saved",
		})
	}

	logger.Error(fallback, zap.String("user_id", c.Params("userId")), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   fallback,
	})
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func badQuery(c *fiber.Ctx, key string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   key + " must be an integer",
	})
}
