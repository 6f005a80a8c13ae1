package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/agrobuddy/backend/internal/upload"
)

const localsUpload = "staged_upload"

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)

type Config struct {
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects POST and PUT bodies whose content type is not allowed.
func Middleware(cfg Config) fiber.Handler {
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					cfg.Logger.Debug("Unsupported content type", zap.String("content_type", contentType), zap.String("path", c.Path()))
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"success": false,
						"error":   "Unsupported content type",
					})
				}
			}
		}

		return c.Next()
	}
}

// UserID rejects a :userId route parameter that could not be a store key.
// It must be attached to the route itself so the parameter is bound.
func UserID(log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if !userIDPattern.MatchString(c.Params("userId")) {
			log.Warn("Invalid user id", zap.String("ip", c.IP()), zap.String("path", c.Path()))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid user id",
			})
		}
		return c.Next()
	}
}

// Upload stages the multipart "image" field before the handler runs and
// removes it after the handler returns, whatever the outcome.
func Upload(store *upload.Store, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"success": false,
				"error":   "Expected multipart/form-data with an image field",
			})
		}

		fh, err := c.FormFile("image")
		if err != nil {
			fh = nil
		}

		f, err := store.Save(fh)
		if err != nil {
			if upload.IsValidationError(err) {
				log.Warn("Upload rejected", zap.String("ip", c.IP()), zap.Error(err))
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"success": false,
					"error":   upload.Reason(err),
					"message": err.Error(),
				})
			}
			log.Error("Failed to stage upload", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Failed to process upload",
			})
		}
		defer store.Release(f)

		c.Locals(localsUpload, f)
		return c.Next()
	}
}

// StagedUpload returns the file staged by Upload for this request.
func StagedUpload(c *fiber.Ctx) (*upload.File, bool) {
	f, ok := c.Locals(localsUpload).(*upload.File)
	return f, ok && f != nil
}
