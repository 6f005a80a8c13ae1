// Package api mounts the HTTP and WebSocket routes on a fiber app.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"

	"github.com/agrobuddy/backend/internal/api/handlers"
	"github.com/agrobuddy/backend/internal/diagnosis"
	"github.com/agrobuddy/backend/internal/history"
	"github.com/agrobuddy/backend/internal/metrics"
	"github.com/agrobuddy/backend/internal/middleware/ratelimit"
	"github.com/agrobuddy/backend/internal/middleware/security"
	"github.com/agrobuddy/backend/internal/middleware/validation"
	"github.com/agrobuddy/backend/internal/upload"
	"github.com/agrobuddy/backend/pkg/config"
	"github.com/agrobuddy/backend/pkg/logger"
)

type Deps struct {
	Config    *config.Config
	Diagnosis *diagnosis.Service
	History   *history.Service
	Uploads   *upload.Store
	// Limiter guards detection; nil disables rate limiting.
	Limiter *ratelimit.RateLimiter
	// Source names the active predictor for /health.
	Source string
}

func NewApp(cfg *config.Config) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:      "AgroBuddy API",
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})
}

func SetupRoutes(app *fiber.App, d Deps) {
	cfg := d.Config

	app.Use(recover.New())
	app.Use(requestid.New())
	if cfg.IsDevelopment() {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.IsDevelopment(),
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "OK",
			"message":   "AgroBuddy API is running",
			"predictor": d.Source,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to AgroBuddy API",
			"version": "1.0.0",
			"endpoints": fiber.Map{
				"health":  "/health",
				"disease": "/api/disease",
				"user":    "/api/user",
				"ws":      "/api/ws/detect",
				"metrics": "/metrics",
			},
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	diseaseHandler := handlers.NewDiseaseHandler(d.Diagnosis)
	userHandler := handlers.NewUserHandler(d.History)
	wsHandler := handlers.NewWebSocketHandler(d.Diagnosis, d.Uploads, time.Duration(cfg.Predictor.TimeoutSec+30)*time.Second)

	log := logger.Named("http")

	api := app.Group("/api", validation.Middleware(validation.Config{Logger: log}))

	detect := []fiber.Handler{}
	if d.Limiter != nil {
		detect = append(detect, d.Limiter.Middleware())
	}
	detect = append(detect, validation.Upload(d.Uploads, log), diseaseHandler.Detect)

	disease := api.Group("/disease")
	disease.Post("/detect", detect...)
	disease.Get("/plants/list", diseaseHandler.ListPlants)
	disease.Get("/stats/overview", diseaseHandler.Stats)
	disease.Get("/:diseaseId/solutions", diseaseHandler.GetSolutions)
	disease.Get("/:diseaseId", diseaseHandler.GetDisease)

	userID := validation.UserID(log)
	user := api.Group("/user")
	user.Get("/profile/:userId", userID, userHandler.GetProfile)
	user.Put("/profile/:userId", userID, userHandler.UpdateProfile)
	user.Get("/:userId/history", userID, userHandler.GetHistory)
	user.Post("/:userId/history", userID, userHandler.SaveDiagnosis)
	user.Delete("/:userId/history/:diagnosisId", userID, userHandler.DeleteDiagnosis)
	user.Get("/:userId/stats", userID, userHandler.GetStats)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/detect", websocket.New(wsHandler.HandleConnection))

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Route not found",
			"path":    c.Path(),
		})
	})
}
