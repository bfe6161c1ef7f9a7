package http

import (
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/transport/http/handlers"
)

type RouterConfig struct {
	Service ports.AnalysisService
	Health  handlers.HealthChecker
	Cache   ports.ResultCache
	Logger  *logger.Logger
	// BasePath prefixes every API route; "" mounts them at the root.
	BasePath string
	// Gatherer backs /metrics; nil disables the route.
	Gatherer       prometheus.Gatherer
	EnableStream   bool
	StreamInterval time.Duration
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	analysisHandler := handlers.NewAnalysisHandler(cfg.Service, cfg.Logger)
	adminHandler := handlers.NewAdminHandler(cfg.Health, cfg.Cache, cfg.Logger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group(strings.TrimSuffix(cfg.BasePath, "/"))
	api.Post("/analyze", analysisHandler.Analyze)
	api.Get("/tasks/:id", analysisHandler.GetStatus)
	api.Post("/tasks/:id/cancel", analysisHandler.Cancel)
	api.Get("/results/:id", analysisHandler.GetResults)

	admin := api.Group("/admin")
	admin.Get("/health", adminHandler.Health)
	admin.Get("/cache/stats", adminHandler.CacheStats)

	if cfg.EnableStream {
		streamHandler := handlers.NewStreamHandler(cfg.Service, cfg.StreamInterval, cfg.Logger)
		api.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("allowed", true)
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		api.Get("/ws/tasks/:id", websocket.New(streamHandler.Handle))
	}
}
