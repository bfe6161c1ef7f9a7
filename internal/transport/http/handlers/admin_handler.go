package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/core/services"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/transport/http/dto"
)

type HealthChecker interface {
	Check(ctx context.Context) services.HealthReport
}

type AdminHandler struct {
	health HealthChecker
	cache  ports.ResultCache
	logger *logger.Logger
}

func NewAdminHandler(health HealthChecker, cache ports.ResultCache, logger *logger.Logger) *AdminHandler {
	return &AdminHandler{health: health, cache: cache, logger: logger}
}

func (h *AdminHandler) Health(c *fiber.Ctx) error {
	report := h.health.Check(c.UserContext())
	status := fiber.StatusOK
	if report.Status == services.HealthUnhealthy {
		h.logger.Warnw("admin_health_unhealthy", "components", report.Components)
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}

func (h *AdminHandler) CacheStats(c *fiber.Ctx) error {
	stats := h.cache.Stats(c.UserContext())
	return c.JSON(dto.CacheStatsResponse{
		CacheStats:     stats,
		HitRatePercent: fmt.Sprintf("%.1f%%", stats.HitRate*100),
	})
}
