package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/reviewd/backend/internal/infrastructure/logger"
)

func AccessLog(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		routePath := ""
		if c.Route() != nil {
			routePath = c.Route().Path
		}
		log.Infow("http_access",
			"method", c.Method(),
			"path", c.Path(),
			"route", routePath,
			"query", string(c.Request().URI().QueryString()),
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.IP(),
			"user_agent", string(c.Request().Header.UserAgent()),
			"request_id", GetRequestID(c),
			"req_bytes", len(c.Request().Body()),
			"resp_bytes", len(c.Response().Body()),
		)
		return err
	}
}
