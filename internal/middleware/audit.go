package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits one structured line per request. Bodies are never logged: they
// carry passwords, TOTP codes and issued secrets.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if sid := SessionID(c); len(sid) >= 8 {
			attrs = append(attrs, slog.String("session", sid[:8]))
		}
		if err != nil {
			// fiber's error handler has not run yet, so the status above is stale.
			if fe, ok := err.(*fiber.Error); ok {
				attrs[2] = slog.Int("status", fe.Code)
			}
			attrs = append(attrs, slog.String("error", err.Error()))
			logger.Warn("request completed", attrs...)
			return err
		}

		logger.Info("request completed", attrs...)
		return nil
	}
}
