package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cofrap/cofrap_auth/internal/proxy"
)

// RegisterAuthRoutes wires the validating proxy endpoints. guard refuses
// duplicate in-flight submissions; rateLimiter only throttles authenticate.
func RegisterAuthRoutes(r fiber.Router, h *proxy.Handler, guard, rateLimiter fiber.Handler) {
	group := r.Group("/auth", guard)
	group.Post("/check-user", h.CheckUser)
	group.Post("/create-user", h.CreateUser)
	group.Post("/setup-2fa", h.SetupTwoFactor)
	if rateLimiter != nil {
		group.Post("/authenticate", rateLimiter, h.Authenticate)
	} else {
		group.Post("/authenticate", h.Authenticate)
	}
}
