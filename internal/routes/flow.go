package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cofrap/cofrap_auth/internal/flow"
	"github.com/cofrap/cofrap_auth/internal/session"
)

// RegisterFlowRoutes wires the per-session credential lifecycle flow.
func RegisterFlowRoutes(r fiber.Router, h *flow.Handler, guard fiber.Handler) {
	group := r.Group("/flow")
	group.Post("/", h.Start)
	group.Get("/", h.Current)
	group.Delete("/", h.Abandon)
	group.Post("/events", guard, h.Dispatch)
}

// RegisterSessionRoutes wires the authenticated identity endpoints.
func RegisterSessionRoutes(r fiber.Router, h *session.Handler) {
	r.Get("/session", h.Current)
	r.Delete("/session", h.Logout)
	r.Post("/session/logout", h.Logout)
}
