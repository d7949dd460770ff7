package session

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes the caller's session over HTTP. key resolves the browser
// session id of a request.
type Handler struct {
	manager *Manager
	key     func(*fiber.Ctx) string
}

// NewHandler builds a session HTTP handler.
func NewHandler(manager *Manager, key func(*fiber.Ctx) string) *Handler {
	return &Handler{manager: manager, key: key}
}

// Current reports the authenticated identity, 401 when there is none.
func (h *Handler) Current(c *fiber.Ctx) error {
	id, ok := h.manager.Lookup(c.UserContext(), h.key(c))
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"authenticated": false})
	}
	return c.JSON(fiber.Map{
		"authenticated": true,
		"identity":      id,
	})
}

// Logout clears the session. It succeeds when there is nothing to clear.
func (h *Handler) Logout(c *fiber.Ctx) error {
	if err := h.manager.Forget(c.UserContext(), h.key(c)); err != nil {
		return fiber.NewError(http.StatusInternalServerError, "failed to clear session")
	}
	return c.SendStatus(http.StatusNoContent)
}
