package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
)

const (
	// SessionCookieName carries the opaque browser session id.
	SessionCookieName = "cofrap_session"
	sessionLocalsKey  = "session_id"
)

// Session makes sure every request carries a browser session id, issuing a
// fresh cookie when the presented one is missing or malformed.
func Session(secure bool, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// The id outlives the request as a registry and Redis key, so it must
		// not alias fasthttp's reused buffer.
		id := utils.CopyString(c.Cookies(SessionCookieName))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			cookie := &fiber.Cookie{
				Name:     SessionCookieName,
				Value:    id,
				Path:     "/",
				HTTPOnly: true,
				Secure:   secure,
				SameSite: fiber.CookieSameSiteLaxMode,
			}
			if ttl > 0 {
				cookie.Expires = time.Now().Add(ttl)
			}
			c.Cookie(cookie)
		}
		c.Locals(sessionLocalsKey, id)
		return c.Next()
	}
}

// SessionID returns the id set by Session, or "" outside of it.
func SessionID(c *fiber.Ctx) string {
	id, _ := c.Locals(sessionLocalsKey).(string)
	return id
}
