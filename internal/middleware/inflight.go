package middleware

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const (
	inflightPrefix   = "inflight:v1:"
	inProgressMarker = "__in_progress__"
	guardOpTimeout   = 2 * time.Second
)

// InFlight refuses a second identical request while the first one is still
// being served. Requests are identified by a BLAKE2b fingerprint of browser
// session, path and body, so no credential is ever stored. Redis holds the marker when
// available so replicas share it; otherwise, or when Redis errors, an
// in-process set is used.
func InFlight(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	local := &localGuard{held: make(map[string]struct{})}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}
		key := inflightPrefix + fingerprint(SessionID(c), c.Path(), c.Body())

		if cache != nil {
			ctx, cancel := context.WithTimeout(context.Background(), guardOpTimeout)
			acquired, err := cache.SetNX(ctx, key, inProgressMarker, ttl).Result()
			cancel()
			if err == nil {
				if !acquired {
					return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
				}
				defer func() {
					cleanupCtx, cancel := context.WithTimeout(context.Background(), guardOpTimeout)
					defer cancel()
					cache.Del(cleanupCtx, key) // best effort, the TTL covers failures
				}()
				return c.Next()
			}
			logger.Warn("in-flight reservation failed, using local guard", slog.Any("error", err))
		}

		if !local.acquire(key) {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}
		defer local.release(key)
		return c.Next()
	}
}

func fingerprint(session, path string, body []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(session))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type localGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (g *localGuard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return false
	}
	g.held[key] = struct{}{}
	return true
}

func (g *localGuard) release(key string) {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
}
