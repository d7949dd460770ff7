package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const maxTrackedSubjects = 10000

// LoginLimiter counts login attempts per subject. Counters live in Redis when
// available; otherwise a token bucket per subject is kept in process.
type LoginLimiter struct {
	cache *redis.Client
	max   int
	local *subjectLimiter
}

// NewLoginLimiter builds a limiter allowing maxPerMin attempts per subject.
func NewLoginLimiter(cache *redis.Client, maxPerMin int) *LoginLimiter {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return &LoginLimiter{cache: cache, max: maxPerMin, local: newSubjectLimiter(maxPerMin)}
}

// Allow records one attempt for subject and reports whether it is within the
// limit. Subjects are case-insensitive.
func (l *LoginLimiter) Allow(ctx context.Context, subject string) bool {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if l.cache != nil {
		key := "rl:auth:" + subject
		cnt, err := l.cache.Incr(ctx, key).Result()
		if err == nil {
			if cnt == 1 {
				l.cache.Expire(ctx, key, time.Minute)
			}
			return cnt <= int64(l.max)
		}
	}
	return l.local.allow(subject)
}

// Handler limits authenticate attempts per username, or per client IP when
// the body names none.
func (l *LoginLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Username string `json:"username"`
		}
		_ = json.Unmarshal(c.Body(), &req)
		subject := strings.TrimSpace(req.Username)
		if subject == "" {
			subject = c.IP()
		}
		if !l.Allow(c.UserContext(), subject) {
			return ErrTooManyLogins
		}
		return c.Next()
	}
}

// ErrTooManyLogins is returned once a subject is over its login budget.
var ErrTooManyLogins = fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")

// LoginRateLimit is shorthand for NewLoginLimiter(cache, maxPerMin).Handler().
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	return NewLoginLimiter(cache, maxPerMin).Handler()
}

type subjectLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

func newSubjectLimiter(perMin int) *subjectLimiter {
	return &subjectLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(time.Minute / time.Duration(perMin)),
		burst:    perMin,
	}
}

func (s *subjectLimiter) allow(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[subject]
	if !ok {
		if len(s.limiters) >= maxTrackedSubjects {
			s.pruneLocked()
		}
		lim = rate.NewLimiter(s.every, s.burst)
		s.limiters[subject] = lim
	}
	return lim.Allow()
}

// pruneLocked forgets subjects whose bucket has refilled completely.
func (s *subjectLimiter) pruneLocked() {
	for subject, lim := range s.limiters {
		if lim.Tokens() >= float64(s.burst) {
			delete(s.limiters, subject)
		}
	}
}
