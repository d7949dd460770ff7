package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient configures the client shared by the in-flight guard, the
// login limiter, session persistence and the audit stream.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.DialTimeout = 3 * time.Second
	opt.ReadTimeout = 2 * time.Second
	opt.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// OptionalRedis connects when url is set. In development a failed connection
// is logged and the process falls back to in-memory state.
func OptionalRedis(ctx context.Context, url string, required bool, logger *slog.Logger) (*redis.Client, error) {
	if url == "" {
		if required {
			return nil, fmt.Errorf("redis url is required")
		}
		logger.Warn("REDIS_URL not set, using in-memory guards and sessions")
		return nil, nil
	}
	client, err := NewRedisClient(ctx, url)
	if err != nil {
		if required {
			return nil, err
		}
		logger.Warn("redis unavailable, using in-memory guards and sessions", slog.Any("error", err))
		return nil, nil
	}
	return client, nil
}
