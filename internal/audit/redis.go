package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream is the Redis stream transitions are appended to.
	DefaultStream = "audit:flow:v1"
	defaultMaxLen = 10000
)

// RedisRecorder appends events to a capped Redis stream.
type RedisRecorder struct {
	cache  *redis.Client
	stream string
	maxLen int64
}

func NewRedisRecorder(cache *redis.Client, stream string) *RedisRecorder {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisRecorder{cache: cache, stream: stream, maxLen: defaultMaxLen}
}

func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	ev = Stamp(ev)
	err := r.cache.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":       ev.ID,
			"session":  ev.Session,
			"trigger":  ev.Trigger,
			"from":     ev.From,
			"to":       ev.To,
			"username": ev.Username,
			"kind":     ev.Kind,
			"at":       ev.At.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
