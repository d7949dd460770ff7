package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:v1:"

// RedisPersister stores session traces as JSON values with a TTL.
type RedisPersister struct {
	cache *redis.Client
}

// NewRedisPersister builds a persister backed by cache.
func NewRedisPersister(cache *redis.Client) *RedisPersister {
	return &RedisPersister{cache: cache}
}

// Save writes the identity under key.
func (p *RedisPersister) Save(ctx context.Context, key string, id Identity, ttl time.Duration) error {
	payload, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := p.cache.Set(ctx, keyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Load reads the identity under key.
func (p *RedisPersister) Load(ctx context.Context, key string) (Identity, bool, error) {
	raw, err := p.cache.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, fmt.Errorf("load session: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, false, fmt.Errorf("decode session: %w", err)
	}
	return id, true, nil
}

// Delete removes the identity under key. Deleting a missing key is not an error.
func (p *RedisPersister) Delete(ctx context.Context, key string) error {
	if err := p.cache.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
