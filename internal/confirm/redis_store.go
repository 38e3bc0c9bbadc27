package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenStore is a UsedTokenStore backed by Redis, suitable when more
// than one node can receive the confirmation request. SET NX gives the
// atomic check-and-set.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore creates a store on an existing client.
func NewRedisTokenStore(client *redis.Client, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "vacaplan:confirm:used:"
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

// Consume marks the token used via SET NX with the TTL as expiry.
func (s *RedisTokenStore) Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+tokenID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark token used: %w", err)
	}
	return ok, nil
}

// Close releases the underlying client.
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}
