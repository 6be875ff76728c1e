package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces replay keys so the store can share a Redis instance
const keyPrefix = "firshook:replay:"

/* ReplayStore is a Redis-backed replay cache for multi-instance deployments
 * Every pipeline instance pointed at the same Redis shares one replay window
 */
type ReplayStore struct {
	client *redis.Client
}

// NewReplayStore connects to Redis and verifies the connection
func NewReplayStore(ctx context.Context, addr, password string, db int) (*ReplayStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &ReplayStore{client: client}, nil
}

// NewReplayStoreFromClient wraps an existing client, used by tests
func NewReplayStoreFromClient(client *redis.Client) *ReplayStore {
	return &ReplayStore{client: client}
}

// Seen reports whether the key was recorded and has not expired
func (s *ReplayStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("checking replay key: %w", err)
	}
	return n > 0, nil
}

// Record stores the key with the given TTL; Redis handles expiry
func (s *ReplayStore) Record(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("recording replay key: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (s *ReplayStore) Close() error {
	return s.client.Close()
}
