package signature

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ReplayTTL is how long an accepted (webhook_id, signature) pair is remembered
const ReplayTTL = 24 * time.Hour

// replayCacheSize bounds the in-memory cache; oldest entries are evicted first
const replayCacheSize = 100_000

/* ReplayStore remembers signatures that were already accepted so a second
 * submission of the same signed request can be rejected
 *
 * The in-memory store suits a single-instance deployment; multi-instance
 * deployments should share the Redis-backed store instead
 */
type ReplayStore interface {
	// Seen reports whether the key was recorded within the TTL
	Seen(ctx context.Context, key string) (bool, error)

	// Record marks the key as accepted for the given TTL
	Record(ctx context.Context, key string, ttl time.Duration) error
}

// MemoryReplayStore is a bounded in-process replay cache with lazy expiry
type MemoryReplayStore struct {
	cache *expirable.LRU[string, time.Time]
}

// NewMemoryReplayStore creates a replay store holding up to replayCacheSize
// entries, each expiring after ReplayTTL
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{
		cache: expirable.NewLRU[string, time.Time](replayCacheSize, nil, ReplayTTL),
	}
}

// Seen reports whether the key is present and unexpired
func (s *MemoryReplayStore) Seen(_ context.Context, key string) (bool, error) {
	_, ok := s.cache.Get(key)
	return ok, nil
}

// Record stores the key; the cache's own TTL governs expiry
func (s *MemoryReplayStore) Record(_ context.Context, key string, _ time.Duration) error {
	s.cache.Add(key, time.Now())
	return nil
}

// Len returns the number of live entries, used by health reporting
func (s *MemoryReplayStore) Len() int {
	return s.cache.Len()
}
