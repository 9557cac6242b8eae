package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/baechuer/notification-fabric/internal/domain"
	"github.com/baechuer/notification-fabric/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "notification:prefs:"

// PreferenceCache fronts the user service with a best-effort Redis cache.
// Reads degrade to the underlying call on any failure; writes never fail
// the pipeline.
type PreferenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *PreferenceCache {
	return &PreferenceCache{client: client, ttl: ttl}
}

// Key returns the cache key for a user.
func (c *PreferenceCache) Key(userID uuid.UUID) string {
	return keyPrefix + userID.String()
}

// Get returns the cached snapshot or domain.ErrCacheMiss.
func (c *PreferenceCache) Get(ctx context.Context, userID uuid.UUID) (*domain.UserPreferenceSnapshot, error) {
	val, err := c.client.Get(ctx, c.Key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheLookup("miss")
			return nil, domain.ErrCacheMiss
		}
		metrics.RecordCacheLookup("error")
		return nil, err
	}

	var prefs domain.UserPreferenceSnapshot
	if err := json.Unmarshal([]byte(val), &prefs); err != nil {
		// Corrupt entry behaves like a miss
		metrics.RecordCacheLookup("miss")
		return nil, domain.ErrCacheMiss
	}
	metrics.RecordCacheLookup("hit")
	return &prefs, nil
}

// Set stores the snapshot with the configured TTL. Best-effort.
func (c *PreferenceCache) Set(ctx context.Context, userID uuid.UUID, prefs *domain.UserPreferenceSnapshot) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(userID), data, c.ttl).Err()
}

// Invalidate drops a user's cached snapshot.
func (c *PreferenceCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, c.Key(userID)).Err()
}
