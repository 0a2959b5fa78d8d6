package order

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisOverlayStore keeps one Redis hash per user: field = scope key,
// value = the ordered id list flattened to JSON. Overlays survive
// restarts; the business logic above never sees the flattened form.
type RedisOverlayStore struct {
	client *redis.Client
	prefix string
}

// NewRedisOverlayStore creates an overlay store from a Redis URL.
func NewRedisOverlayStore(redisURL string) (*RedisOverlayStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisOverlayStoreWithClient(redis.NewClient(opts)), nil
}

// NewRedisOverlayStoreWithClient creates a store from an existing client.
func NewRedisOverlayStoreWithClient(client *redis.Client) *RedisOverlayStore {
	return &RedisOverlayStore{client: client, prefix: "order:"}
}

func (s *RedisOverlayStore) key(userID int64) string {
	return fmt.Sprintf("%s%d", s.prefix, userID)
}

// GetOverlay returns the stored list for the scope, or nil when the
// user has never reordered it.
func (s *RedisOverlayStore) GetOverlay(ctx context.Context, userID int64, scopeKey string) ([]string, error) {
	raw, err := s.client.HGet(ctx, s.key(userID), scopeKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get overlay: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal overlay: %w", err)
	}
	return ids, nil
}

// SaveOverlay replaces the stored list for the scope. Concurrent saves
// on the same scope race last-write-wins.
func (s *RedisOverlayStore) SaveOverlay(ctx context.Context, userID int64, scopeKey string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal overlay: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(userID), scopeKey, string(encoded)).Err(); err != nil {
		return fmt.Errorf("save overlay: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisOverlayStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisOverlayStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
