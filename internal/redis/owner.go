package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const ownerKey = "subscription:owner"

// OwnerStore persists the current subscription owner so the daemon can
// self-resume after being torn down and restarted by its environment. The
// liveness timer and the cold-start check both read from here, never from
// in-memory state.
type OwnerStore struct {
	client *Client
	logger *zap.Logger
}

// NewOwnerStore creates an owner store over the shared store.
func NewOwnerStore(client *Client, logger *zap.Logger) *OwnerStore {
	return &OwnerStore{client: client, logger: logger}
}

// Get returns the persisted owner user id, or "" when none is recorded.
func (s *OwnerStore) Get(ctx context.Context) (string, error) {
	val, err := s.client.rdb.Get(ctx, ownerKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

// Set records the owner user id. No expiry: the owner stays recorded until an
// explicit stop clears it.
func (s *OwnerStore) Set(ctx context.Context, userID string) error {
	if err := s.client.rdb.Set(ctx, ownerKey, userID, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	s.logger.Debug("subscription owner recorded", zap.String("user_id", userID))
	return nil
}

// Clear removes the persisted owner. Idempotent.
func (s *OwnerStore) Clear(ctx context.Context) error {
	if err := s.client.rdb.Del(ctx, ownerKey).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	s.logger.Debug("subscription owner cleared")
	return nil
}
