package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefreshTokenStore keeps one key per outstanding refresh token.
// Key format: auth:refresh:<jti> → user id
type RefreshTokenStore struct {
	client *redis.Client
}

// NewRefreshTokenStore creates a RefreshTokenStore wrapping the given Redis client.
func NewRefreshTokenStore(client *redis.Client) *RefreshTokenStore {
	return &RefreshTokenStore{client: client}
}

// Save registers tokenID until ttl elapses.
func (s *RefreshTokenStore) Save(ctx context.Context, tokenID, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, refreshKey(tokenID), userID, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// Consume removes tokenID with GETDEL, so of two concurrent refreshes with
// the same token exactly one sees ok=true.
func (s *RefreshTokenStore) Consume(ctx context.Context, tokenID string) (string, bool, error) {
	userID, err := s.client.GetDel(ctx, refreshKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consume refresh token: %w", err)
	}
	return userID, true, nil
}

func refreshKey(tokenID string) string {
	return "auth:refresh:" + tokenID
}
