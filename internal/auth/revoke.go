package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokePrefix = "revoked:device:"

// RedisRevocationList is a short-TTL deny-list for device bindings, consulted
// on device logins only. Entries outlive the longest token TTL so a revoked
// station cannot re-authenticate before its last token expires.
type RedisRevocationList struct {
	client *redis.Client
}

var _ RevocationList = (*RedisRevocationList)(nil)

// NewRedisRevocationList wraps an existing client.
func NewRedisRevocationList(client *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

// IsRevoked reports whether the binding is on the deny-list.
func (l *RedisRevocationList) IsRevoked(ctx context.Context, bindingID string) (bool, error) {
	n, err := l.client.Exists(ctx, revokePrefix+bindingID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Revoke places the binding on the deny-list for ttl.
func (l *RedisRevocationList) Revoke(ctx context.Context, bindingID string, ttl time.Duration) error {
	return l.client.Set(ctx, revokePrefix+bindingID, "1", ttl).Err()
}
