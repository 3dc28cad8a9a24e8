package persistence

import (
	"context"
	"errors"
	"time"

	apperrors "advisory-portal/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces local cache entries by session id.
const DefaultKeyPrefix = "questionnaire:answers:"

// LocalCache is the fast, device-local store. A missing entry is reported as
// ok=false with a nil error.
type LocalCache interface {
	Read(ctx context.Context, sessionID string) (data []byte, ok bool, err error)
	Write(ctx context.Context, sessionID string, data []byte) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisCache keeps one encoded snapshot per session id.
type RedisCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache over client. A zero ttl keeps entries forever.
func NewRedisCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Key(sessionID string) string {
	return c.prefix + sessionID
}

func (c *RedisCache) Read(ctx context.Context, sessionID string) ([]byte, bool, error) {
	key := c.Key(sessionID)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewLocalCacheReadFailedError(key, err)
	}
	return data, true, nil
}

func (c *RedisCache) Write(ctx context.Context, sessionID string, data []byte) error {
	key := c.Key(sessionID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return apperrors.NewLocalCacheWriteFailedError(key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	key := c.Key(sessionID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return apperrors.NewLocalCacheWriteFailedError(key, err)
	}
	return nil
}
