package selector

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock is a Locker backed by Redis SET NX PX, guarding
// Selector.Rebuild so that a fleet of gateway processes sharing one
// Repository doesn't stampede the database on every ring rebuild.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock returns a RedisLock using the given key and TTL.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// TryLock implements Locker.
func (l *RedisLock) TryLock(ctx context.Context) (func(), bool) {
	token := randToken()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return func() {}, false
	}
	release := func() {
		// Best-effort release; the TTL reclaims the lock if this fails.
		val, err := l.client.Get(ctx, l.key).Result()
		if err == nil && val == token {
			l.client.Del(ctx, l.key)
		}
	}
	return release, true
}

func randToken() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
