package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Inblac/gpt-proxy/config"
)

// Client wraps a go-redis client for the optional distributed leader
// lock guarding ring rebuilds across gateway replicas. Not used at all
// in a single-replica deployment.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

// Ping verifies connectivity at startup.
func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// Raw exposes the underlying go-redis client for callers (namely
// selector.NewRedisLock) that need direct access to Redis commands.
func (r *Client) Raw() *redis.Client {
	return r.c
}

// Close releases the underlying connection pool.
func (r *Client) Close() error {
	return r.c.Close()
}
