// Package redis opens the shared go-redis client used by the device store,
// the rate limiter and the notification outbox.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"watchtower/internal/platform/config"
)

type Client struct {
	*redis.Client
}

// New dials cfg.URL with the configured pool and timeouts and pings once. An
// empty URL returns a nil client and no error.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{Client: rdb}, nil
}

// Health is wired into /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
