package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"watchtower/internal/ratelimit/models"
)

// allowScript trims the window, then admits the request if it fits. Each
// request is a sorted-set member scored by its arrival in milliseconds.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
  for i = 1, cost do
    redis.call('ZADD', key, now, member .. ':' .. i)
  end
  redis.call('PEXPIRE', key, window)
  count = count + cost
  allowed = 1
end

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RedisBucketStore shares sliding windows between replicas.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client, now: time.Now}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost int, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	res, err := allowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, cost, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}

	resetAt := time.UnixMilli(res[2])
	if res[0] == 1 {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     limit,
			Remaining: max(limit-int(res[1]), 0),
			ResetAt:   resetAt,
		}, nil
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: models.RetryAfterSeconds(now, resetAt),
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// GetCurrentCount counts recorded requests. Entries older than the window
// are only trimmed by the next Allow on the key.
func (s *RedisBucketStore) GetCurrentCount(ctx context.Context, key string) (int, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit count %s: %w", key, err)
	}
	return int(n), nil
}
