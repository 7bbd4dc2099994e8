//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"watchtower/internal/platform/config"
	platformredis "watchtower/internal/platform/redis"
)

// RedisContainer is a disposable Redis reached through the same client
// constructor the server uses.
type RedisContainer struct {
	URL    string
	Client *redis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "start redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err, "redis connection string")

	client, err := platformredis.New(ctx, config.RedisConfig{URL: url, PoolSize: 4})
	require.NoError(t, err, "connect redis")
	t.Cleanup(func() { _ = client.Close() })

	return &RedisContainer{URL: url, Client: client.Client}
}

// FlushAll isolates tests that share one container.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
