package streamlog

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spetersoncode/braid/event"
)

// startRedis runs a throwaway Redis container, skipping the test when
// Docker is not available.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}
	ctx := context.Background()

	var (
		container testcontainers.Container
		err       error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Skipf("docker not available: %v", r)
			}
		}()
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
	}()
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedis(t *testing.T) {
	rdb := startRedis(t)
	log, err := NewRedis(RedisOptions{Client: rdb, TTL: time.Minute})
	require.NoError(t, err)

	exerciseLog(t, log)

	t.Run("keys expire and delete", func(t *testing.T) {
		ctx := context.Background()
		_, err := log.Append(ctx, "ttl-run", event.Start{RunID: "ttl-run"})
		require.NoError(t, err)

		ttl, err := rdb.TTL(ctx, "braid:run:ttl-run:parts").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		require.NoError(t, log.Delete(ctx, "ttl-run"))
		envs, err := log.Read(ctx, "ttl-run", 0, 0)
		require.NoError(t, err)
		assert.Empty(t, envs)
	})
}

func TestNewRedis_RequiresClient(t *testing.T) {
	_, err := NewRedis(RedisOptions{})
	assert.Error(t, err)
}
