package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping redis test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })

	return NewClientFrom(rdb, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	client := getTestClient(t)
	locker := NewLocker(client, "thistle-test:", 5*time.Second)
	ctx := context.Background()
	key := "credentials:" + uuid.NewString()

	release, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrLockNotHeld)

	release, err = locker.Lock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestLocker_ExpiresAfterTTL(t *testing.T) {
	client := getTestClient(t)
	locker := NewLocker(client, "thistle-test:", 100*time.Millisecond)
	ctx := context.Background()
	key := "credentials:" + uuid.NewString()

	_, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	time.Sleep(250 * time.Millisecond)

	release, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}
