package watermark_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/watermark"
)

func newRedisStore(t *testing.T) (*watermark.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return watermark.NewRedisStore(client, "test:watermarks", nil), mr
}

func TestRedisStore_GetSet(t *testing.T) {
	t.Parallel()

	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "redlight_cam")
	require.NoError(t, err)
	assert.False(t, ok)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, "redlight_cam", ts))
	assert.Equal(t, "2024-03-01T12:00:00", mr.HGet("test:watermarks", "redlight_cam"))

	got, ok, err := store.Get(ctx, "redlight_cam")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ts, got)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{"redlight_cam": ts}, all)
}

func TestRedisStore_MalformedValueDegrades(t *testing.T) {
	t.Parallel()

	store, mr := newRedisStore(t)
	mr.HSet("test:watermarks", "crashes", "not-a-date")

	_, ok, err := store.Get(context.Background(), "crashes")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_WriteFailureSurfaces(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: time.Second})
	t.Cleanup(func() { _ = client.Close() })
	store := watermark.NewRedisStore(client, "", nil)

	err := store.Set(context.Background(), "crashes", time.Now())

	var ioErr *watermark.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)

	_, ok, getErr := store.Get(context.Background(), "crashes")
	require.NoError(t, getErr)
	assert.False(t, ok)
}
