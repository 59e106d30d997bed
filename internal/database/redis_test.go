package database_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/database"
)

func TestNewRedisClient(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := database.NewRedisClient(context.Background(), database.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
}

func TestNewRedisClient_EmptyAddress(t *testing.T) {
	t.Parallel()

	_, err := database.NewRedisClient(context.Background(), database.RedisConfig{})
	require.ErrorIs(t, err, database.ErrEmptyAddress)
}
