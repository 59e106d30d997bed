package watermark_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/watermark"
)

func TestFileStore_MissingFileHasNoWatermark(t *testing.T) {
	t.Parallel()

	store := watermark.NewFileStore(filepath.Join(t.TempDir(), "current_date.json"), nil)

	ts, ok, err := store.Get(context.Background(), "crashes")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, ts.IsZero())
}

func TestFileStore_MalformedFileDegrades(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "current_date.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store := watermark.NewFileStore(path, nil)

	_, ok, err := store.Get(context.Background(), "crashes")
	require.NoError(t, err)
	assert.False(t, ok)

	// A later Set replaces the corrupt content.
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(context.Background(), "crashes", ts))

	got, ok, err := store.Get(context.Background(), "crashes")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ts, got)
}

func TestFileStore_UnparseableEntryDegrades(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "current_date.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"crashes": "soon", "speed_cam": 7}`), 0o600))
	store := watermark.NewFileStore(path, nil)

	for _, stream := range []string{"crashes", "speed_cam", "redlight_cam"} {
		_, ok, err := store.Get(context.Background(), stream)
		require.NoError(t, err)
		assert.False(t, ok, stream)
	}
}

func TestFileStore_SetWritesSharedJSONObject(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "current_date.json")
	store := watermark.NewFileStore(path, nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "crashes", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, store.Set(ctx, "speed_cam", time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk map[string]string
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, map[string]string{
		"crashes":   "2024-03-01T12:00:00",
		"speed_cam": "2024-02-28T00:00:00",
	}, onDisk)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFileStore_ConcurrentWritersKeepAllStreams(t *testing.T) {
	t.Parallel()

	store := watermark.NewFileStore(filepath.Join(t.TempDir(), "current_date.json"), nil)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	const writers = 12
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range 5 {
				stream := fmt.Sprintf("stream-%d", i)
				assert.NoError(t, store.Set(ctx, stream, base.Add(time.Duration(i*10+j)*time.Hour)))
			}
		}(i)
	}
	wg.Wait()

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, writers)
	for i := range writers {
		assert.Equal(t, base.Add(time.Duration(i*10+4)*time.Hour), all[fmt.Sprintf("stream-%d", i)])
	}
}

func TestFileStore_SeparateStoresOnOneFileKeepAllStreams(t *testing.T) {
	t.Parallel()

	// Each store stands in for a separate process: they share only the file.
	path := filepath.Join(t.TempDir(), "current_date.json")
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	const writers = 8
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store := watermark.NewFileStore(path, nil)
			for j := range 5 {
				stream := fmt.Sprintf("stream-%d", i)
				assert.NoError(t, store.Set(ctx, stream, base.Add(time.Duration(i*10+j)*time.Hour)))
			}
		}(i)
	}
	wg.Wait()

	all, err := watermark.NewFileStore(path, nil).All(ctx)
	require.NoError(t, err)
	require.Len(t, all, writers)
	for i := range writers {
		assert.Equal(t, base.Add(time.Duration(i*10+4)*time.Hour), all[fmt.Sprintf("stream-%d", i)])
	}
}

func TestFileStore_WriteFailureSurfaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store := watermark.NewFileStore(filepath.Join(blocker, "current_date.json"), nil)
	err := store.Set(context.Background(), "crashes", time.Now())

	var ioErr *watermark.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "crashes", ioErr.Stream)
}
