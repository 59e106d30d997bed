package sink_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/metrics"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/publisher"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/records"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/sink"
)

const prefix = "traffic"

type memoryWriter struct {
	mu      sync.Mutex
	written []records.Record
	err     error
}

func (w *memoryWriter) Upsert(_ context.Context, rec records.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, rec)
	return nil
}

func setup(t *testing.T) (*redis.Client, *publisher.RedisStreamPublisher) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, publisher.NewRedisStreamPublisher(client, publisher.RedisConfig{Prefix: prefix}, nil)
}

func newConsumer(t *testing.T, client *redis.Client, w sink.Writer, id string, m *metrics.Metrics) *sink.Consumer {
	t.Helper()

	c, err := sink.NewConsumer(client, prefix, domain.DefaultStreams(), w, sink.Config{
		ConsumerID:   id,
		BlockTimeout: -1,
		ClaimMinIdle: 10 * time.Millisecond,
	}, m, nil)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))
	return c
}

func pending(t *testing.T, client *redis.Client, stream string) int64 {
	t.Helper()

	p, err := client.XPending(context.Background(), publisher.StreamKey(prefix, stream), "traffic-sink").Result()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	require.NoError(t, err)
	return p.Count
}

func TestConsumer_WritesAndAcknowledges(t *testing.T) {
	t.Parallel()

	client, pub := setup(t)
	w := &memoryWriter{}
	m := metrics.New(prometheus.NewRegistry())
	c := newConsumer(t, client, w, "sink-a", m)
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, domain.StreamSpeed, map[string]any{
		"camera_id":      "CHI003",
		"address":        "3450 W 71ST ST",
		"violation_date": "2024-03-01T00:00:00",
		"violations":     4,
		"latitude":       41.76,
		"longitude":      -87.71,
	}))
	require.NoError(t, pub.Publish(ctx, domain.StreamCrashes, map[string]any{
		"crash_record_id": "abc123",
		"crash_date":      "2024-03-01T12:00:00",
		"street_no":       nil,
	}))

	n, err := c.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, w.written, 2)

	byKind := map[domain.Kind]records.Record{}
	for _, rec := range w.written {
		byKind[rec.Kind()] = rec
	}
	speed, ok := byKind[domain.KindSpeed].(*records.SpeedRecord)
	require.True(t, ok)
	assert.Equal(t, "CHI003", speed.CameraID)
	assert.Equal(t, int64(4), speed.Violations)
	crash, ok := byKind[domain.KindCrash].(*records.CrashRecord)
	require.True(t, ok)
	assert.Nil(t, crash.StreetNo)

	assert.Equal(t, int64(0), pending(t, client, domain.StreamSpeed))
	assert.Equal(t, int64(0), pending(t, client, domain.StreamCrashes))
	assert.InDelta(t, 1, testutil.ToFloat64(m.SinkMessages.WithLabelValues(domain.StreamSpeed, sink.StatusWritten)), 0)
}

func TestConsumer_FailedWriteStaysPendingAndIsReclaimed(t *testing.T) {
	t.Parallel()

	client, pub := setup(t)
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, domain.StreamRedlight, map[string]any{
		"camera_id":      "CHI120",
		"intersection":   "KEDZIE AND 71ST",
		"violation_date": "2024-03-01T00:00:00",
		"violations":     2,
	}))

	broken := &memoryWriter{err: errors.New("database unavailable")}
	first := newConsumer(t, client, broken, "sink-a", nil)
	n, err := first.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(1), pending(t, client, domain.StreamRedlight))

	time.Sleep(50 * time.Millisecond)

	healthy := &memoryWriter{}
	second := newConsumer(t, client, healthy, "sink-b", nil)
	n, err = second.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, healthy.written, 1)
	assert.Equal(t, "KEDZIE AND 71ST", healthy.written[0].(*records.RedlightRecord).Intersection)
	assert.Equal(t, int64(0), pending(t, client, domain.StreamRedlight))
}

func TestConsumer_AcknowledgesUndecodableMessages(t *testing.T) {
	t.Parallel()

	client, _ := setup(t)
	ctx := context.Background()
	key := publisher.StreamKey(prefix, domain.StreamSpeed)
	w := &memoryWriter{}
	m := metrics.New(prometheus.NewRegistry())
	c := newConsumer(t, client, w, "sink-a", m)

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{publisher.RecordField: "{not json"},
	}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{publisher.RecordField: `{"camera_id":"CHI003"}`},
	}).Err())

	n, err := c.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, w.written)
	assert.Equal(t, int64(0), pending(t, client, domain.StreamSpeed))
	assert.InDelta(t, 2, testutil.ToFloat64(m.SinkMessages.WithLabelValues(domain.StreamSpeed, sink.StatusInvalid)), 0)
}

func TestConsumer_InitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	client, _ := setup(t)
	c := newConsumer(t, client, &memoryWriter{}, "sink-a", nil)
	require.NoError(t, c.Initialize(context.Background()))
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	client, _ := setup(t)
	c := newConsumer(t, client, &memoryWriter{}, "sink-a", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))
}

func TestNewConsumer_Validation(t *testing.T) {
	t.Parallel()

	client, _ := setup(t)
	_, err := sink.NewConsumer(nil, prefix, domain.DefaultStreams(), &memoryWriter{}, sink.Config{}, nil, nil)
	require.Error(t, err)
	_, err = sink.NewConsumer(client, prefix, domain.DefaultStreams(), nil, sink.Config{}, nil, nil)
	require.Error(t, err)
	_, err = sink.NewConsumer(client, prefix, nil, &memoryWriter{}, sink.Config{}, nil, nil)
	require.Error(t, err)
}
