package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

// defaultMaxStreamLen bounds each stream so an absent consumer cannot grow
// it without limit. Trimming is approximate.
const defaultMaxStreamLen = 1_000_000

// RedisConfig configures the Redis Streams publisher.
type RedisConfig struct {
	// Prefix is prepended to stream names as "<prefix>:<stream>".
	Prefix       string `env:"PUBLISHER_STREAM_PREFIX" yaml:"prefix"`
	MaxStreamLen int64  `env:"PUBLISHER_MAX_STREAM_LEN" yaml:"max_stream_len"`
}

// RedisStreamPublisher appends records to Redis Streams with XADD.
type RedisStreamPublisher struct {
	client *redis.Client
	prefix string
	maxLen int64
	log    logger.Logger
	now    func() time.Time
}

// NewRedisStreamPublisher returns nil when client is nil. A nil publisher
// accepts and discards every record.
func NewRedisStreamPublisher(client *redis.Client, cfg RedisConfig, log logger.Logger) *RedisStreamPublisher {
	if client == nil {
		return nil
	}
	if log == nil {
		log = logger.NewNop()
	}
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}
	return &RedisStreamPublisher{
		client: client,
		prefix: cfg.Prefix,
		maxLen: maxLen,
		log:    log,
		now:    time.Now,
	}
}

// Publish adds one message carrying the JSON-encoded record.
func (p *RedisStreamPublisher) Publish(ctx context.Context, stream string, payload map[string]any) error {
	if p == nil || p.client == nil {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &PublishError{Stream: stream, Err: fmt.Errorf("marshal record: %w", err)}
	}

	key := StreamKey(p.prefix, stream)
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			RecordField:      string(body),
			MessageIDField:   uuid.NewString(),
			PublishedAtField: p.now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		p.log.Error("Failed to publish record",
			logger.Stream(stream),
			logger.String("key", key),
			logger.Error(err),
		)
		return &PublishError{Stream: stream, Err: err}
	}

	p.log.Debug("Published record", logger.Stream(stream), logger.String("stream_id", id))
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (p *RedisStreamPublisher) Close() error {
	return nil
}
