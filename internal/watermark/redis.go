package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

const defaultRedisKey = "traffic-crawler:watermarks"

// RedisStore keeps watermarks as fields of a single Redis hash. HSET on one
// field is atomic, so writers for different streams never interfere.
type RedisStore struct {
	client *redis.Client
	key    string
	log    logger.Logger
}

// NewRedisStore returns a store using the hash at key (a default when empty).
func NewRedisStore(client *redis.Client, key string, log logger.Logger) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RedisStore{client: client, key: key, log: log}
}

// Get returns no watermark, rather than an error, when Redis is unreachable
// or the stored value is unparseable.
func (s *RedisStore) Get(ctx context.Context, stream string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, stream).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		s.log.Warn("Cannot read watermark from redis", logger.Stream(stream), logger.Error(err))
		return time.Time{}, false, nil
	}

	ts, err := domain.ParseTimestamp(raw)
	if err != nil {
		s.log.Warn("Ignoring unparseable watermark",
			logger.Stream(stream),
			logger.String("value", raw),
			logger.Error(err),
		)
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

func (s *RedisStore) Set(ctx context.Context, stream string, ts time.Time) error {
	if err := s.client.HSet(ctx, s.key, stream, domain.FormatTimestamp(ts)).Err(); err != nil {
		return &IOError{Stream: stream, Op: "write", Err: err}
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) (map[string]time.Time, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read watermarks: %w", err)
	}
	out := make(map[string]time.Time, len(values))
	for stream, raw := range values {
		if ts, parseErr := domain.ParseTimestamp(raw); parseErr == nil {
			out[stream] = ts
		}
	}
	return out, nil
}
