// Package sink consumes the published record streams and persists each
// record into PostgreSQL.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/metrics"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/publisher"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/records"
)

const (
	defaultGroup        = "traffic-sink"
	defaultBlockTimeout = 5 * time.Second
	defaultBatchSize    = 100
	defaultClaimMinIdle = 5 * time.Minute

	// maxPendingCheck caps the pending entries inspected per stream.
	maxPendingCheck = 100

	// readErrorBackoff is the pause after a failed XREADGROUP.
	readErrorBackoff = time.Second
)

// Message outcomes used as the status label of SinkMessages.
const (
	StatusWritten = "written"
	StatusInvalid = "invalid"
	StatusFailed  = "failed"
)

// Writer persists one normalized record.
type Writer interface {
	Upsert(ctx context.Context, rec records.Record) error
}

// Config configures the consumer group.
type Config struct {
	Group      string `env:"SINK_GROUP"       yaml:"group"`
	ConsumerID string `env:"SINK_CONSUMER_ID" yaml:"consumer_id"`
	// BlockTimeout of 0 uses the default; a negative value disables blocking.
	BlockTimeout time.Duration `env:"SINK_BLOCK_TIMEOUT"   yaml:"block_timeout"`
	BatchSize    int64         `env:"SINK_BATCH_SIZE"      yaml:"batch_size"`
	ClaimMinIdle time.Duration `env:"SINK_CLAIM_MIN_IDLE"  yaml:"claim_min_idle"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Group == "" {
		c.Group = defaultGroup
	}
	if c.ConsumerID == "" {
		c.ConsumerID = "sink-" + uuid.NewString()
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = defaultBlockTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = defaultClaimMinIdle
	}
}

// Consumer reads every configured stream through one consumer group and
// acknowledges a message only after it has been written.
type Consumer struct {
	client  *redis.Client
	writer  Writer
	cfg     Config
	streams []streamRef
	metrics *metrics.Metrics
	log     logger.Logger
}

type streamRef struct {
	name string
	key  string
	kind domain.Kind
}

// NewConsumer creates a consumer over the given streams. prefix must match
// the publisher's stream prefix.
func NewConsumer(
	client *redis.Client,
	prefix string,
	streams []domain.StreamDescriptor,
	writer Writer,
	cfg Config,
	m *metrics.Metrics,
	log logger.Logger,
) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if len(streams) == 0 {
		return nil, errors.New("no streams configured")
	}
	if log == nil {
		log = logger.NewNop()
	}
	cfg.SetDefaults()

	refs := make([]streamRef, 0, len(streams))
	for _, s := range streams {
		if !s.Kind.Valid() {
			return nil, fmt.Errorf("stream %s: %w %q", s.Name, domain.ErrUnknownKind, s.Kind)
		}
		refs = append(refs, streamRef{name: s.Name, key: publisher.StreamKey(prefix, s.Name), kind: s.Kind})
	}

	return &Consumer{
		client:  client,
		writer:  writer,
		cfg:     cfg,
		streams: refs,
		metrics: m,
		log:     log.With(logger.String("group", cfg.Group), logger.String("consumer", cfg.ConsumerID)),
	}, nil
}

// Initialize creates the consumer group on every stream, creating the
// streams when needed.
func (c *Consumer) Initialize(ctx context.Context) error {
	for _, s := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, s.key, c.cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group for %s: %w", s.key, err)
		}
	}
	return nil
}

// Run processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	c.log.Info("Sink consumer started", logger.Int("streams", len(c.streams)))

	for {
		if ctx.Err() != nil {
			c.log.Info("Sink consumer stopped")
			return nil
		}
		if _, err := c.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("Sink read failed", logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(readErrorBackoff):
			}
		}
	}
}

// ProcessOnce reclaims stale pending messages, then reads one batch of new
// ones. It returns the number of messages written.
func (c *Consumer) ProcessOnce(ctx context.Context) (int, error) {
	written := 0
	for _, s := range c.streams {
		for _, msg := range c.reclaim(ctx, s) {
			if c.handle(ctx, s, msg) {
				written++
			}
		}
	}

	keys := make([]string, 0, 2*len(c.streams))
	for _, s := range c.streams {
		keys = append(keys, s.key)
	}
	for range c.streams {
		keys = append(keys, ">")
	}

	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.ConsumerID,
		Streams:  keys,
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return written, nil
		}
		return written, fmt.Errorf("failed to read from streams: %w", err)
	}

	for _, xs := range res {
		s, ok := c.byKey(xs.Stream)
		if !ok {
			continue
		}
		for _, msg := range xs.Messages {
			if c.handle(ctx, s, msg) {
				written++
			}
		}
	}
	return written, nil
}

// handle writes one message and reports whether it was persisted.
// Undecodable messages are acknowledged so they are not redelivered forever.
func (c *Consumer) handle(ctx context.Context, s streamRef, msg redis.XMessage) bool {
	log := c.log.With(logger.Stream(s.name), logger.String("message_id", msg.ID))

	rec, err := decode(s.kind, msg)
	if err != nil {
		log.Warn("Dropping undecodable message", logger.Error(err))
		c.metrics.SinkMessage(s.name, StatusInvalid)
		c.ack(ctx, s, msg.ID, log)
		return false
	}

	if err = c.writer.Upsert(ctx, rec); err != nil {
		log.Error("Failed to write record", logger.String("key", rec.Key()), logger.Error(err))
		c.metrics.SinkMessage(s.name, StatusFailed)
		return false
	}

	c.metrics.SinkMessage(s.name, StatusWritten)
	c.ack(ctx, s, msg.ID, log)
	return true
}

func (c *Consumer) ack(ctx context.Context, s streamRef, id string, log logger.Logger) {
	if err := c.client.XAck(ctx, s.key, c.cfg.Group, id).Err(); err != nil {
		log.Warn("Failed to acknowledge message", logger.Error(err))
	}
}

// reclaim claims messages that another consumer left pending for longer
// than ClaimMinIdle.
func (c *Consumer) reclaim(ctx context.Context, s streamRef) []redis.XMessage {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.key,
		Group:  c.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  maxPendingCheck,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("Failed to list pending messages", logger.Stream(s.name), logger.Error(err))
		}
		return nil
	}

	var ids []string
	for _, entry := range pending {
		if entry.Idle >= c.cfg.ClaimMinIdle {
			ids = append(ids, entry.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.key,
		Group:    c.cfg.Group,
		Consumer: c.cfg.ConsumerID,
		MinIdle:  c.cfg.ClaimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		c.log.Warn("Failed to claim pending messages", logger.Stream(s.name), logger.Error(err))
		return nil
	}
	if len(claimed) > 0 {
		c.log.Info("Reclaimed pending messages", logger.Stream(s.name), logger.Int("count", len(claimed)))
	}
	return claimed
}

func (c *Consumer) byKey(key string) (streamRef, bool) {
	for _, s := range c.streams {
		if s.key == key {
			return s, true
		}
	}
	return streamRef{}, false
}

func decode(kind domain.Kind, msg redis.XMessage) (records.Record, error) {
	payload, ok := msg.Values[publisher.RecordField].(string)
	if !ok {
		return nil, fmt.Errorf("missing %q field", publisher.RecordField)
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return records.Normalize(kind, values)
}
