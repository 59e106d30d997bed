// Package common provides shared utilities for command implementations.
package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/archive"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/config"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/crawler"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/metrics"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/publisher"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/socrata"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/watermark"
)

// ServiceName is attached to every log line.
const ServiceName = "traffic-crawler"

// Version is set at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

// Viper keys shared by the root command and subcommands.
const (
	KeyConfig = "config"
	KeyDebug  = "debug"
)

// ErrUnknownStream is returned when a command names a stream that is not configured.
var ErrUnknownStream = errors.New("unknown stream")

// CommandDeps holds the configuration and logger every command needs, plus
// lazily opened connections that Close releases.
type CommandDeps struct {
	Config *config.Config
	Logger logger.Logger

	redis   *redis.Client
	db      *sqlx.DB
	closers []func() error
}

// NewCommandDeps loads the configuration and builds the logger.
func NewCommandDeps() (*CommandDeps, error) {
	path := viper.GetString(KeyConfig)
	if path == "" {
		path = config.GetConfigPath(config.DefaultPath)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if viper.GetBool(KeyDebug) {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
		cfg.Server.Debug = true
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &CommandDeps{
		Config: cfg,
		Logger: log.With(logger.String("service", ServiceName)),
	}, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Close releases every connection opened through d, in reverse order.
func (d *CommandDeps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.Warn("Failed to close resource", logger.Error(err))
		}
	}
	d.closers = nil
	_ = d.Logger.Sync()
}

// Redis returns the shared Redis client, connecting on first use.
func (d *CommandDeps) Redis(ctx context.Context) (*redis.Client, error) {
	if d.redis != nil {
		return d.redis, nil
	}
	client, err := database.NewRedisClient(ctx, d.Config.Redis)
	if err != nil {
		return nil, err
	}
	d.redis = client
	d.closers = append(d.closers, client.Close)
	return client, nil
}

// Database returns the shared PostgreSQL pool, connecting on first use.
func (d *CommandDeps) Database(ctx context.Context) (*sqlx.DB, error) {
	if d.db != nil {
		return d.db, nil
	}
	db, err := database.NewPostgresConnection(ctx, d.Config.Database)
	if err != nil {
		return nil, err
	}
	d.db = db
	d.closers = append(d.closers, db.Close)
	return db, nil
}

// WatermarkStore builds the configured watermark backend.
func (d *CommandDeps) WatermarkStore(ctx context.Context) (watermark.Store, error) {
	switch d.Config.Watermark.Backend {
	case config.BackendRedis:
		client, err := d.Redis(ctx)
		if err != nil {
			return nil, fmt.Errorf("watermark store: %w", err)
		}
		return watermark.NewRedisStore(client, d.Config.Watermark.RedisKey, d.Logger), nil
	default:
		return watermark.NewFileStore(d.Config.Watermark.Path, d.Logger), nil
	}
}

// Publisher builds the configured stream publisher.
func (d *CommandDeps) Publisher(ctx context.Context) (publisher.Publisher, error) {
	switch d.Config.Publisher.Backend {
	case config.BackendAMQP:
		pub, err := publisher.NewAMQPPublisher(d.Config.Publisher.AMQP, d.Logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pub.Close)
		return pub, nil
	default:
		client, err := d.Redis(ctx)
		if err != nil {
			return nil, fmt.Errorf("publisher: %w", err)
		}
		return publisher.NewRedisStreamPublisher(client, d.Config.Publisher.Redis, d.Logger), nil
	}
}

// Streams returns the configured descriptors, restricted to names when given.
func (d *CommandDeps) Streams(names []string) ([]domain.StreamDescriptor, error) {
	if len(names) == 0 {
		return d.Config.Streams, nil
	}
	selected := make([]domain.StreamDescriptor, 0, len(names))
	for _, name := range names {
		desc, ok := d.Config.Stream(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
		}
		selected = append(selected, desc)
	}
	return selected, nil
}

// NewRunner wires the fetcher, publisher, watermark store and archiver into
// a crawl runner for the selected streams.
func (d *CommandDeps) NewRunner(ctx context.Context, streams []domain.StreamDescriptor, m *metrics.Metrics) (*crawler.Runner, error) {
	store, err := d.WatermarkStore(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := d.Publisher(ctx)
	if err != nil {
		return nil, err
	}
	arch, err := archive.New(ctx, d.Config.Archive, d.Logger)
	if err != nil {
		return nil, err
	}

	client := socrata.NewClient(d.Config.Socrata, d.Logger)
	return crawler.NewRunner(streams, crawler.Deps{
		Fetcher:   crawler.SocrataFetcher(client),
		Publisher: pub,
		Store:     store,
		Archiver:  arch,
		Metrics:   m,
		Logger:    d.Logger,
	})
}

// NewMetrics returns collectors registered on a fresh registry that also
// carries the Go runtime and process collectors.
func NewMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}
