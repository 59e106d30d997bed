// Package config loads the traffic-crawler configuration from a YAML file,
// .env files and environment variables.
//
// Precedence, highest first:
//
//  1. environment variables named by `env` struct tags
//  2. .env.local, then .env (or only ENV_FILE when set)
//  3. the YAML file (config.yml, CONFIG_PATH or --config)
//  4. built-in defaults
//
// A missing YAML file is not an error.
package config

import (
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/api"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/archive"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/publisher"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/scheduler"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/sink"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/socrata"
)

// DefaultPath is the config file read when neither CONFIG_PATH nor
// --config is given.
const DefaultPath = "config.yml"

// Backend names.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendAMQP  = "amqp"
)

const (
	defaultWatermarkPath  = "current_date.json"
	defaultMetricsAddress = ":9102"
	defaultRedisAddress   = "localhost:6379"
	defaultStreamPrefix   = "traffic"
)

// Config is the full application configuration.
type Config struct {
	Logging   logger.Config             `yaml:"logging"`
	Socrata   socrata.Config            `yaml:"socrata"`
	Streams   []domain.StreamDescriptor `yaml:"streams"`
	Watermark WatermarkConfig           `yaml:"watermark"`
	Publisher PublisherConfig           `yaml:"publisher"`
	Redis     database.RedisConfig      `yaml:"redis"`
	Database  database.Config           `yaml:"database"`
	Archive   archive.Config            `yaml:"archive"`
	Scheduler scheduler.Config          `yaml:"scheduler"`
	Sink      sink.Config               `yaml:"sink"`
	Server    api.Config                `yaml:"server"`
	Metrics   MetricsConfig             `yaml:"metrics"`
}

// WatermarkConfig selects and configures the watermark store.
type WatermarkConfig struct {
	// Backend is "file" or "redis".
	Backend string `env:"WATERMARK_BACKEND" yaml:"backend"`
	// Path is the JSON file used by the file backend.
	Path string `env:"WATERMARK_PATH" yaml:"path"`
	// RedisKey is the hash used by the redis backend.
	RedisKey string `env:"WATERMARK_REDIS_KEY" yaml:"redis_key"`
}

// PublisherConfig selects and configures the stream publisher.
type PublisherConfig struct {
	// Backend is "redis" or "amqp".
	Backend string                `env:"PUBLISHER_BACKEND" yaml:"backend"`
	Redis   publisher.RedisConfig `yaml:"redis"`
	AMQP    publisher.AMQPConfig  `yaml:"amqp"`
}

// MetricsConfig configures the Prometheus endpoint of long-running commands.
type MetricsConfig struct {
	Address string `env:"METRICS_ADDRESS" yaml:"address"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Scheduler: scheduler.Config{Hour: scheduler.DefaultHour, Minute: scheduler.DefaultMinute},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every unset value.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Socrata.SetDefaults()
	c.Socrata.Retry.SetDefaults()
	if len(c.Streams) == 0 {
		c.Streams = domain.DefaultStreams()
	}
	for i := range c.Streams {
		if c.Streams[i].PageSize == 0 {
			c.Streams[i].PageSize = domain.DefaultPageSize
		}
	}

	if c.Watermark.Backend == "" {
		c.Watermark.Backend = BackendFile
	}
	if c.Watermark.Path == "" {
		c.Watermark.Path = defaultWatermarkPath
	}
	if c.Publisher.Backend == "" {
		c.Publisher.Backend = BackendRedis
	}
	if c.Publisher.Redis.Prefix == "" {
		c.Publisher.Redis.Prefix = defaultStreamPrefix
	}
	if c.Redis.Address == "" {
		c.Redis.Address = defaultRedisAddress
	}

	c.Database.SetDefaults()
	c.Sink.SetDefaults()
	c.Server.SetDefaults()
	if c.Metrics.Address == "" {
		c.Metrics.Address = defaultMetricsAddress
	}
}

// Stream returns the descriptor with the given name.
func (c *Config) Stream(name string) (domain.StreamDescriptor, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return domain.StreamDescriptor{}, false
}
