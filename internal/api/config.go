// Package api serves the read side of the traffic store over HTTP: camera
// violation clusters as GeoJSON, crawl watermarks, health and metrics.
package api

import "time"

// Default timeout values for HTTP server configuration.
const (
	DefaultPort            = 8060
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int `env:"SERVER_PORT" yaml:"port"`

	// Debug enables Gin debug mode.
	Debug bool `env:"SERVER_DEBUG" yaml:"debug"`

	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT"     yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT"    yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT"     yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`

	// AllowedOrigins lists CORS origins; "*" allows any.
	AllowedOrigins []string `env:"SERVER_ALLOWED_ORIGINS" yaml:"allowed_origins"`
}

// SetDefaults applies default values where none are set.
func (c *Config) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
}
