package config

import (
	"errors"
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const maxPort = 65535

// Validate checks the whole configuration and joins every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, message string) {
		errs = append(errs, &ValidationError{Field: field, Message: message})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "must be one of: debug, info, warn, error")
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		add("logging.encoding", "must be one of: json, console")
	}

	if c.Socrata.Retry.MaxAttempts < 1 {
		add("socrata.retry.max_attempts", "must be at least 1")
	}
	if c.Socrata.RequestsPerSecond < 0 {
		add("socrata.requests_per_second", "must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Streams))
	for i, s := range c.Streams {
		field := fmt.Sprintf("streams[%d]", i)
		if err := s.Validate(); err != nil {
			add(field, err.Error())
			continue
		}
		if _, dup := seen[s.Name]; dup {
			add(field, fmt.Sprintf("duplicate stream %q", s.Name))
		}
		seen[s.Name] = struct{}{}
	}

	switch c.Watermark.Backend {
	case BackendFile:
		if c.Watermark.Path == "" {
			add("watermark.path", "is required for the file backend")
		}
	case BackendRedis:
	default:
		add("watermark.backend", "must be one of: file, redis")
	}

	switch c.Publisher.Backend {
	case BackendRedis:
	case BackendAMQP:
		if c.Publisher.AMQP.URL == "" {
			add("publisher.amqp.url", "is required for the amqp backend")
		}
	default:
		add("publisher.backend", "must be one of: redis, amqp")
	}

	if err := c.Scheduler.Validate(); err != nil {
		add("scheduler", err.Error())
	}
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		add("server.port", "must be between 1 and 65535")
	}
	if c.Archive.Enabled && c.Archive.Endpoint == "" {
		add("archive.endpoint", "is required when archive is enabled")
	}

	return errors.Join(errs...)
}
