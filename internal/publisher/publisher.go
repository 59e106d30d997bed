// Package publisher delivers normalized records onto named message streams.
package publisher

import (
	"context"
	"fmt"
)

// Message field names shared by producers and the sink consumer.
const (
	RecordField      = "record"
	MessageIDField   = "message_id"
	PublishedAtField = "published_at"
)

// Publisher sends one flat record to a named stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, payload map[string]any) error
	Close() error
}

// PublishError reports a record that could not be handed to the broker.
type PublishError struct {
	Stream string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to stream %s: %v", e.Stream, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// StreamKey returns the broker key for a stream, applying an optional prefix.
func StreamKey(prefix, stream string) string {
	if prefix == "" {
		return stream
	}
	return prefix + ":" + stream
}
