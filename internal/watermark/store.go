// Package watermark persists the per-stream crawl boundary: the latest
// record timestamp already published for each stream.
package watermark

import (
	"context"
	"fmt"
	"time"
)

// Store reads and writes stream watermarks. Get reports ok=false when no
// usable watermark exists, including when the backing record is unreadable.
type Store interface {
	Get(ctx context.Context, stream string) (time.Time, bool, error)
	Set(ctx context.Context, stream string, ts time.Time) error
	All(ctx context.Context) (map[string]time.Time, error)
}

// IOError reports a failed watermark write. Reads never produce it.
type IOError struct {
	Stream string
	Op     string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("watermark %s for stream %s: %v", e.Op, e.Stream, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
