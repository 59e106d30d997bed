package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the canonical second-precision form used for
// watermarks, query bounds and published record dates.
const TimestampLayout = "2006-01-02T15:04:05"

// parseLayouts are tried in order. Socrata floating timestamps carry
// milliseconds and no zone.
var parseLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatTimestamp renders t in TimestampLayout, dropping sub-second precision.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 date-time into UTC. Values without a
// zone are taken as UTC; zoned values are converted, so the formatted form
// names the same instant.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
