// Package domain holds the types shared by the crawl pipeline: stream
// descriptors, record kinds and the canonical timestamp format.
package domain

import (
	"errors"
	"fmt"
)

// Stream names double as output stream names and watermark keys.
const (
	StreamCrashes  = "crashes"
	StreamRedlight = "redlight_cam"
	StreamSpeed    = "speed_cam"
)

// Kind selects the normalizer schema for a stream.
type Kind string

const (
	KindCrash    Kind = "crash"
	KindRedlight Kind = "redlight"
	KindSpeed    Kind = "speed"
)

// ErrUnknownKind is returned for a Kind outside the three known schemas.
var ErrUnknownKind = errors.New("unknown record kind")

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCrash, KindRedlight, KindSpeed:
		return true
	default:
		return false
	}
}

// DefaultPageSize is the Socrata $limit used when a descriptor sets none.
const DefaultPageSize = 50000

// StreamDescriptor ties one crawl target to its dataset. It is built once
// from configuration and never mutated.
type StreamDescriptor struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Kind      Kind   `yaml:"kind"`
	DateField string `yaml:"date_field"`
	PageSize  int    `yaml:"page_size"`
}

// Validate checks that every field needed to crawl is set.
func (d StreamDescriptor) Validate() error {
	switch {
	case d.Name == "":
		return errors.New("stream name is required")
	case d.URL == "":
		return fmt.Errorf("stream %s: url is required", d.Name)
	case !d.Kind.Valid():
		return fmt.Errorf("stream %s: %w %q", d.Name, ErrUnknownKind, d.Kind)
	case d.DateField == "":
		return fmt.Errorf("stream %s: date_field is required", d.Name)
	case d.PageSize < 0:
		return fmt.Errorf("stream %s: page_size must not be negative", d.Name)
	}
	return nil
}

// Limit returns the page size, falling back to DefaultPageSize.
func (d StreamDescriptor) Limit() int {
	if d.PageSize <= 0 {
		return DefaultPageSize
	}
	return d.PageSize
}

// DefaultStreams returns the three Chicago open-data datasets.
func DefaultStreams() []StreamDescriptor {
	return []StreamDescriptor{
		{
			Name:      StreamCrashes,
			URL:       "https://data.cityofchicago.org/resource/85ca-t3if.json",
			Kind:      KindCrash,
			DateField: "crash_date",
			PageSize:  DefaultPageSize,
		},
		{
			Name:      StreamRedlight,
			URL:       "https://data.cityofchicago.org/resource/spqx-js37.json",
			Kind:      KindRedlight,
			DateField: "violation_date",
			PageSize:  DefaultPageSize,
		},
		{
			Name:      StreamSpeed,
			URL:       "https://data.cityofchicago.org/resource/hhkd-xvj4.json",
			Kind:      KindSpeed,
			DateField: "violation_date",
			PageSize:  DefaultPageSize,
		},
	}
}
