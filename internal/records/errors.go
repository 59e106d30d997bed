package records

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
)

// MalformedRecordError reports a raw record that cannot be normalized.
// Value holds the offending raw value (nil when the field was absent).
type MalformedRecordError struct {
	Kind  domain.Kind
	Field string
	Value any
	Err   error
}

func (e *MalformedRecordError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("malformed %s record: field %q: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("malformed %s record: field %q value %v: %v", e.Kind, e.Field, e.Value, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}
