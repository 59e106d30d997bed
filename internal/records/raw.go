package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
)

var (
	errMissing     = errors.New("required field is missing")
	errNotNumeric  = errors.New("not a number")
	errNotIntegral = errors.New("not an integer")
	errOutOfRange  = errors.New("integer out of range")
)

// raw wraps one decoded Socrata object. Socrata encodes numbers as JSON
// strings, so numeric accessors accept either form; an empty string or a
// JSON null counts as absent.
type raw struct {
	kind   domain.Kind
	values map[string]any
}

func (r raw) malformed(field string, value any, err error) error {
	return &MalformedRecordError{Kind: r.kind, Field: field, Value: value, Err: err}
}

func (r raw) lookup(field string) (any, bool) {
	v, ok := r.values[field]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

func (r raw) optString(field string) *string {
	v, ok := r.lookup(field)
	if !ok {
		return nil
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		s = val.String()
	default:
		s = fmt.Sprint(val)
	}
	return &s
}

func (r raw) stringOr(field, def string) string {
	if s := r.optString(field); s != nil {
		return *s
	}
	return def
}

func (r raw) optFloat(field string) (*float64, error) {
	v, ok := r.lookup(field)
	if !ok {
		return nil, nil
	}
	var (
		f   float64
		err error
	)
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		f, err = val.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
	default:
		err = errNotNumeric
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, r.malformed(field, v, errNotNumeric)
	}
	return &f, nil
}

func (r raw) optInt(field string) (*int64, error) {
	v, ok := r.lookup(field)
	if !ok {
		return nil, nil
	}
	switch val := v.(type) {
	case int:
		n := int64(val)
		return &n, nil
	case int64:
		return &val, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return &n, nil
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return &n, nil
		}
	}
	f, err := r.optFloat(field)
	if err != nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, r.malformed(field, v, errNotIntegral)
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	if *f < math.MinInt64 || *f >= math.MaxInt64 {
		return nil, r.malformed(field, v, errOutOfRange)
	}
	n := int64(*f)
	return &n, nil
}

func (r raw) floatOr(field string, def float64) (float64, error) {
	f, err := r.optFloat(field)
	if err != nil || f == nil {
		return def, err
	}
	return *f, nil
}

func (r raw) intOr(field string, def int64) (int64, error) {
	n, err := r.optInt(field)
	if err != nil || n == nil {
		return def, err
	}
	return *n, nil
}

func (r raw) timestamp(field string) (time.Time, error) {
	v, ok := r.lookup(field)
	if !ok {
		return time.Time{}, r.malformed(field, nil, errMissing)
	}
	s, isString := v.(string)
	if !isString {
		return time.Time{}, r.malformed(field, v, errors.New("timestamp must be a string"))
	}
	t, err := domain.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, r.malformed(field, v, err)
	}
	return t, nil
}
