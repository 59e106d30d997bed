package socrata

import (
	"errors"
	"fmt"
	"net/http"
)

const maxErrorBody = 512

// ErrDecode marks a 2xx response whose body is not a JSON array of objects.
var ErrDecode = errors.New("decode page")

// FetchError reports a failed page request. StatusCode is zero when no
// HTTP response was received.
type FetchError struct {
	Stream     string
	URL        string
	Offset     int
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s at offset %d: unexpected status %d: %s",
			e.Stream, e.Offset, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("fetch %s at offset %d: %v", e.Stream, e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the request may succeed. Only
// transport errors, 429 and 5xx qualify.
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return e.Err != nil && !errors.Is(e.Err, ErrDecode)
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= http.StatusInternalServerError
	}
}

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
