package openfront

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPayload means the body was not JSON of the expected shape. Retrying cannot fix it.
var ErrInvalidPayload = errors.New("openfront: invalid payload")

// StatusError is a non-2xx response that was surfaced to the caller.
type StatusError struct {
	Status     int
	RetryAfter time.Duration // set for 429 when the server advertised it
	URL        string
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("openfront: %s returned %d (retry after %s)", e.URL, e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("openfront: %s returned %d", e.URL, e.Status)
}

// Transient reports whether the status is retried internally.
func (e *StatusError) Transient() bool { return e.Status >= 500 }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func IsNotFound(err error) bool    { return StatusOf(err) == http.StatusNotFound }
func IsRateLimited(err error) bool { return StatusOf(err) == http.StatusTooManyRequests }

// RetryAfterHint returns the advertised delay of a 429, or 0.
func RetryAfterHint(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusTooManyRequests {
		return se.RetryAfter
	}
	return 0
}

func parseRetryAfter(hdr http.Header) time.Duration {
	v := strings.TrimSpace(hdr.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
		return time.Duration(n * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
