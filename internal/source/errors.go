package source

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformed marks a response body that could not be decoded.
	ErrMalformed = errors.New("malformed response")
	// ErrDisallowed marks a scrape target forbidden by the site's robots.txt.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	// RetryAfter is the server hint from a Retry-After header, zero if absent.
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

// Malformed wraps a decode error with ErrMalformed.
func Malformed(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", what, ErrMalformed)
	}
	return fmt.Errorf("%s: %w: %v", what, ErrMalformed, err)
}

func newHTTPError(resp *http.Response, now time.Time) *HTTPError {
	return &HTTPError{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
	}
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
