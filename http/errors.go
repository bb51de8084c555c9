package http

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError indicates the server rate limited or refused the request.
type RateLimitError struct {
	// StatusCode is the HTTP status code (429, 403, or 503)
	StatusCode int
	// RetryAfter indicates how long to wait before retrying
	RetryAfter time.Duration
	// IsBotDetection is set for 403 responses
	IsBotDetection bool
}

// Error returns a string representation of the rate limit error.
func (e *RateLimitError) Error() string {
	if e.IsBotDetection {
		return fmt.Sprintf("http: forbidden (status %d)", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("http: rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("http: rate limited (status %d)", e.StatusCode)
}

// HTTPError indicates a non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	// Body holds at most the first KiB of the response body
	Body []byte
}

// Error returns a string representation of the HTTP error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http: status %d", e.StatusCode)
}

// ErrRequestFailed indicates the request itself failed (network error).
var ErrRequestFailed = errors.New("http: request failed")
