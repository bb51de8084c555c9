// Package http provides the HTTP transport used for audio streams and
// thumbnails, with retry, per-host rate limiting and circuit breaking.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"ytmusic/retry"
)

// copyBufferSize is the chunk size of streamed downloads.
const copyBufferSize = 4096

// Client wraps an HTTP client with retry logic and rate limit handling.
type Client struct {
	base           *http.Client
	config         *Config
	rateLimiter    *RateLimiter
	circuitBreaker *CircuitBreaker
}

// Config holds HTTP client configuration.
type Config struct {
	// ResponseHeaderTimeout bounds the wait for response headers. Bodies of
	// streamed downloads are not bounded by any timeout.
	ResponseHeaderTimeout time.Duration

	// Retry applies while a response is being established.
	Retry retry.Config

	// UserAgent is sent unless the request sets its own.
	UserAgent string

	RateLimiter    RateLimiterConfig
	CircuitBreaker CircuitBreakerConfig
	Transport      TransportConfig
}

// TransportConfig configures connection pooling.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	ForceAttemptHTTP2   bool
}

// DefaultConfig returns sensible defaults for HTTP client configuration.
func DefaultConfig() *Config {
	cbConfig := DefaultCircuitBreakerConfig()
	cbConfig.IsTransientError = IsTransientHTTPError

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = 3

	return &Config{
		ResponseHeaderTimeout: 30 * time.Second,
		Retry:                 retryCfg,
		UserAgent:             "ytmusic/1.0",
		RateLimiter:           DefaultRateLimiterConfig(),
		CircuitBreaker:        cbConfig,
		Transport: TransportConfig{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:       cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:     cfg.Transport.ForceAttemptHTTP2,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	return &Client{
		base:           &http.Client{Transport: transport},
		config:         cfg,
		rateLimiter:    NewRateLimiter(cfg.RateLimiter),
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// StandardClient returns the underlying *http.Client for libraries that
// need one. Requests made through it bypass retry and rate limiting.
func (c *Client) StandardClient() *http.Client {
	return c.base
}

// Response represents a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs a GET request with retry logic and reads the whole body.
// Use it for small payloads such as thumbnails.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	resp, err := c.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	key := hostKey(url)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.circuitBreaker.RecordFailure(key, err)
		return nil, fmt.Errorf("read response body: %w", err)
	}
	c.recordSuccess(url)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// ProgressFunc is called after each chunk of a streamed download with the
// bytes written so far and the expected total (0 when unknown). Returning a
// non-nil error aborts the download with that error.
type ProgressFunc func(written, total int64) error

// Stream downloads url into w in 4 KiB chunks. Retries apply only until the
// response is established; a failure mid-body is returned as is. The
// context is checked between chunks.
func (c *Client) Stream(ctx context.Context, url string, w io.Writer, progress ProgressFunc) (int64, error) {
	resp, err := c.open(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write: %w", err)
			}
			written += int64(n)
			if progress != nil {
				if err := progress(written, total); err != nil {
					return written, err
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			c.circuitBreaker.RecordFailure(hostKey(url), readErr)
			return written, fmt.Errorf("read stream: %w", readErr)
		}
	}

	c.recordSuccess(url)
	return written, nil
}

// open establishes a 2xx response for a GET request. The caller owns the body.
func (c *Client) open(ctx context.Context, url string) (*http.Response, error) {
	key := hostKey(url)

	// Fail fast while the host's circuit is open
	if err := c.circuitBreaker.Allow(key); err != nil {
		return nil, err
	}

	var resp *http.Response
	err := retry.Do(ctx, c.config.Retry, c.isRetryableHTTPError, func(ctx context.Context) error {
		if err := c.rateLimiter.WaitForBackoff(ctx, url); err != nil {
			return err
		}
		if err := c.rateLimiter.Wait(ctx, url); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)

		r, err := c.base.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRequestFailed, err)
		}

		switch {
		case r.StatusCode == http.StatusTooManyRequests ||
			r.StatusCode == http.StatusServiceUnavailable ||
			r.StatusCode == http.StatusForbidden:
			r.Body.Close()
			retryAfter := parseRetryAfter(r.Header)
			if recommended := c.rateLimiter.RecordRateLimitError(url, retryAfter); recommended > retryAfter {
				retryAfter = recommended
			}
			return &RateLimitError{
				StatusCode:     r.StatusCode,
				RetryAfter:     retryAfter,
				IsBotDetection: r.StatusCode == http.StatusForbidden,
			}
		case r.StatusCode < 200 || r.StatusCode >= 300:
			body, _ := io.ReadAll(io.LimitReader(r.Body, 1024))
			r.Body.Close()
			return &HTTPError{StatusCode: r.StatusCode, URL: url, Body: body}
		}

		resp = r
		return nil
	})
	if err != nil {
		c.circuitBreaker.RecordFailure(key, err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) recordSuccess(url string) {
	c.rateLimiter.RecordSuccess(url)
	c.circuitBreaker.RecordSuccess(hostKey(url))
}

// isRetryableHTTPError determines if an HTTP error is retryable.
func (c *Client) isRetryableHTTPError(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}

	// A 403 from the stream host usually means the signed URL expired;
	// retrying the same URL does not help.
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return !rateErr.IsBotDetection
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	return true
}

// parseRetryAfter extracts the Retry-After header value, or 0 if absent.
func parseRetryAfter(header http.Header) time.Duration {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}
	return 0
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}
