package http

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Host keys group hosts that share a rate budget.
const (
	// StreamHost covers the *.googlevideo.com media servers.
	StreamHost = "googlevideo.com"
	// ThumbnailHost covers the *.ytimg.com image servers.
	ThumbnailHost = "ytimg.com"
	// DataAPIHost covers www.googleapis.com.
	DataAPIHost = "googleapis.com"
)

// Dynamic backoff tuning
const (
	InitialRateLimitBackoff = 1 * time.Second
	MaxRateLimitBackoff     = 60 * time.Second
	RateLimitBackoffFactor  = 2.0
	// BackoffCooldownPeriod is how long after the last error before backoff resets
	BackoffCooldownPeriod = 5 * time.Minute
	// MinRPSMultiplier is the floor of rate reduction (0.25 = 25% of original)
	MinRPSMultiplier = 0.25
)

// RateLimiterConfig defines rate limiting behavior.
type RateLimiterConfig struct {
	// StreamRPS limits requests to media servers. Chunked stream fetches are
	// frequent, so this is generous.
	StreamRPS float64
	// ThumbnailRPS limits thumbnail fetches.
	ThumbnailRPS float64
	// DataAPIRPS limits YouTube Data API calls.
	DataAPIRPS float64
	// DefaultRPS applies to any other host. 0 means unlimited.
	DefaultRPS float64
	// CustomRates maps host keys to RPS values, overriding the above
	CustomRates map[string]float64
	// EnableDynamicBackoff reduces the rate of a host after rate limit errors
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		StreamRPS:            20.0,
		ThumbnailRPS:         5.0,
		DataAPIRPS:           1.0,
		DefaultRPS:           0,
		CustomRates:          make(map[string]float64),
		EnableDynamicBackoff: true,
	}
}

// BackoffState tracks rate limit backoff for a host key.
type BackoffState struct {
	CurrentBackoff    time.Duration
	LastError         time.Time
	ConsecutiveErrors int
	// OriginalRPS is the configured rate to restore after cooldown
	OriginalRPS float64
	// ReducedRPS is the current reduced rate (0 means using original)
	ReducedRPS float64
}

// RateLimiter applies a token bucket per host key.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	backoffState map[string]*BackoffState
	mu           sync.RWMutex
	config       RateLimiterConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.CustomRates == nil {
		cfg.CustomRates = make(map[string]float64)
	}
	return &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		backoffState: make(map[string]*BackoffState),
		config:       cfg,
	}
}

// hostKey maps a URL to the key its rate budget and circuit are tracked under.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	for _, group := range []string{StreamHost, ThumbnailHost, DataAPIHost} {
		if host == group || strings.HasSuffix(host, "."+group) {
			return group
		}
	}
	return host
}

// rps returns the configured rate for a host key. Caller holds mu.
func (rl *RateLimiter) rps(key string) float64 {
	if v, ok := rl.config.CustomRates[key]; ok {
		return v
	}
	switch key {
	case StreamHost:
		return rl.config.StreamRPS
	case ThumbnailHost:
		return rl.config.ThumbnailRPS
	case DataAPIHost:
		return rl.config.DataAPIRPS
	default:
		return rl.config.DefaultRPS
	}
}

// limiter returns the token bucket for key, or nil when the key is unlimited.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[key]; ok {
		return l
	}
	rps := rl.rps(key)
	if rps <= 0 {
		return nil
	}
	l := rate.NewLimiter(rate.Limit(rps), 1)
	rl.limiters[key] = l
	return l
}

// Wait blocks until the rate limit allows a request for url.
func (rl *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	if rl == nil {
		return nil
	}
	l := rl.limiter(hostKey(rawURL))
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// SetCustomRate overrides the rate of a host key.
func (rl *RateLimiter) SetCustomRate(key string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.config.CustomRates[key] = rps
	delete(rl.limiters, key)
}

// RecordRateLimitError updates backoff state after a 429/403/503 response and
// returns the recommended wait before the next request.
func (rl *RateLimiter) RecordRateLimitError(rawURL string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		if retryAfter > 0 {
			return retryAfter
		}
		return InitialRateLimitBackoff
	}

	key := hostKey(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoffState[key]
	if !ok {
		state = &BackoffState{CurrentBackoff: InitialRateLimitBackoff, OriginalRPS: rl.rps(key)}
		rl.backoffState[key] = state
	}
	state.LastError = time.Now()
	state.ConsecutiveErrors++

	// 1s → 2s → 4s → ... → max
	if state.ConsecutiveErrors > 1 {
		state.CurrentBackoff = time.Duration(float64(state.CurrentBackoff) * RateLimitBackoffFactor)
		if state.CurrentBackoff > MaxRateLimitBackoff {
			state.CurrentBackoff = MaxRateLimitBackoff
		}
	}
	if retryAfter > state.CurrentBackoff {
		state.CurrentBackoff = retryAfter
	}

	// 1 error: 75%, 2 errors: 50%, 3+ errors: 25%
	factor := MinRPSMultiplier
	switch state.ConsecutiveErrors {
	case 1:
		factor = 0.75
	case 2:
		factor = 0.5
	}
	if state.OriginalRPS > 0 {
		state.ReducedRPS = state.OriginalRPS * factor
		if l, ok := rl.limiters[key]; ok {
			l.SetLimit(rate.Limit(state.ReducedRPS))
		}
	}

	return state.CurrentBackoff
}

// RecordSuccess relaxes backoff state after a successful request.
func (rl *RateLimiter) RecordSuccess(rawURL string) {
	if rl == nil || !rl.config.EnableDynamicBackoff {
		return
	}

	key := hostKey(rawURL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.backoffState[key]
	if !ok {
		return
	}

	if time.Since(state.LastError) > BackoffCooldownPeriod {
		if l, ok := rl.limiters[key]; ok && state.ReducedRPS > 0 {
			l.SetLimit(rate.Limit(state.OriginalRPS))
		}
		delete(rl.backoffState, key)
		return
	}

	if state.ConsecutiveErrors > 0 {
		state.ConsecutiveErrors--
		// Recover to 50% of original now, full rate after cooldown
		if state.ConsecutiveErrors == 0 && state.ReducedRPS > 0 {
			if half := state.OriginalRPS * 0.5; half > state.ReducedRPS {
				state.ReducedRPS = half
				if l, ok := rl.limiters[key]; ok {
					l.SetLimit(rate.Limit(half))
				}
			}
		}
	}
}

// Backoff returns a copy of the backoff state for url's host key, or nil.
func (rl *RateLimiter) Backoff(rawURL string) *BackoffState {
	if rl == nil {
		return nil
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if state, ok := rl.backoffState[hostKey(rawURL)]; ok {
		cp := *state
		return &cp
	}
	return nil
}

// WaitForBackoff waits out the current backoff period of url's host key.
func (rl *RateLimiter) WaitForBackoff(ctx context.Context, rawURL string) error {
	state := rl.Backoff(rawURL)
	if state == nil {
		return nil
	}
	remaining := state.CurrentBackoff - time.Since(state.LastError)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
