package http

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails requests fast.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probe requests through.
	CircuitHalfOpen
)

// String returns the string representation of a circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit of a host is open.
var ErrCircuitOpen = errors.New("http: circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests is the number of probes allowed while half-open.
	HalfOpenMaxRequests int
	// IsTransientError decides whether an error counts as a failure.
	// If nil, every error counts.
	IsTransientError func(error) bool
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

type circuit struct {
	state             CircuitState
	consecutiveErrors int
	lastStateChange   time.Time
	halfOpenRequests  int
}

// CircuitBreaker tracks consecutive failures per host key and fails fast
// while a host looks down.
type CircuitBreaker struct {
	circuits map[string]*circuit
	mu       sync.Mutex
	config   CircuitBreakerConfig
}

// NewCircuitBreaker creates a circuit breaker, filling unset fields with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	return &CircuitBreaker{circuits: make(map[string]*circuit), config: cfg}
}

func (cb *CircuitBreaker) get(key string) *circuit {
	c, ok := cb.circuits[key]
	if !ok {
		c = &circuit{state: CircuitClosed, lastStateChange: time.Now()}
		cb.circuits[key] = c
	}
	return c
}

// Allow returns nil if a request to key may proceed, ErrCircuitOpen otherwise.
func (cb *CircuitBreaker) Allow(key string) error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case CircuitOpen:
		if time.Since(c.lastStateChange) < cb.config.RecoveryTimeout {
			return ErrCircuitOpen
		}
		// This request is the first probe
		c.state = CircuitHalfOpen
		c.lastStateChange = time.Now()
		c.halfOpenRequests = 1
		return nil
	case CircuitHalfOpen:
		if c.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		c.halfOpenRequests++
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	if c.state == CircuitHalfOpen {
		c.state = CircuitClosed
		c.lastStateChange = time.Now()
		c.halfOpenRequests = 0
	}
	c.consecutiveErrors = 0
}

// RecordFailure counts a transient failure and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure(key string, err error) {
	if cb == nil {
		return
	}
	if cb.config.IsTransientError != nil && !cb.config.IsTransientError(err) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	c.consecutiveErrors++
	switch c.state {
	case CircuitClosed:
		if c.consecutiveErrors >= cb.config.FailureThreshold {
			c.state = CircuitOpen
			c.lastStateChange = time.Now()
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.lastStateChange = time.Now()
	}
}

// State returns the current state of key's circuit.
func (cb *CircuitBreaker) State(key string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[key]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && time.Since(c.lastStateChange) >= cb.config.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return c.state
}

// Reset closes key's circuit.
func (cb *CircuitBreaker) Reset(key string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, key)
}

// IsTransientHTTPError reports whether err should count against a circuit:
// rate limits, 5xx and network errors do, other 4xx and cancellation do not.
func IsTransientHTTPError(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return !rateErr.IsBotDetection
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
