package http

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:    3,
		RecoveryTimeout:     20 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	})
	key := StreamHost
	testErr := errors.New("test error")

	if cb.State(key) != CircuitClosed || cb.Allow(key) != nil {
		t.Fatal("new circuit should be closed and allow requests")
	}

	cb.RecordFailure(key, testErr)
	cb.RecordFailure(key, testErr)
	if cb.State(key) != CircuitClosed {
		t.Error("circuit should still be closed after 2 failures")
	}
	cb.RecordFailure(key, testErr)
	if cb.State(key) != CircuitOpen {
		t.Error("circuit should be open after 3 failures")
	}
	if err := cb.Allow(key); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() on open circuit = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State(key) != CircuitHalfOpen {
		t.Errorf("state after recovery timeout = %v, want half-open", cb.State(key))
	}
	if err := cb.Allow(key); err != nil {
		t.Errorf("first probe rejected: %v", err)
	}
	if err := cb.Allow(key); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe = %v, want ErrCircuitOpen", err)
	}

	cb.RecordSuccess(key)
	if cb.State(key) != CircuitClosed {
		t.Errorf("state after successful probe = %v, want closed", cb.State(key))
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	cb.RecordFailure("h", errors.New("x"))
	time.Sleep(20 * time.Millisecond)
	cb.Allow("h")
	cb.RecordFailure("h", errors.New("x"))
	if cb.State("h") != CircuitOpen {
		t.Errorf("state = %v, want open", cb.State("h"))
	}
	cb.Reset("h")
	if cb.State("h") != CircuitClosed {
		t.Errorf("state after reset = %v, want closed", cb.State("h"))
	}
}

func TestCircuitBreakerIgnoresPermanentErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, IsTransientError: IsTransientHTTPError})
	cb.RecordFailure("h", &HTTPError{StatusCode: 404})
	cb.RecordFailure("h", context.Canceled)
	if cb.State("h") != CircuitClosed {
		t.Errorf("permanent errors opened the circuit")
	}
	cb.RecordFailure("h", &HTTPError{StatusCode: 503})
	if cb.State("h") != CircuitOpen {
		t.Errorf("transient error did not open the circuit")
	}
}

func TestIsTransientHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&RateLimitError{StatusCode: 429}, true},
		{&RateLimitError{StatusCode: 403, IsBotDetection: true}, false},
		{&HTTPError{StatusCode: 500}, true},
		{&HTTPError{StatusCode: 404}, false},
		{fmt.Errorf("wrapped: %w", &HTTPError{StatusCode: 502}), true},
		{errors.New("connection reset"), true},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			if got := IsTransientHTTPError(tt.err); got != tt.want {
				t.Errorf("IsTransientHTTPError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCircuitStateString(t *testing.T) {
	for state, want := range map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(99): "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
