// Package circuitbreaker implements a minimal circuit breaker used to guard
// repeated calls to an unreliable remote, such as ledger vote submission.
// After maxFailures consecutive failures the circuit opens and calls are
// rejected outright with ErrOpen until resetTimeout has elapsed, at which
// point a single probe attempt is allowed.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	Closed Status = iota
	Open
	HalfOpen
)

// ErrOpen signals that the circuit is open and no attempt was made.
var ErrOpen = errors.New("circuit breaker is open")

type Status int

type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	// mu guards failures, lastFailure and status.
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	status      Status
}

// New creates a CircuitBreaker that opens after maxFailures consecutive
// failed attempts and half-opens once resetTimeout has passed since the
// failure that tripped it.
func New(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Run executes attempt under the breaker. While the circuit is open and the
// reset timeout has not elapsed, Run returns ErrOpen without calling attempt.
// Otherwise the attempt runs: an error counts towards tripping the circuit,
// success closes it and clears the failure count.
func (cb *CircuitBreaker) Run(attempt func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.status {
	case Open:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return ErrOpen
		}
		// Enough time has passed; allow one probe attempt.
		cb.status = HalfOpen
		fallthrough
	case HalfOpen, Closed:
		if err := attempt(); err != nil {
			cb.failures++
			if cb.failures >= cb.maxFailures {
				cb.status = Open
				cb.lastFailure = time.Now()
			}
			return err
		}
		cb.status = Closed
		cb.failures = 0
		return nil
	default:
		return fmt.Errorf("unknown status: %d", cb.status)
	}
}

// GetStatus returns the current status of the breaker.
func (cb *CircuitBreaker) GetStatus() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.status
}
