package circuitbreaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mosaic-network/go-mosaic/internal/circuitbreaker"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	const (
		maxFailures  = 3
		resetTimeout = 10 * time.Millisecond
	)

	var (
		failure = errors.New("ledger unreachable")
		succeed = func() error { return nil }
		fail    = func() error { return failure }
		trip    = func(t *testing.T, subject *circuitbreaker.CircuitBreaker) {
			t.Helper()
			for i := 0; i < maxFailures; i++ {
				require.ErrorIs(t, subject.Run(fail), failure)
			}
			require.Equal(t, circuitbreaker.Open, subject.GetStatus())
		}
	)

	t.Run("closed on no error", func(t *testing.T) {
		t.Parallel()
		subject := circuitbreaker.New(maxFailures, resetTimeout)
		require.NoError(t, subject.Run(succeed))
		require.Equal(t, circuitbreaker.Closed, subject.GetStatus())
	})

	t.Run("opens after max failures", func(t *testing.T) {
		t.Parallel()
		subject := circuitbreaker.New(maxFailures, resetTimeout)
		trip(t, subject)
		require.ErrorIs(t, subject.Run(succeed), circuitbreaker.ErrOpen)
		require.Equal(t, circuitbreaker.Open, subject.GetStatus())
	})

	t.Run("probes after reset timeout and closes on success", func(t *testing.T) {
		t.Parallel()
		subject := circuitbreaker.New(maxFailures, resetTimeout)
		trip(t, subject)
		require.Eventually(t, func() bool {
			return !errors.Is(subject.Run(succeed), circuitbreaker.ErrOpen)
		}, resetTimeout*20, resetTimeout/5)
		require.Equal(t, circuitbreaker.Closed, subject.GetStatus())
	})

	t.Run("reopens when probe fails", func(t *testing.T) {
		t.Parallel()
		subject := circuitbreaker.New(maxFailures, resetTimeout)
		trip(t, subject)
		require.Eventually(t, func() bool {
			return errors.Is(subject.Run(fail), failure)
		}, resetTimeout*20, resetTimeout/5)
		require.Equal(t, circuitbreaker.Open, subject.GetStatus())
	})
}
