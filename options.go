package mosaic

import (
	"errors"
	"time"

	"github.com/mosaic-network/go-mosaic/rounds"
	"github.com/mosaic-network/go-mosaic/weights"
)

var (
	defaultInterval        = 60 * time.Second
	defaultHistoryCapacity = rounds.DefaultCapacity
	defaultLatencyPenalty  = weights.DefaultLatencyPenalty
	defaultBreakerFailures = 3
	defaultBreakerReset    = 2 * time.Minute
)

// Option represents a configurable parameter of the validator.
type Option func(*options) error

type options struct {
	interval        time.Duration
	historyCapacity int
	latencyPenalty  float64
	history         *rounds.History

	breakerFailures int
	breakerReset    time.Duration
}

func newOptions(o ...Option) (*options, error) {
	opts := &options{
		interval:        defaultInterval,
		historyCapacity: defaultHistoryCapacity,
		latencyPenalty:  defaultLatencyPenalty,
		breakerFailures: defaultBreakerFailures,
		breakerReset:    defaultBreakerReset,
	}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// WithInterval sets the target cadence between round starts. Defaults to 60
// seconds. If a round overruns the interval the next one starts immediately;
// missed rounds are never queued.
func WithInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("iteration interval must be positive")
		}
		o.interval = d
		return nil
	}
}

// WithHistoryCapacity sets how many round records are retained. Defaults to
// rounds.DefaultCapacity. Ignored when WithHistory supplies a history.
func WithHistoryCapacity(capacity int) Option {
	return func(o *options) error {
		if capacity <= 0 {
			return errors.New("history capacity must be positive")
		}
		o.historyCapacity = capacity
		return nil
	}
}

// WithHistory supplies a pre-built round history, typically a persistent one.
func WithHistory(h *rounds.History) Option {
	return func(o *options) error {
		if h == nil {
			return errors.New("history cannot be nil")
		}
		o.history = h
		return nil
	}
}

// WithLatencyPenalty sets the per-second latency penalty applied during score
// normalization. Defaults to weights.DefaultLatencyPenalty. Zero disables the
// penalty.
func WithLatencyPenalty(penalty float64) Option {
	return func(o *options) error {
		if penalty < 0 {
			return errors.New("latency penalty cannot be negative")
		}
		o.latencyPenalty = penalty
		return nil
	}
}

// WithVoteCircuitBreaker tunes the breaker guarding ledger vote submission:
// maxFailures consecutive failures open it, and it half-opens after
// resetTimeout.
func WithVoteCircuitBreaker(maxFailures int, resetTimeout time.Duration) Option {
	return func(o *options) error {
		if maxFailures <= 0 {
			return errors.New("breaker max failures must be positive")
		}
		if resetTimeout <= 0 {
			return errors.New("breaker reset timeout must be positive")
		}
		o.breakerFailures = maxFailures
		o.breakerReset = resetTimeout
		return nil
	}
}
