// Package mosaic implements the validation round engine for the mosaic
// inference marketplace: on a fixed cadence the validator samples a task,
// fans it out to the queryable miners, scores each response, converts scores
// into a consensus weight distribution, records the round, and submits the
// distribution as a vote to the ledger.
package mosaic

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mosaic-network/go-mosaic/internal/circuitbreaker"
	"github.com/mosaic-network/go-mosaic/internal/clock"
	"github.com/mosaic-network/go-mosaic/miners"
	"github.com/mosaic-network/go-mosaic/rounds"
	"github.com/mosaic-network/go-mosaic/scoring"
)

// Registry resolves the current set of queryable miners. Backed by the chain
// module registry in production.
type Registry interface {
	QueryableMiners(ctx context.Context) ([]miners.Info, error)
}

// SampleSource produces one fresh validation task per round.
type SampleSource interface {
	Sample(ctx context.Context) (miners.SampleInput, error)
}

// Ledger submits consensus weight votes. uids and weightValues are
// index-aligned and of equal length.
type Ledger interface {
	SubmitVote(ctx context.Context, uids []uint64, weightValues []float64) error
}

// GenerationClient issues one generation request to one miner. Implemented by
// *miners.Client; calls must be safe to run concurrently and must report
// failure through the Result rather than blocking past their deadline.
type GenerationClient interface {
	Generate(ctx context.Context, m miners.Info, input miners.SampleInput) miners.Result
}

// Validator runs the validation loop. Construct with New, then Start; the
// loop runs on a single background goroutine until Stop or context
// cancellation. History is readable at any time without blocking an
// in-flight round.
type Validator struct {
	registry Registry
	samples  SampleSource
	ledger   Ledger
	client   GenerationClient
	scorer   scoring.Scorer

	opts        *options
	history     *rounds.History
	voteBreaker *circuitbreaker.CircuitBreaker

	runningCtx context.Context
	cancelCtx  context.CancelFunc
	errgrp     *errgroup.Group

	mu      sync.Mutex
	running bool
}

// New assembles a validator from its collaborators. The scorer backend is
// chosen by the caller once, at construction.
func New(client GenerationClient, scorer scoring.Scorer, registry Registry,
	samples SampleSource, ledger Ledger, o ...Option) (*Validator, error) {
	opts, err := newOptions(o...)
	if err != nil {
		return nil, err
	}
	history := opts.history
	if history == nil {
		history = rounds.NewHistory(opts.historyCapacity)
	}

	runningCtx, cancel := context.WithCancel(context.Background())
	errgrp, runningCtx := errgroup.WithContext(runningCtx)

	return &Validator{
		registry:    registry,
		samples:     samples,
		ledger:      ledger,
		client:      client,
		scorer:      scorer,
		opts:        opts,
		history:     history,
		voteBreaker: circuitbreaker.New(opts.breakerFailures, opts.breakerReset),
		runningCtx:  runningCtx,
		cancelCtx:   cancel,
		errgrp:      errgrp,
	}, nil
}

// Start launches the validation loop. The passed context is used for
// initialization only; the loop runs until Stop. A mock clock embedded in
// startCtx (see internal/clock) drives the scheduler, which keeps the loop
// testable without real sleeps.
func (v *Validator) Start(startCtx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return nil
	}
	v.running = true

	clk := clock.GetClock(startCtx)
	v.errgrp.Go(func() error {
		defer func() {
			v.mu.Lock()
			v.running = false
			v.mu.Unlock()
		}()
		v.run(v.runningCtx, clk)
		return nil
	})
	return nil
}

// Stop terminates the validation loop and waits for it to exit. An in-flight
// round runs to its fan-in barrier before the loop observes cancellation.
func (v *Validator) Stop(context.Context) error {
	v.cancelCtx()
	return v.errgrp.Wait()
}

// IsRunning reports whether the validation loop is active.
func (v *Validator) IsRunning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

// History returns a snapshot of the retained round records, oldest to newest.
func (v *Validator) History() []rounds.Record {
	return v.history.Snapshot()
}

// LatestRound returns the most recent round record, or nil before the first
// scored round.
func (v *Validator) LatestRound() *rounds.Record {
	return v.history.Latest()
}

// run is the scheduler: it alternates between running one round and sleeping
// out the remainder of the target interval. A round that overruns the
// interval is followed immediately by the next one; missed rounds are not
// queued. Nothing a round does can break the loop.
func (v *Validator) run(ctx context.Context, clk clock.Clock) {
	for ctx.Err() == nil {
		start := clk.Now()
		v.step(ctx, clk)
		elapsed := clk.Since(start)

		delay := v.opts.interval - elapsed
		if delay <= 0 {
			log.Debugf("round overran the %s interval by %s, starting next round immediately",
				v.opts.interval, -delay)
			continue
		}
		log.Debugf("sleeping for %s until the next round", delay)
		timer := clk.Timer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
}
