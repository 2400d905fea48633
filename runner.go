package mosaic

import (
	"cmp"
	"context"
	"errors"
	"math"
	"runtime/debug"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/blake2b"

	"github.com/mosaic-network/go-mosaic/internal/circuitbreaker"
	"github.com/mosaic-network/go-mosaic/internal/clock"
	"github.com/mosaic-network/go-mosaic/miners"
	"github.com/mosaic-network/go-mosaic/rounds"
	"github.com/mosaic-network/go-mosaic/weights"
)

// scoredResult is one miner's surviving contribution to a round: a usable
// payload with a positive raw score.
type scoredResult struct {
	uid      uint64
	rawScore float64
	entry    rounds.Entry
}

// step runs one validation round. It never returns an error and never
// panics: every failure mode degrades to "skip this round's contribution".
// The recover here is the loop's outermost fault boundary; within the round,
// failures travel as data.
func (v *Validator) step(ctx context.Context, clk clock.Clock) {
	start := clk.Now()
	outcome := "completed"
	defer func() {
		if perr := recover(); perr != nil {
			outcome = "panicked"
			log.Errorf("validation round panicked: %v\n%s", perr, string(debug.Stack()))
		}
		metrics.rounds.Add(ctx, 1, metric.WithAttributes(attrOutcome.String(outcome)))
		metrics.roundDuration.Record(ctx, clk.Since(start).Milliseconds())
	}()

	queryable, err := v.registry.QueryableMiners(ctx)
	if err != nil {
		outcome = "registry_failed"
		log.Errorf("failed to resolve queryable miners: %v", err)
		return
	}
	if len(queryable) == 0 {
		outcome = "no_miners"
		log.Info("no queryable miners, skipping round")
		return
	}

	input, err := v.samples.Sample(ctx)
	if err != nil {
		outcome = "sampling_failed"
		log.Errorf("failed to sample validation input: %v", err)
		return
	}
	log.Debugf("starting validation round: %d miners, prompt %q", len(queryable), input.Prompt)

	scored := v.fanOut(ctx, queryable, input)
	if len(scored) == 0 {
		outcome = "empty"
		log.Info("no scorable responses, skipping vote")
		return
	}

	rawScores := make(weights.Scores, len(scored))
	durations := make(weights.Durations, len(scored))
	for _, s := range scored {
		rawScores[s.uid] = s.rawScore
		durations[s.uid] = s.entry.Elapsed
	}
	normalized := weights.Normalize(rawScores, durations, v.opts.latencyPenalty)
	weighted := weights.Weigh(normalized)

	record := rounds.Record{Time: clk.Now(), Entries: make([]rounds.Entry, 0, len(scored))}
	for _, s := range scored {
		entry := s.entry
		entry.NormalizedScore = normalized[s.uid]
		entry.Weight = weighted[s.uid]
		record.Entries = append(record.Entries, entry)
	}
	slices.SortFunc(record.Entries, func(a, b rounds.Entry) int {
		return cmp.Compare(a.UID, b.UID)
	})
	if err := v.history.Append(ctx, record); err != nil {
		// The in-memory history is updated regardless; only persistence
		// can fail here.
		log.Errorf("failed to persist round record: %v", err)
	}

	uids, values := weights.Entries(weighted)
	if len(uids) == 0 {
		outcome = "all_weights_zero"
		log.Info("all weights zero, skipping vote")
		return
	}
	v.submitVote(ctx, uids, values)
}

// fanOut queries every miner concurrently and scores each response as it
// arrives. The call returns once every miner has answered or timed out; its
// wall-clock cost is bounded by the slowest call, not the sum. Miners that
// fail, time out, or score zero are dropped and logged, never retried within
// the round.
func (v *Validator) fanOut(ctx context.Context, queryable []miners.Info, input miners.SampleInput) []scoredResult {
	metrics.minersQueried.Add(ctx, int64(len(queryable)))

	results := make([]*scoredResult, len(queryable))
	var wg sync.WaitGroup
	for i, m := range queryable {
		wg.Add(1)
		go func(i int, m miners.Info) {
			defer wg.Done()
			res := v.client.Generate(ctx, m, input)
			if !res.OK() {
				metrics.minersExcluded.Add(ctx, 1, metric.WithAttributes(attrOutcome.String("no_answer")))
				log.Debugf("skipping miner %d: no answer: %v", m.UID, res.Err)
				return
			}
			rawScore := v.calculateScore(ctx, res.Payload, input.Prompt)
			if rawScore == 0 {
				metrics.minersExcluded.Add(ctx, 1, metric.WithAttributes(attrOutcome.String("zero_score")))
				log.Debugf("skipping miner %d: score is 0", m.UID)
				return
			}
			log.Debugf("miner %d scored %f in %s", m.UID, rawScore, res.Elapsed)
			digest := blake2b.Sum256(res.Payload)
			results[i] = &scoredResult{
				uid:      m.UID,
				rawScore: rawScore,
				entry: rounds.Entry{
					UID:           m.UID,
					RawScore:      rawScore,
					Elapsed:       res.Elapsed,
					PayloadDigest: digest[:],
				},
			}
		}(i, m)
	}
	wg.Wait()

	scored := make([]scoredResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			scored = append(scored, *r)
		}
	}
	return scored
}

// calculateScore converts scorer failures into a zero score, which excludes
// the miner from the round rather than aborting it.
func (v *Validator) calculateScore(ctx context.Context, payload []byte, prompt string) float64 {
	score, err := v.scorer.Score(ctx, payload, prompt)
	if err != nil {
		log.Debugf("scoring failed: %v", err)
		return 0
	}
	if score < 0 || math.IsNaN(score) || math.IsInf(score, 0) {
		log.Warnf("scorer returned unusable score %f, treating as 0", score)
		return 0
	}
	return score
}

// submitVote submits the weight distribution to the ledger behind the vote
// circuit breaker. Failures are logged and left for the next scheduled round.
func (v *Validator) submitVote(ctx context.Context, uids []uint64, values []float64) {
	err := v.voteBreaker.Run(func() error {
		return v.ledger.SubmitVote(ctx, uids, values)
	})
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.votes.Add(ctx, 1, metric.WithAttributes(attrOutcome.String("skipped")))
		log.Warnf("vote submission skipped: %v", err)
	case err != nil:
		metrics.votes.Add(ctx, 1, metric.WithAttributes(attrOutcome.String("failed")))
		log.Errorf("failed to submit vote for %d miners: %v", len(uids), err)
	default:
		metrics.votes.Add(ctx, 1, metric.WithAttributes(attrOutcome.String("submitted")))
		log.Infof("submitted vote for %d miners", len(uids))
	}
}
