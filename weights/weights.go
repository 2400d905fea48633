// Package weights implements the score-to-weight pipeline used to turn raw
// per-miner quality scores into a consensus weight distribution.
//
// The pipeline has two stages. Normalize scales raw scores into [0, 1]
// relative to the best raw score of the round and applies a latency penalty:
//
//	normalized = (raw / maxRaw) / (1 + penalty * elapsedSeconds)
//
// The transform is deterministic, produces only non-negative values, is
// monotonic non-decreasing in the raw score with elapsed held fixed, and
// strictly decreasing in elapsed with the raw score held fixed. Weigh then
// divides each normalized score by the round total so the resulting weights
// lie in [0, 1] and sum to at most 1, suitable for direct submission as
// consensus vote weights. Both stages accumulate sums in ascending UID order
// so identical inputs always produce identical outputs.
package weights

import (
	"slices"
	"time"
)

// DefaultLatencyPenalty is the default per-second latency penalty applied
// during normalization. At 0.1, a one-second response loses about 9% of its
// normalized score relative to an instantaneous one.
const DefaultLatencyPenalty = 0.1

// Scores maps miner UIDs to scores. As raw scores, a value of zero means
// scoring failed or the response was worthless; such miners must be excluded
// before weighting rather than down-weighted.
type Scores map[uint64]float64

// Durations maps miner UIDs to response latency.
type Durations map[uint64]time.Duration

// Weights maps miner UIDs to consensus weights in [0, 1].
type Weights map[uint64]float64

// Normalize converts raw scores and response latencies into normalized
// scores. Miners with a non-positive raw score are dropped. Miners missing
// from elapsed are treated as having responded instantaneously.
func Normalize(raw Scores, elapsed Durations, latencyPenalty float64) Scores {
	if latencyPenalty < 0 {
		latencyPenalty = 0
	}
	var maxRaw float64
	for _, s := range raw {
		if s > maxRaw {
			maxRaw = s
		}
	}
	if maxRaw <= 0 {
		return Scores{}
	}
	normalized := make(Scores, len(raw))
	for uid, s := range raw {
		if s <= 0 {
			continue
		}
		normalized[uid] = (s / maxRaw) / (1 + latencyPenalty*elapsed[uid].Seconds())
	}
	return normalized
}

// Weigh converts normalized scores into a weight distribution summing to at
// most 1. Miners with a non-positive normalized score are dropped; miners
// absent from the input never appear in the output.
func Weigh(normalized Scores) Weights {
	var total float64
	for _, uid := range sortedUIDs(normalized) {
		if s := normalized[uid]; s > 0 {
			total += s
		}
	}
	if total <= 0 {
		return Weights{}
	}
	weights := make(Weights, len(normalized))
	for uid, s := range normalized {
		if s <= 0 {
			continue
		}
		weights[uid] = s / total
	}
	return weights
}

// Entries flattens a weight distribution into index-aligned UID and weight
// slices in ascending UID order, the shape expected by ledger vote
// submission. Zero-weight miners are dropped.
func Entries(w Weights) (uids []uint64, values []float64) {
	for _, uid := range sortedUIDs(Scores(w)) {
		if w[uid] <= 0 {
			continue
		}
		uids = append(uids, uid)
		values = append(values, w[uid])
	}
	return uids, values
}

func sortedUIDs(s Scores) []uint64 {
	uids := make([]uint64, 0, len(s))
	for uid := range s {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	return uids
}
