// Package scoring defines the quality scorer used to judge miner responses,
// with local in-process and remote HTTP backends. The backend is picked once
// at startup by explicit configuration; callers only see the Scorer
// interface.
package scoring

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("mosaic/scoring")

// Scorer computes a similarity score for a generated payload against the
// prompt that produced it. Scores are non-negative; higher is better.
// Implementations must be safe for concurrent use, since the validator scores
// miner responses as they arrive.
type Scorer interface {
	Score(ctx context.Context, payload []byte, prompt string) (float64, error)
}
