package scoring

import (
	"context"
	"sync"
)

// SimilarityModel is an in-process quality model. Its internals are opaque to
// the validator; typical implementations bind a native inference runtime.
type SimilarityModel interface {
	Similarity(payload []byte, prompt string) (float64, error)
}

// Local scores payloads with an in-process model. Inference runtimes are
// rarely reentrant, so calls are serialized; Local is therefore safe for
// concurrent use regardless of the model behind it.
type Local struct {
	mu    sync.Mutex
	model SimilarityModel
}

// NewLocal wraps model into a Scorer.
func NewLocal(model SimilarityModel) *Local {
	return &Local{model: model}
}

// Score implements Scorer.
func (l *Local) Score(_ context.Context, payload []byte, prompt string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.model.Similarity(payload, prompt)
}
