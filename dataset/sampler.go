// Package dataset provides the validation task source: a corpus of prompts
// from which each round samples one generation task.
package dataset

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/mosaic-network/go-mosaic/miners"
)

// DefaultSteps is the generation-effort parameter attached to every sampled
// task.
const DefaultSteps = 4

// defaultPrompts is a small built-in corpus used when no custom prompts are
// configured.
var defaultPrompts = []string{
	"a lighthouse on a cliff at dusk, oil painting",
	"a red bicycle leaning against a brick wall",
	"an astronaut riding a horse on the moon",
	"a bowl of ramen with steam rising, studio lighting",
	"a fox sleeping under a maple tree in autumn",
	"a steam locomotive crossing a stone viaduct",
	"a watercolor of a rainy street market in hanoi",
	"a low-poly render of a mountain lake at sunrise",
	"a close-up photograph of a honeybee on a sunflower",
	"a medieval castle reflected in a moat, foggy morning",
	"a cyberpunk alley lit by neon signs",
	"a sailboat regatta seen from above",
	"a library with towering bookshelves and ladders",
	"a snow leopard walking along a ridge line",
	"a still life of citrus fruit on a pewter plate",
	"a hot air balloon festival over desert canyons",
}

// Sampler picks a random prompt per round. Safe for concurrent use.
type Sampler struct {
	mu      sync.Mutex
	rng     *rand.Rand
	prompts []string
	steps   int
}

// Option configures a Sampler.
type Option func(*Sampler) error

// WithSeed makes the prompt sequence reproducible.
func WithSeed(seed int64) Option {
	return func(s *Sampler) error {
		s.rng = rand.New(rand.NewSource(seed))
		return nil
	}
}

// WithPrompts replaces the built-in corpus.
func WithPrompts(prompts []string) Option {
	return func(s *Sampler) error {
		if len(prompts) == 0 {
			return fmt.Errorf("prompt corpus cannot be empty")
		}
		s.prompts = prompts
		return nil
	}
}

// WithSteps overrides the generation-effort parameter.
func WithSteps(steps int) Option {
	return func(s *Sampler) error {
		if steps <= 0 {
			return fmt.Errorf("steps must be positive, got %d", steps)
		}
		s.steps = steps
		return nil
	}
}

// NewSampler creates a Sampler over the built-in corpus unless configured
// otherwise.
func NewSampler(opts ...Option) (*Sampler, error) {
	s := &Sampler{
		rng:     rand.New(rand.NewSource(rand.Int63())),
		prompts: defaultPrompts,
		steps:   DefaultSteps,
	}
	for _, apply := range opts {
		if err := apply(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Sample returns a fresh validation task.
func (s *Sampler) Sample(context.Context) (miners.SampleInput, error) {
	s.mu.Lock()
	prompt := s.prompts[s.rng.Intn(len(s.prompts))]
	s.mu.Unlock()
	return miners.SampleInput{Prompt: prompt, Steps: s.steps}, nil
}
