// Package clock provides an injectable clock carried through context, so that
// scheduling and latency measurement can be driven by a mock in tests without
// real sleeps.
package clock

import (
	"context"

	"github.com/benbjohnson/clock"
)

type Clock = clock.Clock
type Mock = clock.Mock
type Timer = clock.Timer

type clockKeyType struct{}

var clockKey = clockKeyType{}

var realClock = clock.New()

// NewMock returns a mock clock whose current time is the Unix epoch.
func NewMock() *Mock {
	return clock.NewMock()
}

// WithMockClock embeds a fresh mock clock in the context and returns both.
func WithMockClock(ctx context.Context) (context.Context, *Mock) {
	clk := clock.NewMock()
	return context.WithValue(ctx, clockKey, (Clock)(clk)), clk
}

// GetClock returns the clock embedded in the context, or the realtime clock
// if the context carries none.
func GetClock(ctx context.Context) Clock {
	clk := ctx.Value(clockKey)
	if clk == nil {
		return realClock
	}
	return clk.(Clock)
}
