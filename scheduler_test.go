package mosaic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaic-network/go-mosaic/internal/clock"
	"github.com/mosaic-network/go-mosaic/miners"
)

const testInterval = 60 * time.Second

// startSchedulerTest runs a validator against a mock clock. Each round
// advances the clock by roundDuration via the fake client; the returned
// channel signals one vote per completed round.
func startSchedulerTest(t *testing.T, roundDuration time.Duration, ledgerErr error) (*clock.Mock, chan voteCall) {
	t.Helper()

	ctx, clk := clock.WithMockClock(context.Background())
	votes := make(chan voteCall, 16)
	client := &fakeClient{
		results: map[uint64]miners.Result{1: {Payload: []byte("good"), Elapsed: time.Second}},
		advance: roundDuration,
		clk:     clk,
	}
	v := newTestValidator(t,
		client,
		&fakeScorer{scores: map[string]float64{"good": 80}},
		&fakeRegistry{infos: infos(1)},
		&fakeLedger{ch: votes, err: ledgerErr},
		WithInterval(testInterval),
	)
	require.NoError(t, v.Start(ctx))
	t.Cleanup(func() { require.NoError(t, v.Stop(context.Background())) })
	return clk, votes
}

func waitForVote(t *testing.T, votes chan voteCall) {
	t.Helper()
	select {
	case <-votes:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a round to complete")
	}
}

func requireNoVote(t *testing.T, votes chan voteCall) {
	t.Helper()
	select {
	case <-votes:
		t.Fatal("round ran before its scheduled time")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerSleepsOutRemainderOfInterval(t *testing.T) {
	t.Parallel()

	// A 45s round against a 60s interval leaves ~15s of sleep.
	clk, votes := startSchedulerTest(t, 45*time.Second, nil)
	waitForVote(t, votes)

	// Advancing less than the remainder must not trigger the next round.
	clk.Add(10 * time.Second)
	requireNoVote(t, votes)

	// Advancing past it must.
	require.Eventually(t, func() bool {
		clk.Add(5 * time.Second)
		select {
		case <-votes:
			return true
		default:
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)
}

func TestSchedulerStartsOverrunningRoundImmediately(t *testing.T) {
	t.Parallel()

	// A 75s round against a 60s interval: no sleep, no catch-up burst. The
	// rounds drive themselves with no clock nudging from the test.
	_, votes := startSchedulerTest(t, 75*time.Second, nil)
	waitForVote(t, votes)
	waitForVote(t, votes)
	waitForVote(t, votes)
}

func TestSchedulerOutlivesVoteFailures(t *testing.T) {
	t.Parallel()

	_, votes := startSchedulerTest(t, 75*time.Second, errors.New("ledger unreachable"))
	waitForVote(t, votes)
	waitForVote(t, votes)
}

func TestStartIsIdempotentAndStopTerminates(t *testing.T) {
	t.Parallel()

	ctx, clk := clock.WithMockClock(context.Background())
	votes := make(chan voteCall, 16)
	client := &fakeClient{
		results: map[uint64]miners.Result{1: {Payload: []byte("good"), Elapsed: time.Second}},
		advance: time.Second,
		clk:     clk,
	}
	v := newTestValidator(t,
		client,
		&fakeScorer{scores: map[string]float64{"good": 80}},
		&fakeRegistry{infos: infos(1)},
		&fakeLedger{ch: votes},
		WithInterval(testInterval),
	)

	require.False(t, v.IsRunning())
	require.NoError(t, v.Start(ctx))
	require.NoError(t, v.Start(ctx))
	require.True(t, v.IsRunning())
	waitForVote(t, votes)

	require.NoError(t, v.Stop(context.Background()))
	require.Eventually(t, func() bool { return !v.IsRunning() }, 5*time.Second, 10*time.Millisecond)
}
