package mosaic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaic-network/go-mosaic/internal/clock"
	"github.com/mosaic-network/go-mosaic/miners"
)

type fakeRegistry struct {
	infos  []miners.Info
	err    error
	panics bool
}

func (r *fakeRegistry) QueryableMiners(context.Context) ([]miners.Info, error) {
	if r.panics {
		panic("registry exploded")
	}
	return r.infos, r.err
}

type fakeSamples struct{}

func (fakeSamples) Sample(context.Context) (miners.SampleInput, error) {
	return miners.SampleInput{Prompt: "a red bicycle", Steps: 4}, nil
}

type voteCall struct {
	uids    []uint64
	weights []float64
}

type fakeLedger struct {
	mu    sync.Mutex
	err   error
	calls []voteCall
	ch    chan voteCall
}

func (l *fakeLedger) SubmitVote(_ context.Context, uids []uint64, weightValues []float64) error {
	l.mu.Lock()
	call := voteCall{uids: uids, weights: weightValues}
	l.calls = append(l.calls, call)
	err := l.err
	l.mu.Unlock()
	if l.ch != nil {
		// Never block a round on a slow test reader.
		select {
		case l.ch <- call:
		default:
		}
	}
	return err
}

func (l *fakeLedger) votes() []voteCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]voteCall(nil), l.calls...)
}

// fakeClient answers with canned results and optionally winds a mock clock
// forward on every call to simulate round duration. Tests that set advance
// must use a single miner so each round advances the clock exactly once.
type fakeClient struct {
	results map[uint64]miners.Result
	advance time.Duration
	clk     *clock.Mock
}

func (c *fakeClient) Generate(_ context.Context, m miners.Info, _ miners.SampleInput) miners.Result {
	if c.advance > 0 {
		c.clk.Add(c.advance)
	}
	res, ok := c.results[m.UID]
	if !ok {
		return miners.Result{UID: m.UID, Err: errors.New("unreachable")}
	}
	res.UID = m.UID
	return res
}

// fakeScorer maps payload contents to scores; unknown payloads fail.
type fakeScorer struct {
	scores map[string]float64
}

func (s *fakeScorer) Score(_ context.Context, payload []byte, _ string) (float64, error) {
	score, ok := s.scores[string(payload)]
	if !ok {
		return 0, fmt.Errorf("unscorable payload %q", payload)
	}
	return score, nil
}

func infos(uids ...uint64) []miners.Info {
	out := make([]miners.Info, len(uids))
	for i, uid := range uids {
		out[i] = miners.Info{UID: uid}
	}
	return out
}

func newTestValidator(t *testing.T, client GenerationClient, scorer *fakeScorer,
	registry *fakeRegistry, ledger *fakeLedger, o ...Option) *Validator {
	t.Helper()
	v, err := New(client, scorer, registry, fakeSamples{}, ledger, o...)
	require.NoError(t, err)
	return v
}

func TestStepScoresWeighsRecordsAndVotes(t *testing.T) {
	t.Parallel()

	client := &fakeClient{results: map[uint64]miners.Result{
		1: {Payload: []byte("good"), Elapsed: time.Second},
		2: {Payload: []byte("okay"), Elapsed: 500 * time.Millisecond},
		3: {Payload: []byte("junk"), Elapsed: 200 * time.Millisecond},
	}}
	scorer := &fakeScorer{scores: map[string]float64{"good": 80, "okay": 40, "junk": 0}}
	ledger := &fakeLedger{}
	v := newTestValidator(t, client, scorer, &fakeRegistry{infos: infos(1, 2, 3)}, ledger)

	v.step(context.Background(), clock.NewMock())

	votes := ledger.votes()
	require.Len(t, votes, 1)
	require.Equal(t, []uint64{1, 2}, votes[0].uids, "zero-scored miner must not be voted on")

	var sum float64
	for _, w := range votes[0].weights {
		require.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	require.LessOrEqual(t, sum, 1.0+1e-9)
	require.Greater(t, votes[0].weights[0], votes[0].weights[1])

	history := v.History()
	require.Len(t, history, 1)
	require.Len(t, history[0].Entries, 2)
	for i, uid := range votes[0].uids {
		entry := history[0].Entries[i]
		require.Equal(t, uid, entry.UID)
		require.Equal(t, votes[0].weights[i], entry.Weight)
		require.Greater(t, entry.RawScore, 0.0)
		require.Greater(t, entry.NormalizedScore, 0.0)
		require.NotEmpty(t, entry.PayloadDigest)
	}
	require.Equal(t, uint64(2), v.LatestRound().Entries[1].UID)
}

func TestStepWithAllMinersTimedOut(t *testing.T) {
	t.Parallel()

	client := &fakeClient{results: map[uint64]miners.Result{}}
	ledger := &fakeLedger{}
	v := newTestValidator(t, client, &fakeScorer{}, &fakeRegistry{infos: infos(1, 2, 3)}, ledger)

	require.NotPanics(t, func() { v.step(context.Background(), clock.NewMock()) })

	require.Empty(t, ledger.votes(), "a round with no scores must not vote")
	require.Empty(t, v.History(), "empty rounds are not recorded")
}

func TestStepWithAllScoresZero(t *testing.T) {
	t.Parallel()

	client := &fakeClient{results: map[uint64]miners.Result{
		1: {Payload: []byte("junk"), Elapsed: time.Second},
	}}
	ledger := &fakeLedger{}
	v := newTestValidator(t, client, &fakeScorer{scores: map[string]float64{"junk": 0}},
		&fakeRegistry{infos: infos(1)}, ledger)

	v.step(context.Background(), clock.NewMock())

	require.Empty(t, ledger.votes())
	require.Empty(t, v.History())
}

func TestStepRecordsRoundDespiteVoteFailure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{results: map[uint64]miners.Result{
		1: {Payload: []byte("good"), Elapsed: time.Second},
	}}
	ledger := &fakeLedger{err: errors.New("ledger rejected the vote")}
	v := newTestValidator(t, client, &fakeScorer{scores: map[string]float64{"good": 80}},
		&fakeRegistry{infos: infos(1)}, ledger)

	require.NotPanics(t, func() { v.step(context.Background(), clock.NewMock()) })

	require.Len(t, ledger.votes(), 1, "submission must be attempted")
	require.Len(t, v.History(), 1, "round is recorded even when the ledger fails")
}

func TestStepSurvivesRegistryPanic(t *testing.T) {
	t.Parallel()

	v := newTestValidator(t, &fakeClient{}, &fakeScorer{}, &fakeRegistry{panics: true}, &fakeLedger{})
	require.NotPanics(t, func() { v.step(context.Background(), clock.NewMock()) })
}

func TestStepSkipsRegistryError(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{}
	v := newTestValidator(t, &fakeClient{}, &fakeScorer{}, &fakeRegistry{err: errors.New("chain down")}, ledger)
	v.step(context.Background(), clock.NewMock())
	require.Empty(t, ledger.votes())
}

func TestWeightsDeriveFromScores(t *testing.T) {
	t.Parallel()

	client := &fakeClient{results: map[uint64]miners.Result{
		1: {Payload: []byte("good"), Elapsed: time.Second},
		2: {Payload: []byte("okay"), Elapsed: time.Second},
		5: {Payload: []byte("good"), Elapsed: 2 * time.Second},
	}}
	scorer := &fakeScorer{scores: map[string]float64{"good": 80, "okay": 40}}
	v := newTestValidator(t, client, scorer, &fakeRegistry{infos: infos(1, 2, 5)}, &fakeLedger{})

	v.step(context.Background(), clock.NewMock())

	require.Len(t, v.History(), 1)
	for _, entry := range v.History()[0].Entries {
		if entry.Weight > 0 {
			require.Greater(t, entry.RawScore, 0.0, "no weight without a score")
		}
	}
}
