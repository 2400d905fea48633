// Package rounds records the outcome of validation rounds in a bounded,
// append-only history for audit and observability.
package rounds

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Kubuxu/go-broadcast"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	"golang.org/x/xerrors"
)

// DefaultCapacity is the number of round records retained in memory.
const DefaultCapacity = 10

// Entry captures everything the validator learned about one miner in one
// round: the raw model score, how long the miner took to answer, the
// latency-adjusted normalized score, the consensus weight derived from it,
// and a digest of the payload that was scored.
type Entry struct {
	UID             uint64        `json:"uid"`
	RawScore        float64       `json:"raw_score"`
	Elapsed         time.Duration `json:"elapsed"`
	NormalizedScore float64       `json:"normalized_score"`
	Weight          float64       `json:"weight"`
	PayloadDigest   []byte        `json:"payload_digest,omitempty"`
}

// Record is an immutable snapshot of one completed round, entries in
// ascending UID order.
type Record struct {
	Time    time.Time `json:"time"`
	Entries []Entry   `json:"entries"`
}

// History is a fixed-capacity ring buffer of round records with FIFO
// eviction. It has a single writer, the round executor, and any number of
// concurrent readers via Snapshot. Records are optionally persisted to a
// datastore so the audit trail survives restarts; the in-memory ring remains
// the authoritative bounded view.
type History struct {
	// mu guards buf, start, count and seq.
	mu    sync.Mutex
	buf   []Record
	start int
	count int
	seq   uint64

	ds        datastore.Datastore
	busLatest broadcast.Channel[*Record]
}

// NewHistory creates an in-memory history retaining up to capacity records.
// A capacity of 0 or less falls back to DefaultCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{buf: make([]Record, capacity)}
}

// NewPersistentHistory creates a history backed by a datastore. The newest
// records already persisted, up to capacity, are loaded into the ring so a
// restarted validator resumes with its recent audit trail. The passed
// datastore must be thread safe.
func NewPersistentHistory(ctx context.Context, capacity int, ds datastore.Datastore) (*History, error) {
	h := NewHistory(capacity)
	h.ds = namespace.Wrap(ds, datastore.NewKey("/rounds"))
	if err := h.load(ctx); err != nil {
		return nil, xerrors.Errorf("loading persisted rounds: %w", err)
	}
	return h, nil
}

func (h *History) load(ctx context.Context) error {
	res, err := h.ds.Query(ctx, query.Query{
		Orders: []query.Order{query.OrderByKeyDescending{}},
		Limit:  len(h.buf),
	})
	if err != nil {
		return xerrors.Errorf("querying persisted rounds: %w", err)
	}
	defer res.Close()

	var newestFirst []Record
	var newestSeq uint64
	for {
		val, ok := res.NextSync()
		if !ok {
			break
		}
		if val.Error != nil {
			return xerrors.Errorf("iterating persisted rounds: %w", val.Error)
		}
		var rec Record
		if err := json.Unmarshal(val.Value, &rec); err != nil {
			return xerrors.Errorf("unmarshalling round at %s: %w", val.Key, err)
		}
		if len(newestFirst) == 0 {
			seq, err := strconv.ParseUint(strings.TrimPrefix(val.Key, "/"), 10, 64)
			if err != nil {
				return xerrors.Errorf("parsing round key %s: %w", val.Key, err)
			}
			newestSeq = seq
		}
		newestFirst = append(newestFirst, rec)
	}

	if len(newestFirst) == 0 {
		return nil
	}
	// Replay oldest to newest so the ring ends up in order.
	for i := len(newestFirst) - 1; i >= 0; i-- {
		h.append(newestFirst[i])
	}
	h.seq = newestSeq + 1
	h.busLatest.Publish(&newestFirst[0])
	return nil
}

// Append records a completed round, evicting the oldest record if the ring is
// at capacity. The returned error reports persistence failures only; the
// in-memory ring is always updated first so a flaky datastore never costs the
// bounded view.
func (h *History) Append(ctx context.Context, rec Record) error {
	h.mu.Lock()
	seq := h.seq
	h.seq++
	h.append(rec)
	h.mu.Unlock()

	h.busLatest.Publish(&rec)

	if h.ds == nil {
		return nil
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Errorf("marshalling round record: %w", err)
	}
	if err := h.ds.Put(ctx, keyForRound(seq), buf); err != nil {
		return xerrors.Errorf("persisting round record: %w", err)
	}
	return nil
}

// append assumes h.mu is held (or that no readers exist yet, during load).
func (h *History) append(rec Record) {
	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = rec
		h.count++
		return
	}
	h.buf[h.start] = rec
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns a copy of the retained records, oldest to newest. The
// returned records are owned by the caller.
func (h *History) Snapshot() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, 0, h.count)
	for i := 0; i < h.count; i++ {
		rec := h.buf[(h.start+i)%len(h.buf)]
		rec.Entries = slices.Clone(rec.Entries)
		out = append(out, rec)
	}
	return out
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Latest returns the most recently appended record, or nil if no round has
// completed yet.
func (h *History) Latest() *Record {
	return h.busLatest.Last()
}

// Subscribe delivers each newly appended record on ch. If the channel is ever
// full, it is dropped from the subscription and closed. Use the returned
// closer or abandon the channel to stop subscribing.
func (h *History) Subscribe(ch chan<- *Record) (last *Record, closer func()) {
	return h.busLatest.Subscribe(ch)
}

func keyForRound(seq uint64) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("%020d", seq))
}
