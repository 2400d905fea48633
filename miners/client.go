package miners

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"golang.org/x/xerrors"

	"github.com/mosaic-network/go-mosaic/internal/clock"
)

var log = logging.Logger("mosaic/miners")

// Client issues generation requests to individual miners. Calls are
// independent and safe to run concurrently; each call is bounded by
// RequestTimeout and reports failure through the returned Result rather than
// aborting the caller.
type Client struct {
	Host           host.Host
	RequestTimeout time.Duration
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// Generate sends one generation request to the given miner and waits for the
// payload. It never returns an error to the caller: timeouts, transport
// failures and malformed responses all come back as a Result with a nil
// Payload, the cause in Err, and Elapsed set to the time actually spent.
func (c *Client) Generate(ctx context.Context, m Info, input SampleInput) (_res Result) {
	clk := clock.GetClock(ctx)
	start := clk.Now()
	defer func() {
		_res.UID = m.UID
		_res.Elapsed = clk.Since(start)
		if perr := recover(); perr != nil {
			_res.Payload = nil
			_res.Err = fmt.Errorf("panicked querying miner %d: %v\n%s", m.UID, perr, string(debug.Stack()))
			log.Error(_res.Err)
		}
	}()

	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	payload, err := c.request(ctx, m, input)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Payload: payload}
}

func (c *Client) request(ctx context.Context, m Info, input SampleInput) ([]byte, error) {
	if len(m.Addr.Addrs) > 0 {
		if err := c.Host.Connect(ctx, m.Addr); err != nil {
			return nil, xerrors.Errorf("connecting to miner %d: %w", m.UID, err)
		}
	}

	stream, err := c.Host.NewStream(ctx, m.Addr.ID, ProtocolID)
	if err != nil {
		return nil, xerrors.Errorf("opening stream to miner %d: %w", m.UID, err)
	}
	// Reset the stream when the call deadline fires so a stalled miner
	// cannot hold the round past its own timeout.
	defer context.AfterFunc(ctx, func() { _ = stream.Reset() })()

	if deadline, ok := ctx.Deadline(); ok {
		// Not all transports support deadlines.
		_ = stream.SetDeadline(deadline)
	}

	req := generationRequest{Prompt: input.Prompt, Steps: input.Steps}
	if err := json.NewEncoder(stream).Encode(&req); err != nil {
		return nil, xerrors.Errorf("writing request to miner %d: %w", m.UID, err)
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, xerrors.Errorf("closing write side to miner %d: %w", m.UID, err)
	}

	var resp generationResponse
	br := &io.LimitedReader{R: stream, N: maxPayloadSize}
	if err := json.NewDecoder(br).Decode(&resp); err != nil {
		return nil, xerrors.Errorf("reading response from miner %d: %w", m.UID, err)
	}
	_ = stream.Close()

	if resp.Error != "" {
		return nil, xerrors.Errorf("miner %d refused generation: %s", m.UID, resp.Error)
	}
	if len(resp.Payload) == 0 {
		return nil, xerrors.Errorf("miner %d returned an empty payload", m.UID)
	}
	return resp.Payload, nil
}
