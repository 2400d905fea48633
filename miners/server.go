package miners

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
)

// maxRequestSize bounds the request a miner will read from a validator.
// Requests carry a prompt and a step count; anything beyond this is abuse.
const maxRequestSize = 64 << 10

// Generator produces a payload for a sample input. Implementations back the
// miner with a concrete inference provider; the validator never sees this
// interface.
type Generator interface {
	Generate(ctx context.Context, input SampleInput) ([]byte, error)
}

// Server is the miner side of the generation protocol: it answers validator
// requests by running the configured Generator.
type Server struct {
	// RequestTimeout bounds the handling of one request, generation
	// included. Zero means no timeout.
	RequestTimeout time.Duration
	Host           host.Host
	Generator      Generator

	// - held (read) by all active requests.
	// - taken (write) on shutdown to block until said requests complete.
	runningLk sync.RWMutex
	stopFunc  context.CancelFunc
}

func (s *Server) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.RequestTimeout)
	}
	return ctx, func() {}
}

func (s *Server) handleRequest(ctx context.Context, stream network.Stream) (_err error) {
	defer func() {
		if perr := recover(); perr != nil {
			_err = fmt.Errorf("panicked handling generation request: %v", perr)
			log.Errorf("%s\n%s", _err, string(debug.Stack()))
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		// Not all transports support deadlines.
		_ = stream.SetDeadline(deadline)
	}

	var req generationRequest
	br := &io.LimitedReader{R: stream, N: maxRequestSize}
	if err := json.NewDecoder(br).Decode(&req); err != nil {
		log.Debugf("failed to read generation request: %v", err)
		return err
	}

	var resp generationResponse
	payload, err := s.Generator.Generate(ctx, SampleInput{Prompt: req.Prompt, Steps: req.Steps})
	if err != nil {
		log.Warnf("generation failed: %v", err)
		resp.Error = err.Error()
	} else {
		resp.Payload = payload
	}

	if err := json.NewEncoder(stream).Encode(&resp); err != nil {
		log.Debugf("failed to write generation response: %v", err)
		return err
	}
	return nil
}

// Start the server.
func (s *Server) Start(context.Context) error {
	s.runningLk.Lock()
	defer s.runningLk.Unlock()
	if s.stopFunc != nil {
		return fmt.Errorf("miner server already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopFunc = cancel
	s.Host.SetStreamHandler(ProtocolID, func(stream network.Stream) {
		// Hold the read-lock for the duration of the request so shutdown can
		// block on closing all request handlers.
		if !s.runningLk.TryRLock() {
			// We use a try-lock because blocking means we're trying to shutdown.
			_ = stream.Reset()
			return
		}
		defer s.runningLk.RUnlock()

		// Short-circuit if we're already closed.
		if ctx.Err() != nil {
			_ = stream.Reset()
			return
		}

		// Kill the stream if/when we shutdown the server.
		defer context.AfterFunc(ctx, func() { _ = stream.Reset() })()

		ctx, cancel := s.withDeadline(ctx)
		defer cancel()

		if err := s.handleRequest(ctx, stream); err != nil {
			_ = stream.Reset()
		} else {
			_ = stream.Close()
		}
	})
	return nil
}

// Stop the server.
func (s *Server) Stop(context.Context) error {
	// Ask the handlers to cancel/stop.
	s.runningLk.RLock()
	if s.stopFunc != nil {
		s.stopFunc()
	}
	s.runningLk.RUnlock()

	// Take the write-lock to wait for all outstanding requests to return.
	s.runningLk.Lock()
	defer s.runningLk.Unlock()
	if s.stopFunc == nil {
		return nil
	}
	s.stopFunc = nil
	s.Host.RemoveStreamHandler(ProtocolID)

	return nil
}
