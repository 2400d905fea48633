// Package miners implements the generation request protocol between
// validators and miners over libp2p streams, along with the miner-side server
// and generation backends.
package miners

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ProtocolID identifies the generation request protocol.
const ProtocolID = "/mosaic/generate/1.0.0"

// maxPayloadSize bounds the generated payload a client will read from a
// miner. Generated images comfortably fit in 8 MiB; anything larger is a
// misbehaving peer.
const maxPayloadSize = 8 << 20

// Info identifies one queryable miner: its UID on the ledger and its network
// address. Sourced from the registry each round and treated as read-only.
type Info struct {
	UID  uint64        `json:"uid"`
	Addr peer.AddrInfo `json:"addr"`
}

// SampleInput is the task sent to every miner in a round: a text prompt and
// the generation-effort parameter. Produced fresh each round by the sample
// source.
type SampleInput struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps"`
}

// Result is the outcome of querying one miner. A nil Payload means the miner
// failed or timed out and must be excluded from scoring; Err then carries the
// cause for logging. Elapsed is the time actually spent on the call either
// way.
type Result struct {
	UID     uint64
	Payload []byte
	Elapsed time.Duration
	Err     error
}

// OK reports whether the miner returned a usable payload.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Payload) > 0
}

type generationRequest struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps"`
}

type generationResponse struct {
	// Payload is the generated artifact. encoding/json transports it as
	// base64, matching what miners on other stacks already serve.
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}
