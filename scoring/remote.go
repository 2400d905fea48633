package scoring

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

const (
	defaultRemoteTimeout = 30 * time.Second
	maxScoreResponseSize = 64 << 10
)

// Remote scores payloads against an HTTP scoring endpoint. It POSTs the
// base64-encoded payload and prompt to <base URL>/score and reads the score
// from a JSON body under "score" or "similarity".
type Remote struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// RemoteOption configures a Remote scorer.
type RemoteOption func(*Remote)

// WithRemoteAPIKey sets the bearer token sent with every scoring request.
func WithRemoteAPIKey(key string) RemoteOption {
	return func(r *Remote) { r.apiKey = key }
}

// WithRemoteHTTPClient overrides the HTTP client used for scoring requests.
func WithRemoteHTTPClient(client *http.Client) RemoteOption {
	return func(r *Remote) { r.client = client }
}

// NewRemote creates a scorer talking to the scoring endpoint rooted at
// baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRemoteTimeout},
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

type scoreRequest struct {
	Payload string `json:"payload"`
	Prompt  string `json:"prompt"`
}

type scoreResponse struct {
	Score      *float64 `json:"score"`
	Similarity *float64 `json:"similarity"`
}

// Score implements Scorer.
func (r *Remote) Score(ctx context.Context, payload []byte, prompt string) (float64, error) {
	body, err := json.Marshal(scoreRequest{
		Payload: base64.StdEncoding.EncodeToString(payload),
		Prompt:  prompt,
	})
	if err != nil {
		return 0, xerrors.Errorf("marshalling score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return 0, xerrors.Errorf("building score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, xerrors.Errorf("calling scoring endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("scoring endpoint returned status %s", resp.Status)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxScoreResponseSize)).Decode(&decoded); err != nil {
		return 0, xerrors.Errorf("decoding score response: %w", err)
	}

	var score float64
	switch {
	case decoded.Score != nil:
		score = *decoded.Score
	case decoded.Similarity != nil:
		score = *decoded.Similarity
	default:
		return 0, fmt.Errorf("scoring endpoint returned neither score nor similarity")
	}
	if score < 0 {
		return 0, fmt.Errorf("scoring endpoint returned negative score %f", score)
	}
	log.Debugf("remote score %f for prompt %q", score, prompt)
	return score, nil
}
