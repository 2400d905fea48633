package miners

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

const defaultAPITimeout = 60 * time.Second

// APIGenerator backs a miner with a remote image-generation endpoint. It
// POSTs the prompt and step count to <base URL>/generate and expects a JSON
// body carrying the base64-encoded artifact under "image" or "images".
type APIGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// APIGeneratorOption configures an APIGenerator.
type APIGeneratorOption func(*APIGenerator)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) APIGeneratorOption {
	return func(g *APIGenerator) { g.apiKey = key }
}

// WithModel sets the model name forwarded to the endpoint. Empty means the
// endpoint's default model.
func WithModel(model string) APIGeneratorOption {
	return func(g *APIGenerator) { g.model = model }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) APIGeneratorOption {
	return func(g *APIGenerator) { g.client = client }
}

// NewAPIGenerator creates a generator talking to the endpoint rooted at
// baseURL.
func NewAPIGenerator(baseURL string, opts ...APIGeneratorOption) *APIGenerator {
	g := &APIGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultAPITimeout},
	}
	for _, apply := range opts {
		apply(g)
	}
	return g
}

type apiGenerateRequest struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps"`
	Model  string `json:"model,omitempty"`
}

type apiGenerateResponse struct {
	Image  string   `json:"image"`
	Images []string `json:"images"`
}

// Generate implements Generator.
func (g *APIGenerator) Generate(ctx context.Context, input SampleInput) ([]byte, error) {
	body, err := json.Marshal(apiGenerateRequest{
		Prompt: input.Prompt,
		Steps:  input.Steps,
		Model:  g.model,
	})
	if err != nil {
		return nil, xerrors.Errorf("marshalling generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Errorf("building generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("calling generation endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("generation endpoint returned status %s", resp.Status)
	}

	var decoded apiGenerateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPayloadSize)).Decode(&decoded); err != nil {
		return nil, xerrors.Errorf("decoding generation response: %w", err)
	}

	encoded := decoded.Image
	if encoded == "" && len(decoded.Images) > 0 {
		encoded = decoded.Images[0]
	}
	if encoded == "" {
		return nil, fmt.Errorf("generation endpoint returned no image")
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, xerrors.Errorf("decoding generated image: %w", err)
	}
	return payload, nil
}
