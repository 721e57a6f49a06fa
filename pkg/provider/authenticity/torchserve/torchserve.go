// Package torchserve provides an authenticity provider backed by a TorchServe
// model server.
//
// TorchServe (https://pytorch.org/serve/) hosts the exported anti-spoofing
// model behind a plain HTTP inference endpoint. This package posts one
// normalized analysis window per request to /predictions/<model> and expects
// the two raw class scores back as a JSON array, authentic first.
//
// Example usage:
//
//	p, err := torchserve.New("", "antispoof") // connects to http://localhost:8080
//	if err != nil {
//	    log.Fatal(err)
//	}
//	scores, err := p.Classify(ctx, window)
package torchserve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/callsentry/callsentry/pkg/provider/authenticity"
)

// DefaultBaseURL is the default base URL for a locally running TorchServe
// inference endpoint.
const DefaultBaseURL = "http://localhost:8080"

// Ensure Provider implements the authenticity.Provider interface at compile time.
var _ authenticity.Provider = (*Provider)(nil)

// Provider implements authenticity.Provider using a TorchServe model server.
//
// Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout time.Duration
	client  *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests. Useful
// for tests and custom transports. Overrides WithTimeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// New constructs a new TorchServe Provider.
//
// baseURL is the base URL of the TorchServe inference endpoint (e.g.,
// "http://localhost:8080"). If empty, DefaultBaseURL is used. A trailing
// slash is stripped automatically.
//
// model is the registered TorchServe model name. It must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("torchserve: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := cfg.client
	if httpClient == nil {
		httpClient = &http.Client{}
		if cfg.timeout > 0 {
			httpClient.Timeout = cfg.timeout
		}
	}

	return &Provider{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}, nil
}

// predictRequest is the JSON request body posted to /predictions/<model>.
type predictRequest struct {
	Input []float32 `json:"input"`
}

// Classify implements authenticity.Provider by posting the window to
// TorchServe and decoding the two raw class scores.
//
// Returns an error if the HTTP request fails, the server returns a non-200
// status, the response cannot be decoded, or ctx is cancelled.
func (p *Provider) Classify(ctx context.Context, window []float32) (authenticity.Scores, error) {
	body, err := json.Marshal(predictRequest{Input: window})
	if err != nil {
		return authenticity.Scores{}, fmt.Errorf("torchserve: encode request: %w", err)
	}

	endpoint := p.baseURL + "/predictions/" + p.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return authenticity.Scores{}, fmt.Errorf("torchserve: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return authenticity.Scores{}, fmt.Errorf("torchserve: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return authenticity.Scores{}, fmt.Errorf("torchserve: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var scores []float64
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return authenticity.Scores{}, fmt.Errorf("torchserve: decode response: %w", err)
	}
	if len(scores) != 2 {
		return authenticity.Scores{}, fmt.Errorf("torchserve: expected 2 class scores, got %d", len(scores))
	}

	return authenticity.Scores{
		Authentic: scores[0],
		Synthetic: scores[1],
	}, nil
}
