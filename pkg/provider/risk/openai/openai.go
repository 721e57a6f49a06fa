// Package openai provides a dialogue-risk provider backed by the OpenAI API.
//
// The classifier is a single non-streaming chat completion: the serialized
// dialogue is sent with a fixed system prompt and the model answers with a
// small JSON verdict. Temperature is pinned to zero so repeated evaluations
// of the same dialogue stay stable.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/callsentry/callsentry/pkg/provider/risk"
)

// systemPrompt instructs the model to act as a voice-phishing classifier and
// answer in machine-readable form.
const systemPrompt = `You are a voice-phishing detection classifier for live phone calls.
You receive the transcript of an ongoing two-party call, one "SPEAKER: text" utterance per segment in chronological order.
Decide whether the call exhibits voice-phishing patterns: impersonation of banks, police, prosecutors or family, urgency and secrecy pressure, requests for money transfers, account credentials, verification codes or remote-control apps.
Respond with exactly one JSON object and nothing else:
{"is_phishing": <true|false>, "probability": <0.0-1.0>}`

// Provider implements risk.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI risk Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// verdict is the JSON object the model is instructed to answer with.
type verdict struct {
	IsPhishing  bool    `json:"is_phishing"`
	Probability float64 `json:"probability"`
}

// Assess implements risk.Provider.
func (p *Provider) Assess(ctx context.Context, dialogue string) (risk.Assessment, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(dialogue),
		},
		Temperature:         param.NewOpt(0.0),
		MaxCompletionTokens: param.NewOpt(int64(128)),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return risk.Assessment{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return risk.Assessment{}, fmt.Errorf("openai: empty choices in response")
	}

	v, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return risk.Assessment{}, fmt.Errorf("openai: %w", err)
	}
	return risk.Assessment{
		Flagged:     v.IsPhishing,
		Probability: v.Probability,
	}, nil
}

// parseVerdict extracts the verdict JSON from the model answer. Models
// occasionally wrap the object in a markdown code fence; the parser tolerates
// that by slicing from the first '{' to the last '}'.
func parseVerdict(content string) (verdict, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return verdict{}, fmt.Errorf("no verdict object in answer %q", content)
	}

	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if v.Probability < 0 || v.Probability > 1 {
		return verdict{}, fmt.Errorf("probability %v out of range", v.Probability)
	}
	return v, nil
}

// Ensure Provider implements risk.Provider at compile time.
var _ risk.Provider = (*Provider)(nil)
