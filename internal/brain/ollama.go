package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaOptions configures the local backend.
type OllamaOptions struct {
	Host        string
	Model       string
	System      string
	Temperature float64
	Timeout     time.Duration
	Client      *http.Client
}

// Ollama talks to a local Ollama server.
type Ollama struct {
	opts OllamaOptions
}

// NewOllama creates the local backend.
func NewOllama(opts OllamaOptions) *Ollama {
	opts.Host = strings.TrimRight(opts.Host, "/")
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Ollama{opts: opts}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

func (o *Ollama) Name() string  { return "local" }
func (o *Ollama) Model() string { return o.opts.Model }

// Generate calls POST /api/generate with streaming off.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, o.opts.Timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		Model:   o.opts.Model,
		Prompt:  prompt,
		System:  o.opts.System,
		Stream:  false,
		Options: generateOptions{Temperature: o.opts.Temperature},
	})
	if err != nil {
		return "", fmt.Errorf("encoding generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Backend: o.Name(), Kind: KindUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.opts.Client.Do(req)
	if err != nil {
		return "", classify(ctx, o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(o.Name(), resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return "", classify(ctx, o.Name(), err)
		}
		return "", &Error{Backend: o.Name(), Kind: KindDecode, Err: err}
	}
	if out.Response == nil {
		return "", &Error{Backend: o.Name(), Kind: KindDecode, Err: fmt.Errorf("missing response field")}
	}
	return strings.TrimSpace(*out.Response), nil
}

// Health calls GET /api/tags.
func (o *Ollama) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.opts.Host+"/api/tags", nil)
	if err != nil {
		return &Error{Backend: o.Name(), Kind: KindUnavailable, Err: err}
	}
	resp, err := o.opts.Client.Do(req)
	if err != nil {
		return classify(ctx, o.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(o.Name(), resp)
	}
	return nil
}
