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

// axisTool is the AXIS MUNDI tool that answers chat messages.
const axisTool = "axis_chat"

// AxisOptions configures the remote backend.
type AxisOptions struct {
	URL      string
	ThreadID string
	Timeout  time.Duration
	Client   *http.Client
}

// Axis talks to the AXIS MUNDI tool-call endpoint.
type Axis struct {
	opts AxisOptions
}

// NewAxis creates the remote backend.
func NewAxis(opts AxisOptions) *Axis {
	opts.URL = strings.TrimRight(opts.URL, "/")
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Axis{opts: opts}
}

type toolCallRequest struct {
	Name      string        `json:"name"`
	Arguments toolArguments `json:"arguments"`
}

type toolArguments struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

type toolCallResponse struct {
	Reply *string `json:"reply"`
}

func (a *Axis) Name() string  { return "remote" }
func (a *Axis) Model() string { return axisTool + "@" + a.opts.ThreadID }

// Generate calls POST /mcp/tools/call with the axis_chat tool.
func (a *Axis) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, a.opts.Timeout)
	defer cancel()

	out, err := a.call(ctx, prompt)
	if err != nil {
		return "", err
	}
	if out.Reply == nil {
		return "", &Error{Backend: a.Name(), Kind: KindDecode, Err: fmt.Errorf("missing reply field")}
	}
	return strings.TrimSpace(*out.Reply), nil
}

// Send posts message on the configured thread and discards the reply. Any
// JSON answer with a 2xx status counts as delivered.
func (a *Axis) Send(ctx context.Context, message string) error {
	ctx, cancel := withTimeout(ctx, a.opts.Timeout)
	defer cancel()

	_, err := a.call(ctx, message)
	return err
}

func (a *Axis) call(ctx context.Context, message string) (toolCallResponse, error) {
	var out toolCallResponse
	body, err := json.Marshal(toolCallRequest{
		Name:      axisTool,
		Arguments: toolArguments{Message: message, ThreadID: a.opts.ThreadID},
	})
	if err != nil {
		return out, fmt.Errorf("encoding tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.URL+"/mcp/tools/call", bytes.NewReader(body))
	if err != nil {
		return out, &Error{Backend: a.Name(), Kind: KindUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.opts.Client.Do(req)
	if err != nil {
		return out, classify(ctx, a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, statusError(a.Name(), resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return out, classify(ctx, a.Name(), err)
		}
		return out, &Error{Backend: a.Name(), Kind: KindDecode, Err: err}
	}
	return out, nil
}

// Health calls GET on the service root.
func (a *Axis) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.URL+"/", nil)
	if err != nil {
		return &Error{Backend: a.Name(), Kind: KindUnavailable, Err: err}
	}
	resp, err := a.opts.Client.Do(req)
	if err != nil {
		return classify(ctx, a.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return statusError(a.Name(), resp)
	}
	return nil
}
