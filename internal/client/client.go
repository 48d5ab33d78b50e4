// Package client talks to a running gesherd over its Unix socket.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/edenlabs/gesher/internal/protocol"
	"github.com/edenlabs/gesher/internal/util"
)

// DefaultTimeout covers the daemon's own request bound with some slack.
const DefaultTimeout = 3 * time.Minute

// Client sends one request per connection.
type Client struct {
	socket  string
	timeout time.Duration
}

// NewClient creates a client for the socket at path.
func NewClient(socket string, opts ...Option) *Client {
	c := &Client{socket: socket, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each exchange, dial included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// RemoteError is an error result returned by the daemon.
type RemoteError struct {
	Kind    protocol.ErrorKind
	Message string
	Details map[string]interface{}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gesherd %s error: %s", e.Kind, e.Message)
}

// Send writes raw, which must be one JSON object, and returns the raw
// response line.
func (c *Client) Send(ctx context.Context, raw []byte) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.socket, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	resp, err := io.ReadAll(io.LimitReader(conn, protocol.MaxRequestSize*16))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("daemon closed the connection without a response")
	}
	return resp, nil
}

// Call sends cmd with the fields of payload (a struct or map, may be nil)
// and decodes the result into out (may be nil). An error result is returned
// as *RemoteError.
func (c *Client) Call(ctx context.Context, cmd protocol.Command, payload, out interface{}) error {
	raw, err := buildRequest(cmd, payload)
	if err != nil {
		return err
	}
	resp, err := c.Send(ctx, raw)
	if err != nil {
		return err
	}
	if rerr := AsRemoteError(resp); rerr != nil {
		return rerr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", cmd, err)
	}
	return nil
}

func buildRequest(cmd protocol.Command, payload interface{}) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("payload must encode as a JSON object: %w", err)
		}
	}
	name, _ := json.Marshal(string(cmd))
	fields["cmd"] = name
	return json.Marshal(fields)
}

// AsRemoteError returns the error result in resp, or nil when resp is a
// success result. A response is an error when it carries both "error" and
// "kind".
func AsRemoteError(resp []byte) *RemoteError {
	var envelope struct {
		Error   *string                `json:"error"`
		Kind    *protocol.ErrorKind    `json:"kind"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return nil
	}
	if envelope.Error == nil || envelope.Kind == nil {
		return nil
	}
	return &RemoteError{Kind: *envelope.Kind, Message: *envelope.Error, Details: envelope.Details}
}

// Status fetches the daemon's status.
func (c *Client) Status(ctx context.Context) (protocol.StatusResult, error) {
	var res protocol.StatusResult
	err := c.Call(ctx, protocol.CmdStatus, nil, &res)
	return res, err
}

// WaitReady polls status until the daemon answers, using cfg's backoff.
func (c *Client) WaitReady(ctx context.Context, cfg util.RetryConfig) (protocol.StatusResult, error) {
	return util.Retry(ctx, cfg, func() (protocol.StatusResult, error) {
		return c.Status(ctx)
	})
}
