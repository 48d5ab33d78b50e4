// Package brain adapts language model services to a single Backend
// interface. The daemon picks one backend at startup; callers only see
// Generate, Health and a typed *Error.
package brain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/edenlabs/gesher/internal/config"
	"github.com/edenlabs/gesher/internal/telemetry"
)

// Backend generates text from a prompt.
type Backend interface {
	// Name is the backend selection, "local" or "remote".
	Name() string
	// Model describes what answers prompts, for status output.
	Model() string
	// Generate returns the model's reply. An empty reply with a nil error
	// means the model declined to answer.
	Generate(ctx context.Context, prompt string) (string, error)
	// Health reports whether the service is reachable.
	Health(ctx context.Context) error
}

// Kind classifies a backend failure.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindStatus      Kind = "status"
	KindDecode      Kind = "decode"
)

// Sentinels matched by errors.Is against *Error.
var (
	ErrTimeout     = errors.New("backend timed out")
	ErrUnavailable = errors.New("backend unavailable")
)

// Error is returned by every failed backend call.
type Error struct {
	Backend    string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s backend: unexpected status %d: %v", e.Backend, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s backend %s: %v", e.Backend, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) and errors.Is(err, ErrUnavailable)
// match by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

// healthTimeout bounds Health calls.
const healthTimeout = 5 * time.Second

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 512

// New builds the configured backend, instrumented for telemetry.
func New(cfg config.BrainConfig) (Backend, error) {
	client := &http.Client{}
	var b Backend
	switch cfg.Backend {
	case config.BrainLocal:
		b = NewOllama(OllamaOptions{
			Host:        cfg.Host,
			Model:       cfg.Model,
			System:      cfg.System,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout.Duration,
			Client:      client,
		})
	case config.BrainRemote:
		b = NewAxis(AxisOptions{
			URL:      cfg.RemoteURL,
			ThreadID: cfg.ThreadID,
			Timeout:  cfg.Timeout.Duration,
			Client:   client,
		})
	default:
		return nil, fmt.Errorf("unsupported brain %q", cfg.Backend)
	}
	return Instrument(b), nil
}

// Instrument wraps b so every Generate is counted and timed.
func Instrument(b Backend) Backend {
	return &instrumented{Backend: b}
}

type instrumented struct {
	Backend
}

func (i *instrumented) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := i.Backend.Generate(ctx, prompt)
	telemetry.RecordBackendCall(ctx, i.Name(), float64(time.Since(start).Milliseconds()), err)
	return out, err
}

// classify turns a transport error into an *Error. ctx is the call's
// bounded context.
func classify(ctx context.Context, backend string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Backend: backend, Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Backend: backend, Kind: KindTimeout, Err: err}
	}
	return &Error{Backend: backend, Kind: KindUnavailable, Err: err}
}

// statusError reads a bounded snippet of a non-2xx body.
func statusError(backend string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{Backend: backend, Kind: KindStatus, StatusCode: resp.StatusCode, Err: errors.New(msg)}
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
