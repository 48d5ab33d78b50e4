// Package shell runs commands for the soul and the socket's exec command.
//
// Every command runs as `<shell> -c <command>` in its own process group so a
// timeout or cancel kills the whole tree. Output is captured per stream and
// bounded; each run leaves cmd/output/error lines in the terminal transcript.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/edenlabs/gesher/internal/journal"
	"github.com/edenlabs/gesher/internal/telemetry"
)

// Transcript receives terminal lines. *journal.Terminal satisfies it.
type Transcript interface {
	Append(typ journal.LineType, text string) journal.TerminalLine
}

// Defaults used when Options leave a field zero.
const (
	DefaultShell      = "/bin/sh"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxTimeout = 10 * time.Minute
	DefaultMaxOutput  = 64 * 1024

	// waitDelay bounds pipe draining after the process group is killed.
	waitDelay = 2 * time.Second
)

// Options configures an Executor.
type Options struct {
	Shell      string
	Timeout    time.Duration
	MaxTimeout time.Duration
	MaxOutput  int
}

// Result is the outcome of one command. ExitCode is -1 when the process
// could not start or was killed.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Executor runs shell commands. Safe for concurrent use.
type Executor struct {
	opts       Options
	transcript Transcript
	logger     *slog.Logger
}

// New creates an executor. transcript may be nil.
func New(opts Options, transcript Transcript, logger *slog.Logger) *Executor {
	if opts.Shell == "" {
		opts.Shell = DefaultShell
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = DefaultMaxTimeout
	}
	if opts.MaxTimeout < opts.Timeout {
		opts.MaxTimeout = opts.Timeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{opts: opts, transcript: transcript, logger: logger.With("component", "shell")}
}

// EffectiveTimeout resolves a per-call request: zero or negative means the
// default, anything above the maximum is capped.
func (e *Executor) EffectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return e.opts.Timeout
	}
	if requested > e.opts.MaxTimeout {
		return e.opts.MaxTimeout
	}
	return requested
}

func (e *Executor) line(typ journal.LineType, text string) {
	if e.transcript != nil {
		e.transcript.Append(typ, text)
	}
}

// Execute runs command with the given timeout (see EffectiveTimeout). It
// never returns an error: spawn failures, timeouts and non-zero exits are
// all reported in the Result.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration) Result {
	timeout = e.EffectiveTimeout(timeout)
	e.line(journal.LineCmd, command)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newCappedBuffer(e.opts.MaxOutput)
	stderr := newCappedBuffer(e.opts.MaxOutput)

	cmd := exec.CommandContext(runCtx, e.opts.Shell, "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		// Negative PID targets the whole process group.
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var notice string
	switch {
	case err == nil:
	case cmd.Process == nil:
		res.ExitCode = -1
		notice = fmt.Sprintf("failed to start: %v", err)
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ExitCode = -1
		res.TimedOut = true
		notice = fmt.Sprintf("command timed out after %s", timeout)
	case ctx.Err() != nil:
		res.ExitCode = -1
		notice = "command canceled"
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			notice = err.Error()
		}
	}

	if res.Stdout != "" || (res.Stderr == "" && notice == "") {
		e.line(journal.LineOutput, res.Stdout)
	}
	if res.Stderr != "" {
		e.line(journal.LineError, res.Stderr)
	}
	if notice != "" {
		e.line(journal.LineError, notice)
	}

	e.logger.Debug("command finished",
		"command", command,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"duration", res.Duration,
	)
	telemetry.RecordExec(ctx, command, res.ExitCode, res.TimedOut, float64(res.Duration.Milliseconds()))
	return res
}

// cappedBuffer keeps the first max bytes written and discards the rest,
// still reporting full writes so the child never sees EPIPE.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if !c.truncated {
		return c.buf.String()
	}
	return c.buf.String() + fmt.Sprintf("\n[output truncated at %d bytes]", c.max)
}
