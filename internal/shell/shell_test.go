package shell

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edenlabs/gesher/internal/journal"
)

func newTestExecutor(t *testing.T, opts Options) (*Executor, *journal.Terminal) {
	t.Helper()
	term, err := journal.NewTerminal(100, "", nil)
	require.NoError(t, err)
	return New(opts, term, nil), term
}

func lineTypes(lines []journal.TerminalLine) []journal.LineType {
	out := make([]journal.LineType, len(lines))
	for i, l := range lines {
		out[i] = l.Type
	}
	return out
}

func TestExecute_EchoHi(t *testing.T) {
	e, term := newTestExecutor(t, Options{})

	res := e.Execute(context.Background(), "echo hi", 0)

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Empty(t, res.Stderr)
	assert.False(t, res.TimedOut)

	lines := term.Recent(10)
	assert.Equal(t, []journal.LineType{journal.LineCmd, journal.LineOutput}, lineTypes(lines))
	assert.Equal(t, "echo hi", lines[0].Text)
	assert.Contains(t, lines[1].Text, "hi")
}

func TestExecute_SilentCommandStillHasResultLine(t *testing.T) {
	e, term := newTestExecutor(t, Options{})

	res := e.Execute(context.Background(), "true", 0)
	assert.Equal(t, 0, res.ExitCode)

	lines := term.Recent(10)
	assert.Equal(t, []journal.LineType{journal.LineCmd, journal.LineOutput}, lineTypes(lines))
	assert.Equal(t, "", lines[1].Text)
}

func TestExecute_StderrAndExitCode(t *testing.T) {
	e, term := newTestExecutor(t, Options{})

	res := e.Execute(context.Background(), "echo out; echo oops >&2; exit 3", 0)

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t,
		[]journal.LineType{journal.LineCmd, journal.LineOutput, journal.LineError},
		lineTypes(term.Recent(10)))
}

func TestExecute_TimeoutKillsProcessGroup(t *testing.T) {
	e, term := newTestExecutor(t, Options{})

	start := time.Now()
	// The background sleep shares the group; the run must not wait for it.
	res := e.Execute(context.Background(), "sleep 30 & sleep 30", 200*time.Millisecond)

	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)

	lines := term.Recent(10)
	last := lines[len(lines)-1]
	assert.Equal(t, journal.LineError, last.Type)
	assert.Contains(t, last.Text, "timed out")
}

func TestExecute_ContextCanceled(t *testing.T) {
	e, _ := newTestExecutor(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res := e.Execute(ctx, "sleep 30", time.Minute)

	assert.False(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecute_SpawnFailure(t *testing.T) {
	e, term := newTestExecutor(t, Options{Shell: "/nonexistent/shell"})

	res := e.Execute(context.Background(), "echo hi", 0)

	assert.Equal(t, -1, res.ExitCode)
	lines := term.Recent(10)
	assert.Equal(t, []journal.LineType{journal.LineCmd, journal.LineError}, lineTypes(lines))
	assert.Contains(t, lines[1].Text, "failed to start")
}

func TestExecute_TruncatesOutput(t *testing.T) {
	e, _ := newTestExecutor(t, Options{MaxOutput: 16})

	res := e.Execute(context.Background(), "head -c 1000 /dev/zero | tr '\\0' 'a'", 0)

	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, strings.HasPrefix(res.Stdout, strings.Repeat("a", 16)))
	assert.Contains(t, res.Stdout, "[output truncated at 16 bytes]")
}

func TestEffectiveTimeout(t *testing.T) {
	e := New(Options{Timeout: 30 * time.Second, MaxTimeout: time.Minute}, nil, nil)

	assert.Equal(t, 30*time.Second, e.EffectiveTimeout(0))
	assert.Equal(t, 30*time.Second, e.EffectiveTimeout(-5))
	assert.Equal(t, 5*time.Second, e.EffectiveTimeout(5*time.Second))
	assert.Equal(t, time.Minute, e.EffectiveTimeout(time.Hour))
	assert.Equal(t, time.Minute, e.EffectiveTimeout(time.Duration(math.MaxInt64)))
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = b.Write([]byte("cdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd\n[output truncated at 4 bytes]", b.String())
}
