package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edenlabs/gesher/internal/brain"
	"github.com/edenlabs/gesher/internal/journal"
	"github.com/edenlabs/gesher/internal/shell"
	"github.com/edenlabs/gesher/internal/soul"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBackend answers with fn and tracks concurrency.
type fakeBackend struct {
	fn      func(ctx context.Context, prompt string) (string, error)
	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64

	mu      sync.Mutex
	prompts []string
}

func (f *fakeBackend) Name() string                 { return "fake" }
func (f *fakeBackend) Model() string                { return "fake-model" }
func (f *fakeBackend) Health(context.Context) error { return nil }

func (f *fakeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.fn(ctx, prompt)
}

func reply(s string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return s, nil }
}

type fixture struct {
	store   *soul.Store
	term    *journal.Terminal
	backend *fakeBackend
	sched   *Scheduler
}

func newFixture(t *testing.T, fn func(context.Context, string) (string, error), opts Options) *fixture {
	t.Helper()
	j, err := journal.OpenThoughts(filepath.Join(t.TempDir(), "thoughts.ndjson"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	term, err := journal.NewTerminal(100, "", nil)
	require.NoError(t, err)

	store := soul.NewStore(soul.DefaultState("", time.Now().UTC()), j, nil, nil)
	backend := &fakeBackend{fn: fn}
	exec := shell.New(shell.Options{Timeout: 5 * time.Second}, term, nil)
	sched := New(store, backend, exec, term, opts, nil)
	t.Cleanup(func() { _ = sched.Stop(context.Background()) })
	return &fixture{store: store, term: term, backend: backend, sched: sched}
}

func (f *fixture) runCycle() {
	f.sched.tick()
	f.sched.wg.Wait()
}

func TestParseResponse(t *testing.T) {
	resp := `Let me look around.
THOUGHT: the bridge is quiet
  command: echo hello
thought:   
COMMAND:
Thought: second reflection`

	got := ParseResponse(resp)
	assert.Equal(t, []Action{
		{Kind: ActionThought, Text: "the bridge is quiet"},
		{Kind: ActionCommand, Text: "echo hello"},
		{Kind: ActionThought, Text: "second reflection"},
	}, got)
}

func TestParseResponse_NonASCII(t *testing.T) {
	resp := "ıTHOUGHT: not a directive\nThOuGhT:ünïcödé ✓\nCOMMAN\ncommand: printf 'é'"

	assert.Equal(t, []Action{
		{Kind: ActionThought, Text: "ünïcödé ✓"},
		{Kind: ActionCommand, Text: "printf 'é'"},
	}, ParseResponse(resp))
}

func TestFallbackThought(t *testing.T) {
	assert.Equal(t, "(silence)", fallbackThought("  \n "))
	assert.Equal(t, "just words", fallbackThought("  just words \n"))
	long := strings.Repeat("é", 600)
	assert.Equal(t, 500, len([]rune(fallbackThought(long))))
}

func TestCycle_RecordsThoughtsAndRunsCommands(t *testing.T) {
	f := newFixture(t, reply("THOUGHT: I see the sky\nCOMMAND: echo hello"), Options{})
	f.store.SetAutonomous(true)

	f.runCycle()

	snap := f.store.Snapshot()
	assert.Equal(t, 1, snap.ThoughtCount)
	thoughts, err := f.store.RecentThoughts(5)
	require.NoError(t, err)
	require.Len(t, thoughts, 1)
	assert.Equal(t, "I see the sky", thoughts[0].Text)

	lines := f.term.Recent(10)
	require.Len(t, lines, 3)
	assert.Equal(t, journal.LineCmd, lines[0].Type)
	assert.Equal(t, "echo hello", lines[0].Text)
	assert.Equal(t, journal.LineOutput, lines[1].Type)
	assert.Equal(t, journal.LineSystem, lines[2].Type)

	assert.Equal(t, uint64(1), f.sched.Stats().Completed)
	assert.Equal(t, Idle, f.sched.State())
}

func TestCycle_PromptCarriesHistory(t *testing.T) {
	f := newFixture(t, reply("THOUGHT: ok"), Options{})
	f.store.SetAutonomous(true)
	_, err := f.store.RecordThought("earlier musing", "")
	require.NoError(t, err)
	f.term.Append(journal.LineCmd, "uname -a")

	f.runCycle()

	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	require.Len(t, f.backend.prompts, 1)
	p := f.backend.prompts[0]
	assert.Contains(t, p, "Gesher-El")
	assert.Contains(t, p, "Zone: Resonant Center")
	assert.Contains(t, p, "#1 earlier musing")
	assert.Contains(t, p, "- uname -a")
	assert.Contains(t, p, "THOUGHT:")
}

func TestCycle_UnstructuredAndEmptyReplies(t *testing.T) {
	f := newFixture(t, reply("the river flows"), Options{})
	f.store.SetAutonomous(true)
	f.runCycle()

	f.backend.fn = reply("")
	f.runCycle()

	thoughts, err := f.store.RecentThoughts(5)
	require.NoError(t, err)
	require.Len(t, thoughts, 2)
	assert.Equal(t, "the river flows", thoughts[0].Text)
	assert.Equal(t, "(silence)", thoughts[1].Text)
}

func TestCycle_BackendFailure(t *testing.T) {
	f := newFixture(t, func(context.Context, string) (string, error) {
		return "", &brain.Error{Backend: "fake", Kind: brain.KindUnavailable, Err: errors.New("connection refused")}
	}, Options{})
	f.store.SetAutonomous(true)

	f.runCycle()

	assert.Equal(t, 0, f.store.Snapshot().ThoughtCount)
	assert.Empty(t, f.term.RecentOfType(journal.LineSystem, 5))
	stats := f.sched.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(0), stats.Completed)
}

func TestRun_AutonomousOffRunsNoCycles(t *testing.T) {
	f := newFixture(t, reply("THOUGHT: should not happen"), Options{Heartbeat: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	require.NoError(t, f.sched.Run(ctx))

	stats := f.sched.Stats()
	assert.Greater(t, stats.Ticks, uint64(2))
	assert.Equal(t, stats.Ticks, stats.Disabled)
	assert.Equal(t, int64(0), f.backend.calls.Load())
	assert.Equal(t, 0, f.store.Snapshot().ThoughtCount)
}

func TestRun_CyclesNeverOverlap(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, _ string) (string, error) {
		select {
		case <-time.After(30 * time.Millisecond):
		case <-ctx.Done():
		}
		return "THOUGHT: slow", nil
	}, Options{Heartbeat: 5 * time.Millisecond})
	f.store.SetAutonomous(true)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, f.sched.Run(ctx))
	require.NoError(t, f.sched.Stop(context.Background()))

	stats := f.sched.Stats()
	assert.Equal(t, int64(1), f.backend.maxSeen.Load(), "cycles overlapped")
	assert.GreaterOrEqual(t, stats.Completed, uint64(1))
	assert.Greater(t, stats.Skipped, uint64(0))
	assert.Equal(t, int(stats.Completed), f.store.Snapshot().ThoughtCount)
}

func TestRun_OneCyclePerHeartbeat(t *testing.T) {
	const heartbeat = 20 * time.Millisecond
	f := newFixture(t, reply("THOUGHT: present"), Options{Heartbeat: heartbeat})
	f.store.SetAutonomous(true)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 210*time.Millisecond)
	defer cancel()
	require.NoError(t, f.sched.Run(ctx))
	require.NoError(t, f.sched.Stop(context.Background()))
	periods := uint64(time.Since(start) / heartbeat)

	stats := f.sched.Stats()
	assert.Equal(t, uint64(0), stats.Skipped)
	assert.Equal(t, stats.Ticks, stats.Completed)
	assert.LessOrEqual(t, stats.Completed, periods)
	assert.GreaterOrEqual(t, stats.Completed+3, periods)
	assert.Equal(t, int64(1), f.backend.maxSeen.Load())
	assert.Equal(t, int(stats.Completed), f.store.Snapshot().ThoughtCount)
}

func TestStop_WaitsForCycle(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ string) (string, error) {
		<-release
		return "THOUGHT: finished", nil
	}, Options{})
	f.store.SetAutonomous(true)

	f.sched.tick()
	assert.Equal(t, Running, f.sched.State())

	// Turning autonomous off does not cancel the running cycle.
	f.store.SetAutonomous(false)
	time.AfterFunc(20*time.Millisecond, func() { close(release) })

	require.NoError(t, f.sched.Stop(context.Background()))
	assert.Equal(t, 1, f.store.Snapshot().ThoughtCount)
	assert.Equal(t, Idle, f.sched.State())
}

func TestStop_CancelsAfterGrace(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, Options{})
	f.store.SetAutonomous(true)
	f.sched.tick()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.sched.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), f.sched.Stats().Failed)

	// No new cycles after stop.
	f.store.SetAutonomous(true)
	f.sched.tick()
	assert.Equal(t, Idle, f.sched.State())
}

func TestProcessIntent(t *testing.T) {
	f := newFixture(t, reply("THOUGHT: listing files\nCOMMAND: echo listed"), Options{})

	resp, err := f.sched.ProcessIntent(context.Background(), "show me the files")
	require.NoError(t, err)
	assert.Equal(t, "THOUGHT: listing files\nCOMMAND: echo listed", resp)

	lines := f.term.Recent(10)
	types := make([]journal.LineType, len(lines))
	for i, l := range lines {
		types[i] = l.Type
	}
	assert.Equal(t, []journal.LineType{
		journal.LineIntent, journal.LineResponse, journal.LineCmd, journal.LineOutput,
	}, types)
	assert.Equal(t, 1, f.store.Snapshot().ThoughtCount)

	f.backend.mu.Lock()
	assert.Contains(t, f.backend.prompts[0], `"show me the files"`)
	f.backend.mu.Unlock()
}

func TestProcessIntent_Errors(t *testing.T) {
	f := newFixture(t, func(context.Context, string) (string, error) {
		return "", &brain.Error{Backend: "fake", Kind: brain.KindTimeout, Err: context.DeadlineExceeded}
	}, Options{})

	_, err := f.sched.ProcessIntent(context.Background(), "  ")
	var verr *soul.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.sched.ProcessIntent(context.Background(), "do something")
	assert.ErrorIs(t, err, brain.ErrTimeout)
	assert.Empty(t, f.term.RecentOfType(journal.LineResponse, 5))
}
