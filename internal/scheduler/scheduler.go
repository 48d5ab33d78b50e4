// Package scheduler drives the soul's autonomous think loop and processes
// intents sent over the socket.
//
// A single ticker fires every heartbeat. When autonomous mode is on each
// tick tries to start one think cycle; a tick that finds a cycle still
// running is skipped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edenlabs/gesher/internal/brain"
	"github.com/edenlabs/gesher/internal/journal"
	"github.com/edenlabs/gesher/internal/shell"
	"github.com/edenlabs/gesher/internal/soul"
	"github.com/edenlabs/gesher/internal/telemetry"
)

// Store is the slice of *soul.Store the scheduler uses.
type Store interface {
	Autonomous() bool
	Snapshot() soul.Snapshot
	RecordThought(text, zone string) (journal.Thought, error)
	RecentThoughts(n int) ([]journal.Thought, error)
}

// Executor runs shell commands. *shell.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) shell.Result
}

// Transcript is the terminal ring. *journal.Terminal satisfies it.
type Transcript interface {
	Append(typ journal.LineType, text string) journal.TerminalLine
	RecentOfType(typ journal.LineType, n int) []journal.TerminalLine
}

// State is the scheduler's cycle state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Stats counts ticks by outcome.
type Stats struct {
	Ticks     uint64 `json:"ticks"`
	Disabled  uint64 `json:"disabled"`
	Skipped   uint64 `json:"skipped"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Options configures a Scheduler.
type Options struct {
	Heartbeat    time.Duration
	CycleTimeout time.Duration
}

// Scheduler runs think cycles. Create with New, drive with Run, end with
// Stop.
type Scheduler struct {
	store    Store
	backend  brain.Backend
	executor Executor
	term     Transcript
	opts     Options
	logger   *slog.Logger

	// sem admits one cycle at a time.
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// cycleCtx parents every cycle; Stop cancels it once the grace is over.
	cycleCtx    context.Context
	cancelCycle context.CancelFunc

	// mu orders wg.Add in tick against Stop.
	mu       sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool
	running  atomic.Bool

	ticks, disabled, skipped, completed, failed atomic.Uint64
}

// New creates a scheduler.
func New(store Store, backend brain.Backend, executor Executor, term Transcript, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = time.Minute
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:       store,
		backend:     backend,
		executor:    executor,
		term:        term,
		opts:        opts,
		logger:      logger.With("component", "scheduler"),
		sem:         semaphore.NewWeighted(1),
		cycleCtx:    ctx,
		cancelCycle: cancel,
		stopCh:      make(chan struct{}),
	}
}

// Run ticks until ctx is done or Stop is called. In-flight cycles are left
// to Stop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.stopped.Load() {
		return nil
	}
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()

	s.logger.Info("scheduler running", "heartbeat", s.opts.Heartbeat)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick starts a cycle when autonomous mode is on and none is running.
func (s *Scheduler) tick() {
	s.ticks.Add(1)
	if !s.store.Autonomous() {
		s.disabled.Add(1)
		s.logger.Debug("tick ignored, autonomous mode off")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return
	}
	if !s.sem.TryAcquire(1) {
		s.skipped.Add(1)
		s.logger.Info("tick skipped, previous cycle still running")
		telemetry.RecordThinkCycle(s.cycleCtx, "skipped", 0, 0, nil)
		return
	}

	s.wg.Add(1)
	s.running.Store(true)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer s.running.Store(false)
		s.cycle()
	}()
}

// cycle runs one observe, think, act pass.
func (s *Scheduler) cycle() {
	ctx, cancel := context.WithTimeout(s.cycleCtx, s.opts.CycleTimeout)
	defer cancel()

	snap := s.store.Snapshot()
	thoughts, err := s.store.RecentThoughts(historyWindow)
	if err != nil {
		s.logger.Warn("reading recent thoughts failed", "error", err)
	}
	commands := s.term.RecentOfType(journal.LineCmd, historyWindow)

	resp, err := s.backend.Generate(ctx, cyclePrompt(snap, thoughts, commands))
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("think cycle failed", "backend", s.backend.Name(), "error", err)
		telemetry.RecordThinkCycle(ctx, "failed", 0, 0, err)
		return
	}

	actions := ParseResponse(resp)
	if !hasThought(actions) {
		actions = append([]Action{{Kind: ActionThought, Text: fallbackThought(resp)}}, actions...)
	}
	nThoughts, nCommands := s.apply(ctx, actions)

	s.completed.Add(1)
	s.term.Append(journal.LineSystem,
		fmt.Sprintf("think cycle complete: %d thought(s), %d command(s)", nThoughts, nCommands))
	s.logger.Info("think cycle complete", "thoughts", nThoughts, "commands", nCommands)
	telemetry.RecordThinkCycle(ctx, "completed", nThoughts, nCommands, nil)
}

// apply records thoughts and runs commands in response order.
func (s *Scheduler) apply(ctx context.Context, actions []Action) (thoughts, commands int) {
	for _, a := range actions {
		switch a.Kind {
		case ActionThought:
			if _, err := s.store.RecordThought(a.Text, ""); err != nil {
				s.logger.Warn("recording thought failed", "error", err)
				continue
			}
			thoughts++
		case ActionCommand:
			if ctx.Err() != nil {
				s.logger.Warn("skipping command, context done", "command", a.Text)
				continue
			}
			res := s.executor.Execute(ctx, a.Text, 0)
			s.logger.Debug("command ran", "command", a.Text, "exit_code", res.ExitCode)
			commands++
		}
	}
	return thoughts, commands
}

// ProcessIntent asks the backend to act on text. Commands in the reply run
// in order and THOUGHT: lines are recorded. The raw reply is returned.
func (s *Scheduler) ProcessIntent(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &soul.ValidationError{Field: "text", Reason: "must not be empty"}
	}

	snap := s.store.Snapshot()
	s.term.Append(journal.LineIntent, text)

	resp, err := s.backend.Generate(ctx, intentPrompt(snap.Name, text))
	if err != nil {
		s.logger.Warn("intent failed", "backend", s.backend.Name(), "error", err)
		return "", err
	}
	s.term.Append(journal.LineResponse, resp)

	nThoughts, nCommands := s.apply(ctx, ParseResponse(resp))
	s.logger.Info("intent processed", "thoughts", nThoughts, "commands", nCommands)
	return resp, nil
}

// State reports whether a cycle is in flight.
func (s *Scheduler) State() State {
	if s.running.Load() {
		return Running
	}
	return Idle
}

// Stats returns tick counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:     s.ticks.Load(),
		Disabled:  s.disabled.Load(),
		Skipped:   s.skipped.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}
}

// Stop ends Run and waits for an in-flight cycle until ctx is done, then
// cancels the cycle and waits for it to unwind. Safe to call more than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped.Store(true)
		s.mu.Unlock()
		close(s.stopCh)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelCycle()
		return nil
	case <-ctx.Done():
		s.logger.Warn("cycle still running at shutdown, canceling")
		s.cancelCycle()
		<-done
		return ctx.Err()
	}
}
