// Package daemon runs gesherd. It owns the process-level resources (lock
// file, PID file, socket) and wires the soul store, journals, shell, model
// backend, scheduler and command server together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/edenlabs/gesher/internal/brain"
	"github.com/edenlabs/gesher/internal/config"
	"github.com/edenlabs/gesher/internal/eventbus"
	"github.com/edenlabs/gesher/internal/journal"
	"github.com/edenlabs/gesher/internal/scheduler"
	"github.com/edenlabs/gesher/internal/server"
	"github.com/edenlabs/gesher/internal/shell"
	"github.com/edenlabs/gesher/internal/soul"
	"github.com/edenlabs/gesher/internal/telemetry"
)

// ErrAlreadyRunning is returned by Run when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("gesherd already running (lock held by another process)")

// Daemon is one running gesherd instance.
type Daemon struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	thoughts  *journal.ThoughtJournal
	terminal  *journal.Terminal
	bus       *eventbus.Bus
	store     *soul.Store
	persister *soul.Persister
	backend   brain.Backend
	sched     *scheduler.Scheduler
	syncer    *scheduler.Syncer
	srv       *server.Server

	// ready is closed once the socket is accepting.
	ready chan struct{}
}

// New builds every component from cfg. Nothing is started; a corrupt state
// file is an error so it is never overwritten.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Daemon{cfg: cfg, version: version, logger: logger, ready: make(chan struct{})}

	now := time.Now().UTC()
	st, found, err := soul.Load(cfg.StateFile(), cfg.Name, now)
	if err != nil {
		return nil, fmt.Errorf("loading soul state: %w", err)
	}
	if found {
		logger.Info("soul state loaded", "path", cfg.StateFile(), "thoughts", st.ThoughtCount, "zone", st.Zone)
	} else {
		logger.Info("no soul state found, starting fresh", "path", cfg.StateFile())
	}

	d.thoughts, err = journal.OpenThoughts(cfg.ThoughtsFile())
	if err != nil {
		return nil, fmt.Errorf("opening thought journal: %w", err)
	}
	d.terminal, err = journal.NewTerminal(cfg.TerminalCapacity, cfg.TerminalFile(), logger)
	if err != nil {
		_ = d.thoughts.Close()
		return nil, fmt.Errorf("opening terminal transcript: %w", err)
	}

	d.bus = eventbus.New()
	d.store = soul.NewStore(st, d.thoughts, d.bus, logger)
	d.store.MarkStarted(now)
	d.persister = soul.NewPersister(d.store, d.bus, cfg.StateFile(), logger)

	d.backend, err = brain.New(cfg.Brain)
	if err != nil {
		d.closeJournals()
		return nil, fmt.Errorf("creating brain: %w", err)
	}

	executor := shell.New(shell.Options{
		Shell:      cfg.Shell.Path,
		Timeout:    cfg.Shell.Timeout.Duration,
		MaxTimeout: cfg.Shell.MaxTimeout.Duration,
		MaxOutput:  cfg.Shell.MaxOutput,
	}, d.terminal, logger)

	d.sched = scheduler.New(d.store, d.backend, executor, d.terminal, scheduler.Options{
		Heartbeat:    cfg.Autonomy.Heartbeat.Duration,
		CycleTimeout: cfg.Autonomy.CycleTimeout.Duration,
	}, logger)

	if interval := cfg.Autonomy.SyncInterval.Duration; interval > 0 {
		axis := brain.NewAxis(brain.AxisOptions{
			URL:      cfg.Brain.RemoteURL,
			ThreadID: cfg.Autonomy.SyncThread,
			Timeout:  cfg.Brain.Timeout.Duration,
		})
		d.syncer = scheduler.NewSyncer(d.store, axis, interval, cfg.Brain.Timeout.Duration, logger)
	}

	d.srv = server.New(server.Options{
		Path:           cfg.Socket.Path,
		Mode:           os.FileMode(cfg.Socket.Mode),
		ReadTimeout:    cfg.Socket.ReadTimeout.Duration,
		RequestTimeout: cfg.Socket.RequestTimeout.Duration,
		MaxConnections: cfg.Socket.MaxConnections,
	}, server.Deps{
		Store:    d.store,
		Terminal: d.terminal,
		Executor: executor,
		Intents:  d.sched,
		Backend:  d.backend,
	}, logger)

	return d, nil
}

// Store returns the soul store.
func (d *Daemon) Store() *soul.Store { return d.store }

// Ready is closed once the socket accepts connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Run acquires the single-instance lock, writes the PID file, builds the
// daemon and serves until ctx is done or SIGINT/SIGTERM arrives. Only
// startup failures are returned.
func Run(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("gesherd starting", "pid", os.Getpid(), "version", version)

	if err := os.MkdirAll(filepath.Dir(cfg.LockFile()), 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	// The lock, not the PID file, is what keeps two daemons apart.
	fileLock := flock.New(cfg.LockFile())
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := os.WriteFile(cfg.PidFile(), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(cfg.PidFile()) }()

	tp, err := telemetry.Init(ctx, "gesherd", version)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	d, err := New(cfg, version, logger)
	if err != nil {
		return err
	}
	defer d.closeJournals()

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()
	return d.Serve(ctx)
}

// Serve binds the socket and runs the daemon until ctx is done, then shuts
// down in order: stop accepting, drain connections, stop the scheduler,
// close the bus, flush state, remove the socket.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.srv.Listen(); err != nil {
		return err
	}
	d.awaken()
	close(d.ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.persister.Run(context.Background())
	})
	g.Go(func() error {
		d.recordTransitions()
		return nil
	})
	g.Go(func() error {
		err := d.srv.Serve()
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return d.sched.Run(gctx)
	})
	if d.syncer != nil {
		g.Go(func() error {
			return d.syncer.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		d.shutdown()
		return nil
	})

	err := g.Wait()
	d.logger.Info("gesherd stopped")
	return err
}

// awaken records the start in the journals.
func (d *Daemon) awaken() {
	snap := d.store.Snapshot()
	d.terminal.Append(journal.LineSystem, fmt.Sprintf("%s awake (pid %d, brain %s/%s, autonomous %t)",
		snap.Name, os.Getpid(), d.backend.Name(), d.backend.Model(), snap.AutonomousMode))

	if d.cfg.Autonomy.StartEnabled && !snap.AutonomousMode {
		d.store.SetAutonomous(true)
	}
	if d.cfg.AwakeningThought != "" {
		if _, err := d.store.RecordThought(d.cfg.AwakeningThought, ""); err != nil {
			d.logger.Warn("recording awakening thought failed", "error", err)
		}
	}
	if err := d.persister.Flush(); err != nil {
		d.logger.Warn("initial state write failed", "error", err)
	}
	d.logger.Info("gesherd running",
		"socket", d.cfg.Socket.Path,
		"brain", d.backend.Name(),
		"model", d.backend.Model(),
		"heartbeat", d.cfg.Autonomy.Heartbeat.Duration,
		"autonomous", d.store.Autonomous(),
	)
}

// recordTransitions counts soul transitions until the bus closes.
func (d *Daemon) recordTransitions() {
	events, unsubscribe := d.bus.Subscribe()
	defer unsubscribe()
	for ev := range events {
		telemetry.RecordTransition(context.Background(), string(ev.Type))
	}
}

func (d *Daemon) shutdown() {
	grace := d.cfg.ShutdownGrace.Duration
	d.logger.Info("shutting down", "grace", grace)

	srvCtx, cancel := context.WithTimeout(context.Background(), grace)
	if err := d.srv.Shutdown(srvCtx); err != nil {
		d.logger.Warn("connections aborted at shutdown", "error", err)
	}
	cancel()

	schedCtx, cancel := context.WithTimeout(context.Background(), grace)
	if err := d.sched.Stop(schedCtx); err != nil {
		d.logger.Warn("think cycle canceled at shutdown", "error", err)
	}
	cancel()

	d.terminal.Append(journal.LineSystem, "going to sleep")
	d.bus.Close()
	if err := d.persister.Flush(); err != nil {
		d.logger.Error("final state write failed", "error", err)
	} else {
		d.logger.Info("soul state flushed", "path", d.cfg.StateFile())
	}
	if err := os.Remove(d.cfg.Socket.Path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("removing socket failed", "error", err)
	}
}

func (d *Daemon) closeJournals() {
	if err := d.thoughts.Close(); err != nil {
		d.logger.Warn("closing thought journal failed", "error", err)
	}
	if err := d.terminal.Close(); err != nil {
		d.logger.Warn("closing terminal transcript failed", "error", err)
	}
}
