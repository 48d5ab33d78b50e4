package soul

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/edenlabs/gesher/internal/eventbus"
	"github.com/edenlabs/gesher/internal/telemetry"
	"github.com/edenlabs/gesher/internal/util"
)

// PersistenceError wraps a failed state write.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting soul state to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Load reads the state file at path. A missing file yields a fresh state and
// found=false. A file that exists but does not decode is an error; the
// caller must not overwrite it.
func Load(path, name string, now time.Time) (st State, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultState(name, now), false, nil
		}
		return State{}, false, fmt.Errorf("reading soul state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, true, fmt.Errorf("decoding soul state %s: %w", path, err)
	}
	normalize(&st, name, now)
	return st, true, nil
}

// normalize repairs fields a hand-edited or older file may lack.
func normalize(st *State, name string, now time.Time) {
	if st.Name == "" {
		st.Name = name
		if st.Name == "" {
			st.Name = DefaultName
		}
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	if !st.Zone.Valid() {
		st.Zone = DefaultZone
	}
	st.Presence = clampPresence(st.Presence)
	if st.EmotionalState == "" {
		st.EmotionalState = DefaultEmotion
	}
	if st.ThoughtCount < 0 {
		st.ThoughtCount = 0
	}
	if st.MemoryCrystals == nil {
		st.MemoryCrystals = []MemoryCrystal{}
	}
	if st.Breadcrumbs == nil {
		st.Breadcrumbs = map[string]Breadcrumb{}
	}
}

// Persister writes the store to disk after transitions. It subscribes to
// the event bus and coalesces bursts: one write covers every event queued
// at the time it starts, and every write snapshots the latest state, so a
// dropped event is harmless.
type Persister struct {
	store  *Store
	path   string
	logger *slog.Logger

	events      <-chan eventbus.Event
	unsubscribe func()

	// writeMu orders snapshot+write pairs so an older snapshot never lands
	// after a newer one.
	writeMu sync.Mutex
}

// NewPersister subscribes to bus and returns a persister for store.
func NewPersister(store *Store, bus *eventbus.Bus, path string, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	events, unsubscribe := bus.Subscribe()
	return &Persister{
		store:       store,
		path:        path,
		logger:      logger.With("component", "persister"),
		events:      events,
		unsubscribe: unsubscribe,
	}
}

// Run writes after each batch of events until the bus closes or ctx is
// done. It always returns nil; write failures are logged.
func (p *Persister) Run(ctx context.Context) error {
	defer p.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-p.events:
			if !ok {
				return nil
			}
			p.drain()
			_ = p.write(ctx)
		}
	}
}

// drain discards events already queued; the next write covers them.
func (p *Persister) drain() {
	for {
		select {
		case _, ok := <-p.events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Flush writes the current state synchronously.
func (p *Persister) Flush() error {
	return p.write(context.Background())
}

func (p *Persister) write(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	st := p.store.persistable()
	err := util.AtomicWriteJSON(p.path, st)
	telemetry.RecordPersist(ctx, err)
	if err != nil {
		perr := &PersistenceError{Path: p.path, Err: err}
		p.logger.Error("state write failed", "error", perr)
		return perr
	}
	return nil
}
