package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/edenlabs/gesher/internal/soul"
	"github.com/edenlabs/gesher/internal/telemetry"
)

// Notifier posts a message to a remote thread. *brain.Axis satisfies it.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// SyncStore is the slice of *soul.Store the syncer uses.
type SyncStore interface {
	Snapshot() soul.Snapshot
	SetLastSync(at time.Time)
}

// SyncStats counts sync attempts by outcome.
type SyncStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// Syncer reports presence and zone to a remote thread on a fixed interval.
// It never records thoughts or terminal lines.
type Syncer struct {
	store    SyncStore
	remote   Notifier
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	sent, failed atomic.Uint64
}

// NewSyncer creates a syncer. timeout bounds each send; zero means the
// interval.
func NewSyncer(store SyncStore, remote Notifier, interval, timeout time.Duration, logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Syncer{
		store:    store,
		remote:   remote,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "sync"),
		now:      time.Now,
	}
}

// Run syncs every interval until ctx is done. Failures are logged and the
// next tick tries again.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sync running", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = s.SyncOnce(ctx)
		}
	}
}

// SyncOnce sends one status message and stamps last_sync on success.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap := s.store.Snapshot()
	err := s.remote.Send(ctx, syncMessage(snap))
	telemetry.RecordSync(ctx, err)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("sync failed", "error", err)
		return fmt.Errorf("sync: %w", err)
	}
	s.sent.Add(1)
	s.store.SetLastSync(s.now().UTC())
	s.logger.Debug("sync sent", "presence", snap.Presence, "zone", snap.Zone)
	return nil
}

// Stats returns the attempt counters.
func (s *Syncer) Stats() SyncStats {
	return SyncStats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

func syncMessage(snap soul.Snapshot) string {
	return fmt.Sprintf("%s sync: presence=%d%%, zone=%s", snap.Name, snap.Presence, snap.Zone)
}
