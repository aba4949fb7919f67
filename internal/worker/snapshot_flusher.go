package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/modmail/internal/clock"
	"github.com/spec-kit/modmail/internal/persistence"
	"github.com/spec-kit/modmail/internal/repository"
)

const finalFlushTimeout = 10 * time.Second

// SnapshotFlusher saves the store snapshot whenever the store changed.
type SnapshotFlusher struct {
	store       repository.TicketStore
	snapshotter persistence.Snapshotter
	clock       clock.Clock
	interval    time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	flushed uint64
	primed  bool
}

// NewSnapshotFlusher constructs the flusher.
func NewSnapshotFlusher(store repository.TicketStore, snapshotter persistence.Snapshotter, clk clock.Clock, interval time.Duration, logger *zap.Logger) *SnapshotFlusher {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &SnapshotFlusher{store: store, snapshotter: snapshotter, clock: clk, interval: interval, logger: logger}
}

// Load restores the persisted snapshot into the store and marks it as
// flushed.
func (f *SnapshotFlusher) Load(ctx context.Context) error {
	snapshot, found, err := f.snapshotter.Load(ctx)
	if err != nil {
		return err
	}
	if found {
		f.store.Restore(snapshot)
		f.logger.Info("snapshot restored",
			zap.Int("blacklisted", len(snapshot.BlacklistedUsers)),
			zap.Int("users_with_history", len(snapshot.TicketLogs)))
	}
	f.mu.Lock()
	f.flushed = f.store.Version()
	f.primed = true
	f.mu.Unlock()
	return nil
}

// Flush saves the snapshot if the store changed since the last save. It
// reports whether a save happened.
func (f *SnapshotFlusher) Flush(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	version := f.store.Version()
	if f.primed && version == f.flushed {
		return false, nil
	}
	if err := f.snapshotter.Save(ctx, f.store.Snapshot()); err != nil {
		return false, err
	}
	f.flushed = version
	f.primed = true
	return true, nil
}

// Run flushes once per interval until ctx is done, then flushes a last
// time.
func (f *SnapshotFlusher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			defer cancel()
			if _, err := f.Flush(finalCtx); err != nil {
				f.logger.Error("final snapshot flush failed", zap.Error(err))
			}
			return
		case <-f.clock.After(f.interval):
			if saved, err := f.Flush(ctx); err != nil {
				f.logger.Warn("snapshot flush failed", zap.Error(err))
			} else if saved {
				f.logger.Debug("snapshot flushed")
			}
		}
	}
}
