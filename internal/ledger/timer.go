package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// SnapshotWorker periodically refreshes balance snapshots and verifies them
// against a full journal replay. A snapshot that fails verification is
// rebuilt and counted as drift.
type SnapshotWorker struct {
	projector *Projector
	store     Store
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewSnapshotWorker creates a snapshot maintenance worker.
func NewSnapshotWorker(projector *Projector, store Store, logger *slog.Logger) *SnapshotWorker {
	return &SnapshotWorker{
		projector: projector,
		store:     store,
		interval:  time.Minute,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the worker loop is actively running.
func (w *SnapshotWorker) Running() bool {
	return w.running.Load()
}

// Start begins the refresh loop. Call in a goroutine.
func (w *SnapshotWorker) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.safeRefresh(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *SnapshotWorker) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

func (w *SnapshotWorker) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in snapshot worker", "panic", fmt.Sprint(r))
		}
	}()
	w.refreshAll(ctx)
}

func (w *SnapshotWorker) refreshAll(ctx context.Context) {
	accounts, err := w.store.Accounts(ctx)
	if err != nil {
		w.logger.Warn("failed to list ledger accounts", "error", err)
		return
	}

	for _, acct := range accounts {
		result, err := w.projector.Verify(ctx, acct)
		if err != nil {
			w.logger.Warn("failed to verify snapshot", "account", acct, "error", err)
			continue
		}
		if !result.Match {
			SnapshotDrift.Inc()
			w.logger.Error("snapshot drift detected, rebuilding",
				"account", acct,
				"projected", result.Projected,
				"replayed", result.Replayed,
			)
		}

		if _, err := w.projector.Refresh(ctx, acct); err != nil {
			w.logger.Warn("failed to refresh snapshot", "account", acct, "error", err)
		}
	}
}
