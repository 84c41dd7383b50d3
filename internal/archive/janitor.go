package archive

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically ages out old messages, prunes expired tombstones
// and compacts the archive.
type Janitor struct {
	db        *DB
	logger    *zap.Logger
	interval  time.Duration
	retention time.Duration
	cancel    context.CancelFunc
}

// NewJanitor creates a janitor. interval controls how often maintenance
// runs, retention how long messages and tombstones are kept.
func NewJanitor(db *DB, interval, retention time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		db:        db,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

// Start begins the maintenance loop.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	go j.loop(ctx)
}

// Stop stops the loop.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
}

func (j *Janitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce()
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one maintenance pass.
func (j *Janitor) RunOnce() {
	msgs, err := j.db.CleanupOldMessages(j.retention)
	if err != nil {
		j.logger.Error("archive cleanup failed", zap.Error(err))
		return
	}
	tombs, err := j.db.PruneTombstones(j.retention)
	if err != nil {
		j.logger.Error("tombstone prune failed", zap.Error(err))
		return
	}
	if msgs == 0 && tombs == 0 {
		return
	}
	if err := j.db.Vacuum(); err != nil {
		j.logger.Warn("vacuum failed", zap.Error(err))
	}
	j.logger.Info("archive maintenance done",
		zap.Int64("messages_removed", msgs),
		zap.Int64("tombstones_pruned", tombs))
}
