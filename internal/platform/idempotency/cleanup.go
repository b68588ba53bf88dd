package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cleaner purges expired records on a cron schedule.
type Cleaner struct {
	store  Store
	batch  int
	clock  func() time.Time
	logger *zap.Logger
}

// NewCleaner constructs a Cleaner deleting at most batch records per round trip.
func NewCleaner(store Store, batch int, logger *zap.Logger) *Cleaner {
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{store: store, batch: batch, clock: time.Now, logger: logger}
}

// Run purges batches until a short batch signals nothing expired remains.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	total := 0
	for {
		removed, err := c.store.PurgeExpired(ctx, c.clock().UTC(), c.batch)
		total += removed
		if err != nil {
			return total, err
		}
		if removed < c.batch {
			return total, nil
		}
	}
}

// Schedule registers Run on sched. The returned scheduler is not started.
func (c *Cleaner) Schedule(sched *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	id, err := sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		removed, err := c.Run(ctx)
		if err != nil {
			c.logger.Warn("idempotency cleanup failed", zap.Int("removed", removed), zap.Error(err))
			return
		}
		if removed > 0 {
			c.logger.Info("idempotency cleanup", zap.Int("removed", removed))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("idempotency: schedule cleanup %q: %w", spec, err)
	}
	return id, nil
}
