package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/pkg/logger"
)

// OutboxCleanupWorker deletes processed outbox events older than the
// retention window. Failed events are kept for inspection.
type OutboxCleanupWorker struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, retention, interval time.Duration, log *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    log,
		now:       time.Now,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error(err, "Failed to clean up outbox")
			}
		}
	}
}

func (w *OutboxCleanupWorker) RunOnce(ctx context.Context) (int64, error) {
	n, err := w.repo.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("Deleted processed outbox events", "count", n)
	}
	return n, nil
}
