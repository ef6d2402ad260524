package workers

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/SharedCode/dms"
)

// retireBatchSize caps how many items one tick promotes per status.
const retireBatchSize = 100

// FailureWorker retires items whose callback delivery exhausted its budget:
// Processed or Failed items with at least maxFailures failed attempts move to
// CallbackFailed, a terminal state the callback worker no longer touches.
type FailureWorker struct {
	repository  dms.Repository
	maxFailures int
}

func NewFailureWorker(repository dms.Repository, maxFailures int) *FailureWorker {
	return &FailureWorker{
		repository:  repository,
		maxFailures: maxFailures,
	}
}

// Run promotes every exhausted Processed and Failed item. One tick of the scheduler.
func (w *FailureWorker) Run(ctx context.Context) error {
	if err := w.retire(ctx, dms.Processed); err != nil {
		return err
	}
	return w.retire(ctx, dms.Failed)
}

func (w *FailureWorker) retire(ctx context.Context, status dms.Status) error {
	for {
		items, err := w.repository.ListByStatus(ctx, status, w.maxFailures, retireBatchSize)
		if err != nil {
			return err
		}
		promoted := 0
		for _, item := range items {
			// Keeps the item's existing failure reason, if any. A concurrent
			// status change makes the update a no-op for this tick.
			if _, err := w.repository.Update(ctx, item.Owner, item.ID, dms.CallbackFailed, item.FailureReason); err != nil {
				log.Warn(fmt.Sprintf("submission %s not retired, details: %v", item.ID, err))
				continue
			}
			promoted++
			log.Info(fmt.Sprintf("submission %s retired as CallbackFailed after %d callback attempts", item.ID, item.FailureCount))
		}
		// Anything not promoted stays in the listing; stop rather than spin.
		if len(items) < retireBatchSize || promoted == 0 {
			return nil
		}
	}
}
