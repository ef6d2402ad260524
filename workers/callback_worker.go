package workers

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"github.com/SharedCode/dms"
	"github.com/SharedCode/dms/callback"
)

// errTickDone aborts a lease without touching the item once every item in the
// queue has had its one attempt for this tick.
var errTickDone = errors.New("all items attempted this tick")

// CallbackWorker drains Processed and Failed items: deliver the client
// callback, then mark the item Completed. A failed delivery increments the
// item's failure count and keeps its status for a later attempt; the failure
// worker retires items whose count exhausts the budget.
type CallbackWorker struct {
	repository dms.Repository
	notifier   callback.Notifier
}

func NewCallbackWorker(repository dms.Repository, notifier callback.Notifier) *CallbackWorker {
	return &CallbackWorker{
		repository: repository,
		notifier:   notifier,
	}
}

// Run gives every Processed and Failed item one delivery attempt. One tick of
// the scheduler.
func (w *CallbackWorker) Run(ctx context.Context) error {
	if err := w.drain(ctx, dms.Processed); err != nil {
		return err
	}
	return w.drain(ctx, dms.Failed)
}

func (w *CallbackWorker) drain(ctx context.Context, status dms.Status) error {
	// A failed attempt restamps the item's LastUpdated, pushing it behind the
	// still untried items. Items seen once this tick are not leased again, as
	// retrying them would spin on a dead callback endpoint.
	attempted := make(map[string]bool)
	for {
		result, err := w.repository.LockAndReplaceOldestItemByStatus(ctx, status, func(ctx context.Context, item dms.SubmissionItem) (dms.SubmissionItem, error) {
			if attempted[item.SdesCorrelationID] {
				return dms.SubmissionItem{}, errTickDone
			}
			attempted[item.SdesCorrelationID] = true
			if err := w.notifier.Notify(ctx, item); err != nil {
				log.Warn(fmt.Sprintf("callback for submission %s failed (attempt %d), details: %v", item.ID, item.FailureCount+1, err))
				item.FailureCount++
				return item, nil
			}
			item.Status = dms.Completed
			return item, nil
		})
		if errors.Is(err, errTickDone) {
			return nil
		}
		if err != nil {
			log.Error(fmt.Sprintf("callback drain of %s items stopped, details: %v", status, err))
			return nil
		}
		if result == dms.NotFound {
			return nil
		}
	}
}
