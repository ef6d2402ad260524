// Package workers holds the three periodic jobs that advance submissions
// through their lifecycle. Workers coordinate solely through the repository's
// lock-and-replace lease; errors are logged and retried on a later tick.
package workers

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/SharedCode/dms"
	"github.com/SharedCode/dms/sdes"
)

// SdesWorker drains Submitted items: notify SDES that the zip is ready, then
// mark the item Forwarded. A failed notification leaves the item Submitted
// for the next tick.
type SdesWorker struct {
	repository dms.Repository
	notifier   sdes.Notifier
}

func NewSdesWorker(repository dms.Repository, notifier sdes.Notifier) *SdesWorker {
	return &SdesWorker{
		repository: repository,
		notifier:   notifier,
	}
}

// Run drains the Submitted queue until empty. One tick of the scheduler.
func (w *SdesWorker) Run(ctx context.Context) error {
	for {
		result, err := w.repository.LockAndReplaceOldestItemByStatus(ctx, dms.Submitted, func(ctx context.Context, item dms.SubmissionItem) (dms.SubmissionItem, error) {
			if err := w.notifier.Notify(ctx, item); err != nil {
				return dms.SubmissionItem{}, err
			}
			item.Status = dms.Forwarded
			return item, nil
		})
		if err != nil {
			// The item stays Submitted with its lock cleared and would be
			// re-leased immediately; end the tick so it retries next tick.
			log.Error(fmt.Sprintf("SDES notification failed, will retry next tick, details: %v", err))
			return nil
		}
		if result == dms.NotFound {
			return nil
		}
	}
}
