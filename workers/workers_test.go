package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/SharedCode/dms"
	"github.com/SharedCode/dms/inmemory"
)

var ctx = context.Background()

// stubNotifier satisfies both the SDES and callback Notifier interfaces.
type stubNotifier struct {
	mu    sync.Mutex
	calls []string
	// notify decides each delivery's outcome; nil means always succeed.
	notify func(item dms.SubmissionItem) error
}

func (n *stubNotifier) Notify(ctx context.Context, item dms.SubmissionItem) error {
	n.mu.Lock()
	n.calls = append(n.calls, item.SdesCorrelationID)
	n.mu.Unlock()
	if n.notify != nil {
		return n.notify(item)
	}
	return nil
}

func (n *stubNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// freezeClock pins the repository clock and returns an advance function so
// inserts get distinct, ordered LastUpdated stamps.
func freezeClock(t *testing.T) func() {
	t.Helper()
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	inmemory.Now = func() time.Time { return now }
	t.Cleanup(func() { inmemory.Now = time.Now })
	return func() { now = now.Add(time.Second) }
}

func insert(t *testing.T, repo dms.Repository, id string, status dms.Status, failureCount int) {
	t.Helper()
	err := repo.Insert(ctx, dms.SubmissionItem{
		ID:                id,
		Owner:             "owner1",
		SdesCorrelationID: "cid-" + id,
		CallbackURL:       "http://client.mdtp/callback",
		Status:            status,
		FailureCount:      failureCount,
	})
	if err != nil {
		t.Fatalf("insert %s failed: %v", id, err)
	}
}

func statusOf(t *testing.T, repo dms.Repository, id string) dms.SubmissionItem {
	t.Helper()
	item, err := repo.Get(ctx, "owner1", id)
	if err != nil || item == nil {
		t.Fatalf("item %s not found: %v", id, err)
	}
	return *item
}

func TestSdesWorker_DrainsSubmittedOldestFirst(t *testing.T) {
	advance := freezeClock(t)
	repo := inmemory.NewRepository(30 * time.Second)
	notifier := &stubNotifier{}

	for _, id := range []string{"a", "b", "c"} {
		insert(t, repo, id, dms.Submitted, 0)
		advance()
	}
	insert(t, repo, "done", dms.Forwarded, 0)

	if err := NewSdesWorker(repo, notifier).Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if got := statusOf(t, repo, id).Status; got != dms.Forwarded {
			t.Errorf("item %s status = %s, want Forwarded", id, got)
		}
	}
	want := []string{"cid-a", "cid-b", "cid-c"}
	if len(notifier.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", notifier.calls, want)
	}
	for i := range want {
		if notifier.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, notifier.calls[i], want[i])
		}
	}
}

func TestSdesWorker_FailureEndsTickAndKeepsSubmitted(t *testing.T) {
	advance := freezeClock(t)
	repo := inmemory.NewRepository(30 * time.Second)
	notifier := &stubNotifier{notify: func(dms.SubmissionItem) error {
		return errors.New("sdes unavailable")
	}}

	insert(t, repo, "a", dms.Submitted, 0)
	advance()
	insert(t, repo, "b", dms.Submitted, 0)

	if err := NewSdesWorker(repo, notifier).Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if notifier.callCount() != 1 {
		t.Errorf("a failing notification should end the tick, got %d calls", notifier.callCount())
	}
	for _, id := range []string{"a", "b"} {
		item := statusOf(t, repo, id)
		if item.Status != dms.Submitted {
			t.Errorf("item %s status = %s, want Submitted", id, item.Status)
		}
		if item.LockedAt != nil {
			t.Errorf("item %s lock not cleared", id)
		}
	}
}

func TestCallbackWorker_DeliversAndCompletes(t *testing.T) {
	advance := freezeClock(t)
	repo := inmemory.NewRepository(30 * time.Second)
	notifier := &stubNotifier{}

	insert(t, repo, "ok", dms.Processed, 0)
	advance()
	insert(t, repo, "ko", dms.Failed, 0)
	reason := "virus scan failed"
	if _, err := repo.Update(ctx, "owner1", "ko", dms.Failed, &reason); err != nil {
		t.Fatalf("seeding failure reason failed: %v", err)
	}

	if err := NewCallbackWorker(repo, notifier).Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, id := range []string{"ok", "ko"} {
		if got := statusOf(t, repo, id).Status; got != dms.Completed {
			t.Errorf("item %s status = %s, want Completed", id, got)
		}
	}
	if item := statusOf(t, repo, "ko"); item.FailureReason == nil || *item.FailureReason != reason {
		t.Errorf("failure reason should survive completion, got %v", item.FailureReason)
	}
}

func TestCallbackWorker_FailureCountsOneAttemptPerTick(t *testing.T) {
	advance := freezeClock(t)
	repo := inmemory.NewRepository(30 * time.Second)
	notifier := &stubNotifier{notify: func(dms.SubmissionItem) error {
		return errors.New("client endpoint down")
	}}

	insert(t, repo, "a", dms.Processed, 0)
	advance()
	insert(t, repo, "b", dms.Processed, 0)
	advance()

	worker := NewCallbackWorker(repo, notifier)
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// Every item gets exactly one attempt per tick, even when all fail.
	if notifier.callCount() != 2 {
		t.Fatalf("first tick made %d calls, want 2", notifier.callCount())
	}
	for _, id := range []string{"a", "b"} {
		item := statusOf(t, repo, id)
		if item.Status != dms.Processed || item.FailureCount != 1 {
			t.Errorf("item %s after first tick: status %s count %d, want Processed 1", id, item.Status, item.FailureCount)
		}
	}

	advance()
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if notifier.callCount() != 4 {
		t.Fatalf("second tick should retry both items, got %d total calls", notifier.callCount())
	}
	for _, id := range []string{"a", "b"} {
		if got := statusOf(t, repo, id).FailureCount; got != 2 {
			t.Errorf("item %s failure count = %d, want 2", id, got)
		}
	}
}

func TestFailureWorker_RetiresExhaustedItems(t *testing.T) {
	advance := freezeClock(t)
	repo := inmemory.NewRepository(30 * time.Second)

	insert(t, repo, "exhausted", dms.Processed, 3)
	advance()
	insert(t, repo, "pending", dms.Processed, 2)
	advance()
	insert(t, repo, "exhausted-failed", dms.Failed, 5)

	if err := NewFailureWorker(repo, 3).Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := statusOf(t, repo, "exhausted").Status; got != dms.CallbackFailed {
		t.Errorf("exhausted item status = %s, want CallbackFailed", got)
	}
	if got := statusOf(t, repo, "exhausted-failed").Status; got != dms.CallbackFailed {
		t.Errorf("exhausted Failed item status = %s, want CallbackFailed", got)
	}
	if got := statusOf(t, repo, "pending").Status; got != dms.Processed {
		t.Errorf("item below the budget should stay Processed, got %s", got)
	}
}

// Walks one submission through the whole lifecycle: forwarded to SDES, marked
// Processed by the downstream report, callback exhausted, then retired.
func TestWorkers_LifecycleWithExhaustedCallback(t *testing.T) {
	freezeClock(t)
	repo := inmemory.NewRepository(30 * time.Second)
	insert(t, repo, "a", dms.Submitted, 0)

	if err := NewSdesWorker(repo, &stubNotifier{}).Run(ctx); err != nil {
		t.Fatalf("sdes tick failed: %v", err)
	}
	if got := statusOf(t, repo, "a").Status; got != dms.Forwarded {
		t.Fatalf("status = %s, want Forwarded", got)
	}

	if _, err := repo.UpdateByCorrelationID(ctx, "cid-a", dms.Processed, nil); err != nil {
		t.Fatalf("processing report failed: %v", err)
	}

	const maxFailures = 3
	failing := &stubNotifier{notify: func(dms.SubmissionItem) error {
		return fmt.Errorf("connection refused")
	}}
	callbackWorker := NewCallbackWorker(repo, failing)
	failureWorker := NewFailureWorker(repo, maxFailures)
	for i := 0; i < maxFailures; i++ {
		if err := failureWorker.Run(ctx); err != nil {
			t.Fatalf("failure tick failed: %v", err)
		}
		if got := statusOf(t, repo, "a").Status; got != dms.Processed {
			t.Fatalf("retired before the budget was exhausted, status = %s", got)
		}
		if err := callbackWorker.Run(ctx); err != nil {
			t.Fatalf("callback tick failed: %v", err)
		}
	}
	if err := failureWorker.Run(ctx); err != nil {
		t.Fatalf("final failure tick failed: %v", err)
	}
	item := statusOf(t, repo, "a")
	if item.Status != dms.CallbackFailed || item.FailureCount != maxFailures {
		t.Errorf("item not retired: status %s count %d", item.Status, item.FailureCount)
	}
}
