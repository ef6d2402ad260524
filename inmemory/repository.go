// Package inmemory provides in-process implementations of the dms Repository,
// Cache and ObjectStore. They back Standalone mode and the test suites.
package inmemory

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/SharedCode/dms"
)

// Now returns the current time and can be "synthesized" if needed.
var Now = time.Now

const defaultPageSize = 50

type itemKey struct {
	owner string
	id    string
}

type repository struct {
	mu      sync.Mutex
	lookup  map[itemKey]dms.SubmissionItem
	byCid   map[string]itemKey
	lockTTL time.Duration
}

// NewRepository instantiates an in-memory SubmissionItem repository with the
// given lock TTL for the lease primitive.
func NewRepository(lockTTL time.Duration) dms.Repository {
	return &repository{
		lookup:  make(map[itemKey]dms.SubmissionItem),
		byCid:   make(map[string]itemKey),
		lockTTL: lockTTL,
	}
}

func (r *repository) Insert(ctx context.Context, item dms.SubmissionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := itemKey{owner: item.Owner, id: item.ID}
	if _, ok := r.lookup[k]; ok {
		return dms.Error{Code: dms.Duplicate, Err: fmt.Errorf("submission %s already exists for owner %s", item.ID, item.Owner)}
	}
	if _, ok := r.byCid[item.SdesCorrelationID]; ok {
		return dms.Error{Code: dms.Duplicate, Err: fmt.Errorf("correlation id %s already exists", item.SdesCorrelationID)}
	}
	item.LastUpdated = Now()
	r.lookup[k] = item
	r.byCid[item.SdesCorrelationID] = k
	return nil
}

func (r *repository) Get(ctx context.Context, owner string, id string) (*dms.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item, ok := r.lookup[itemKey{owner: owner, id: id}]; ok {
		return &item, nil
	}
	return nil, nil
}

func (r *repository) GetByCorrelationID(ctx context.Context, correlationID string) (*dms.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if k, ok := r.byCid[correlationID]; ok {
		item := r.lookup[k]
		return &item, nil
	}
	return nil, nil
}

func (r *repository) List(ctx context.Context, owner string, filter dms.ListFilter) (dms.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]dms.SubmissionItem, 0)
	for k, item := range r.lookup {
		if k.owner != owner {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !item.LastUpdated.Before(filter.CreatedBefore) {
			continue
		}
		matches = append(matches, item)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].LastUpdated.Before(matches[j].LastUpdated)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := 0
	if filter.PageToken != "" {
		ba, err := base64.StdEncoding.DecodeString(filter.PageToken)
		if err != nil {
			return dms.Page{}, dms.Error{Code: dms.Validation, Err: fmt.Errorf("bad page token, details: %w", err)}
		}
		if offset, err = strconv.Atoi(string(ba)); err != nil {
			return dms.Page{}, dms.Error{Code: dms.Validation, Err: fmt.Errorf("bad page token, details: %w", err)}
		}
	}
	if offset >= len(matches) {
		return dms.Page{}, nil
	}
	end := offset + limit
	var next string
	if end < len(matches) {
		next = base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(end)))
	} else {
		end = len(matches)
	}
	return dms.Page{Items: matches[offset:end], NextPageToken: next}, nil
}

func (r *repository) Update(ctx context.Context, owner string, id string, newStatus dms.Status, failureReason *string) (*dms.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(itemKey{owner: owner, id: id}, newStatus, failureReason)
}

func (r *repository) UpdateByCorrelationID(ctx context.Context, correlationID string, newStatus dms.Status, failureReason *string) (*dms.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.byCid[correlationID]
	if !ok {
		return nil, dms.Error{Code: dms.NothingToUpdate, Err: fmt.Errorf("no submission with correlation id %s", correlationID)}
	}
	return r.update(k, newStatus, failureReason)
}

// update assumes the caller holds r.mu. A nil failureReason removes any
// existing reason, a non-nil one replaces it.
func (r *repository) update(k itemKey, newStatus dms.Status, failureReason *string) (*dms.SubmissionItem, error) {
	item, ok := r.lookup[k]
	if !ok {
		return nil, dms.Error{Code: dms.NothingToUpdate, Err: fmt.Errorf("no submission %s for owner %s", k.id, k.owner)}
	}
	item.Status = newStatus
	item.FailureReason = failureReason
	item.LastUpdated = Now()
	r.lookup[k] = item
	return &item, nil
}

func (r *repository) Remove(ctx context.Context, owner string, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := itemKey{owner: owner, id: id}
	if item, ok := r.lookup[k]; ok {
		delete(r.byCid, item.SdesCorrelationID)
		delete(r.lookup, k)
	}
	// Removing an absent item is not an error.
	return nil
}

func (r *repository) LockAndReplaceOldestItemByStatus(ctx context.Context, status dms.Status, f func(ctx context.Context, item dms.SubmissionItem) (dms.SubmissionItem, error)) (dms.LockResult, error) {
	leased, k, ok := r.lease(status)
	if !ok {
		return dms.NotFound, nil
	}

	// f may suspend; the lockedAt lease (not the mutex) guards the item while it runs.
	replacement, err := f(ctx, leased)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		// Clear the lock, leave status & lastUpdated untouched.
		item := r.lookup[k]
		item.LockedAt = nil
		r.lookup[k] = item
		return dms.Found, err
	}
	if replacement.SdesCorrelationID != leased.SdesCorrelationID {
		delete(r.byCid, leased.SdesCorrelationID)
		r.byCid[replacement.SdesCorrelationID] = k
	}
	replacement.Owner = k.owner
	replacement.ID = k.id
	replacement.LockedAt = nil
	replacement.LastUpdated = Now()
	r.lookup[k] = replacement
	return dms.Found, nil
}

// lease selects the oldest unlocked (or TTL-expired) item of the given status
// and stamps its lockedAt, all under the mutex so at most one caller wins.
func (r *repository) lease(status dms.Status) (dms.SubmissionItem, itemKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := Now()
	var best *dms.SubmissionItem
	var bestKey itemKey
	for k, item := range r.lookup {
		if item.Status != status || item.Locked(now, r.lockTTL) {
			continue
		}
		if best == nil || item.LastUpdated.Before(best.LastUpdated) {
			it := item
			best = &it
			bestKey = k
		}
	}
	if best == nil {
		return dms.SubmissionItem{}, itemKey{}, false
	}
	best.LockedAt = &now
	r.lookup[bestKey] = *best
	return *best, bestKey, true
}

func (r *repository) ListByStatus(ctx context.Context, status dms.Status, minFailureCount int, limit int) ([]dms.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]dms.SubmissionItem, 0)
	for _, item := range r.lookup {
		if item.Status == status && item.FailureCount >= minFailureCount {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].LastUpdated.Before(items[j].LastUpdated)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
