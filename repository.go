package dms

import (
	"context"
	"time"
)

// LockResult tells a worker whether LockAndReplaceOldestItemByStatus leased an item.
type LockResult int

const (
	// NotFound means no item with the wanted status was available for leasing.
	NotFound LockResult = iota
	// Found means an item was leased, regardless of the replace function's outcome.
	Found
)

// ListFilter narrows a Repository.List call. Zero values mean "no filter".
type ListFilter struct {
	// Status restricts results to one status.
	Status Status
	// CreatedBefore restricts results to items last updated before the given time.
	CreatedBefore time.Time
	// Limit caps the page size. The repository applies a default when 0.
	Limit int
	// PageToken is the opaque continuation token from a previous page.
	PageToken string
}

// Page is one page of a List result.
type Page struct {
	Items []SubmissionItem
	// NextPageToken is non-empty when more items are available.
	NextPageToken string
}

// Repository is the durable primary-key'd store of SubmissionItems.
// All mutation of submission state goes through it; it stamps LastUpdated on
// every write and enforces the two uniqueness invariants on insert.
type Repository interface {
	// Insert adds a new item. It fails with a Duplicate error if (owner, id)
	// or the correlation id is already present. Stamps LastUpdated.
	Insert(ctx context.Context, item SubmissionItem) error
	// Get fetches by (owner, id). Returns (nil, nil) when absent.
	Get(ctx context.Context, owner string, id string) (*SubmissionItem, error)
	// GetByCorrelationID fetches by SDES correlation id. Returns (nil, nil) when absent.
	GetByCorrelationID(ctx context.Context, correlationID string) (*SubmissionItem, error)
	// List returns one page of an owner's items, oldest first.
	List(ctx context.Context, owner string, filter ListFilter) (Page, error)
	// Update sets the status and replaces the failure reason of the item with
	// the given (owner, id). A nil failureReason removes any existing reason.
	// Fails with NothingToUpdate when no row matches. Stamps LastUpdated.
	Update(ctx context.Context, owner string, id string, newStatus Status, failureReason *string) (*SubmissionItem, error)
	// UpdateByCorrelationID is Update keyed by SDES correlation id.
	UpdateByCorrelationID(ctx context.Context, correlationID string, newStatus Status, failureReason *string) (*SubmissionItem, error)
	// Remove deletes by (owner, id). Idempotent; succeeds if absent.
	Remove(ctx context.Context, owner string, id string) error
	// LockAndReplaceOldestItemByStatus leases the item with the given status
	// having the smallest LastUpdated whose lock is absent or past its TTL,
	// invokes f on it, and on success commits f's result with the lock cleared
	// and LastUpdated restamped. If f fails the lock is cleared, status and
	// LastUpdated are left untouched, and f's error is returned alongside Found.
	LockAndReplaceOldestItemByStatus(ctx context.Context, status Status, f func(ctx context.Context, item SubmissionItem) (SubmissionItem, error)) (LockResult, error)
	// ListByStatus returns up to limit items of the given status whose
	// FailureCount is at least minFailureCount, oldest first. Used by the
	// failure worker to find callback-exhausted items.
	ListByStatus(ctx context.Context, status Status, minFailureCount int, limit int) ([]SubmissionItem, error)
}

// ObjectStore persists submission zips. Paths are unique per correlation id
// and owned by that item for life.
type ObjectStore interface {
	// Put writes contents at key and returns the stored object's summary.
	Put(ctx context.Context, key string, contents []byte) (ObjectSummary, error)
	// Remove deletes the object at key, tolerating absence.
	Remove(ctx context.Context, key string) error
}

// Cache specifies the out-of-process cache operations used by the Cassandra
// repository's correlation-id read cache.
type Cache interface {
	// Set executes the cache Set command with expiration.
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get fetches a string value. found=false with nil error means a miss.
	Get(ctx context.Context, key string) (bool, string, error)
	// SetStruct stores a marshaled struct with expiration.
	SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// GetStruct fetches and unmarshals into target. found=false with nil error means a miss.
	GetStruct(ctx context.Context, key string, target interface{}) (bool, error)
	// Delete removes the given keys, tolerating absence.
	Delete(ctx context.Context, keys []string) (bool, error)
	// Ping tests connectivity.
	Ping(ctx context.Context) error
}
