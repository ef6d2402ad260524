package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/SharedCode/dms"
)

type repository struct {
	cache   dms.Cache
	lockTTL time.Duration
}

// Now returns the current time and can be "synthesized" if needed.
var Now = time.Now

var itemCacheDuration time.Duration = time.Duration(1 * time.Hour)

// SetItemCacheDuration allows the correlation-id cache duration to get set globally.
func SetItemCacheDuration(duration time.Duration) {
	if duration < time.Minute {
		duration = time.Duration(1 * time.Hour)
	}
	itemCacheDuration = duration
}

// leaseCandidates caps how many oldest-by-status rows a lease attempt scans
// past items whose lock is still live.
const leaseCandidates = 20

// NewRepository manages SubmissionItems across the submission, submission_cid
// and submission_status tables. The cache fronts correlation-id lookups and
// its failures are tolerated.
func NewRepository(cache dms.Cache, lockTTL time.Duration) dms.Repository {
	if lockTTL <= 0 {
		lockTTL = dms.DefaultLockTTL
	}
	return &repository{
		cache:   cache,
		lockTTL: lockTTL,
	}
}

func cacheKey(correlationID string) string {
	// Prefix to increase uniqueness vs other cache users.
	return "DMSI" + correlationID
}

const itemColumns = "owner, id, correlation_id, callback_url, status, obj_location, obj_length, obj_md5, obj_last_modified, failure_reason, failure_count, last_updated, locked_at"

// scanItem maps one submission row off an iterator onto a SubmissionItem.
// Cassandra has no null text distinct from empty, so "" failure_reason reads
// back as absent; a zero locked_at timestamp reads back as no lease.
func scanItem(scan func(dest ...interface{}) bool) (dms.SubmissionItem, bool) {
	var item dms.SubmissionItem
	var status, failureReason string
	var lockedAt time.Time
	if !scan(&item.Owner, &item.ID, &item.SdesCorrelationID, &item.CallbackURL, &status,
		&item.ObjectSummary.Location, &item.ObjectSummary.ContentLength, &item.ObjectSummary.ContentMd5,
		&item.ObjectSummary.LastModified, &failureReason, &item.FailureCount, &item.LastUpdated, &lockedAt) {
		return item, false
	}
	item.Status = dms.Status(status)
	if failureReason != "" {
		item.FailureReason = &failureReason
	}
	if !lockedAt.IsZero() {
		item.LockedAt = &lockedAt
	}
	return item, true
}

func reasonColumn(failureReason *string) string {
	if failureReason == nil {
		return ""
	}
	return *failureReason
}

func (r *repository) Insert(ctx context.Context, item dms.SubmissionItem) error {
	if connection == nil {
		return dms.Error{Code: dms.Fatal, Err: fmt.Errorf("Cassandra connection is closed, call OpenConnection(config) to open it")}
	}
	item.LastUpdated = Now()

	// Claim the correlation id first; it is the globally unique key.
	applied, err := connection.Session.Query(
		fmt.Sprintf("INSERT INTO %s.submission_cid (correlation_id, owner, id) VALUES(?,?,?) IF NOT EXISTS;", connection.Config.Keyspace),
		item.SdesCorrelationID, item.Owner, item.ID).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return dms.Error{Code: dms.Transient, Err: err}
	}
	if !applied {
		return dms.Error{Code: dms.Duplicate, Err: fmt.Errorf("correlation id %s already exists", item.SdesCorrelationID)}
	}

	applied, err = connection.Session.Query(
		fmt.Sprintf("INSERT INTO %s.submission (%s) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?) IF NOT EXISTS;", connection.Config.Keyspace, itemColumns),
		item.Owner, item.ID, item.SdesCorrelationID, item.CallbackURL, string(item.Status),
		item.ObjectSummary.Location, item.ObjectSummary.ContentLength, item.ObjectSummary.ContentMd5,
		item.ObjectSummary.LastModified, reasonColumn(item.FailureReason), item.FailureCount,
		item.LastUpdated, time.Time{}).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil || !applied {
		// Release the correlation id claim before reporting.
		if derr := connection.Session.Query(
			fmt.Sprintf("DELETE FROM %s.submission_cid WHERE correlation_id = ?;", connection.Config.Keyspace),
			item.SdesCorrelationID).WithContext(ctx).Exec(); derr != nil {
			log.Warn(fmt.Sprintf("failed to release correlation id %s after insert collision, details: %v", item.SdesCorrelationID, derr))
		}
		if err != nil {
			return dms.Error{Code: dms.Transient, Err: err}
		}
		return dms.Error{Code: dms.Duplicate, Err: fmt.Errorf("submission %s already exists for owner %s", item.ID, item.Owner)}
	}

	if err := connection.Session.Query(
		fmt.Sprintf("INSERT INTO %s.submission_status (status, last_updated, correlation_id) VALUES(?,?,?);", connection.Config.Keyspace),
		string(item.Status), item.LastUpdated, item.SdesCorrelationID).WithContext(ctx).Exec(); err != nil {
		return dms.Error{Code: dms.Transient, Err: err}
	}

	// Tolerate cache failure.
	if err := r.cache.SetStruct(ctx, cacheKey(item.SdesCorrelationID), &item, itemCacheDuration); err != nil {
		log.Warn(fmt.Sprintf("item cache set for %s failed, details: %v", item.SdesCorrelationID, err))
	}
	return nil
}

func (r *repository) Get(ctx context.Context, owner string, id string) (*dms.SubmissionItem, error) {
	if connection == nil {
		return nil, dms.Error{Code: dms.Fatal, Err: fmt.Errorf("Cassandra connection is closed, call OpenConnection(config) to open it")}
	}
	iter := connection.Session.Query(
		fmt.Sprintf("SELECT %s FROM %s.submission WHERE owner = ? AND id = ?;", itemColumns, connection.Config.Keyspace),
		owner, id).WithContext(ctx).Iter()
	item, found := scanItem(iter.Scan)
	if err := iter.Close(); err != nil {
		return nil, dms.Error{Code: dms.Transient, Err: err}
	}
	if !found {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) GetByCorrelationID(ctx context.Context, correlationID string) (*dms.SubmissionItem, error) {
	var cached dms.SubmissionItem
	if found, err := r.cache.GetStruct(ctx, cacheKey(correlationID), &cached); err != nil {
		log.Warn(fmt.Sprintf("item cache get for %s failed, details: %v", correlationID, err))
	} else if found {
		return &cached, nil
	}

	owner, id, err := r.resolveCorrelationID(ctx, correlationID)
	if err != nil || owner == "" {
		return nil, err
	}
	item, err := r.Get(ctx, owner, id)
	if err != nil || item == nil {
		return nil, err
	}
	if err := r.cache.SetStruct(ctx, cacheKey(correlationID), item, itemCacheDuration); err != nil {
		log.Warn(fmt.Sprintf("item cache set for %s failed, details: %v", correlationID, err))
	}
	return item, nil
}

// resolveCorrelationID returns ("", "", nil) when the correlation id is unknown.
func (r *repository) resolveCorrelationID(ctx context.Context, correlationID string) (string, string, error) {
	if connection == nil {
		return "", "", dms.Error{Code: dms.Fatal, Err: fmt.Errorf("Cassandra connection is closed, call OpenConnection(config) to open it")}
	}
	var owner, id string
	err := connection.Session.Query(
		fmt.Sprintf("SELECT owner, id FROM %s.submission_cid WHERE correlation_id = ?;", connection.Config.Keyspace),
		correlationID).WithContext(ctx).Scan(&owner, &id)
	if err == gocql.ErrNotFound {
		return "", "", nil
	}
	if err != nil {
		return "", "", dms.Error{Code: dms.Transient, Err: err}
	}
	return owner, id, nil
}

func (r *repository) List(ctx context.Context, owner string, filter dms.ListFilter) (dms.Page, error) {
	if connection == nil {
		return dms.Page{}, dms.Error{Code: dms.Fatal, Err: fmt.Errorf("Cassandra connection is closed, call OpenConnection(config) to open it")}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	q := connection.Session.Query(
		fmt.Sprintf("SELECT %s FROM %s.submission WHERE owner = ?;", itemColumns, connection.Config.Keyspace),
		owner).WithContext(ctx).PageSize(limit)
	if filter.PageToken != "" {
		state, err := decodePageToken(filter.PageToken)
		if err != nil {
			return dms.Page{}, dms.Error{Code: dms.Validation, Err: err}
		}
		q = q.PageState(state)
	}
	iter := q.Iter()
	items := make([]dms.SubmissionItem, 0, limit)
	// Read exactly one page; iterating past NumRows would auto-fetch the next one.
	rows := iter.NumRows()
	for i := 0; i < rows; i++ {
		item, found := scanItem(iter.Scan)
		if !found {
			break
		}
		// Status & created-before narrowing happens here; the partition is
		// small (one owner) so a server-side filter isn't worth an index.
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !item.LastUpdated.Before(filter.CreatedBefore) {
			continue
		}
		items = append(items, item)
	}
	next := encodePageToken(iter.PageState())
	if err := iter.Close(); err != nil {
		return dms.Page{}, dms.Error{Code: dms.Transient, Err: err}
	}
	return dms.Page{Items: items, NextPageToken: next}, nil
}

func (r *repository) Update(ctx context.Context, owner string, id string, newStatus dms.Status, failureReason *string) (*dms.SubmissionItem, error) {
	item, err := r.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, dms.Error{Code: dms.NothingToUpdate, Err: fmt.Errorf("no submission %s for owner %s", id, owner)}
	}
	return r.commitUpdate(ctx, *item, newStatus, failureReason)
}

func (r *repository) UpdateByCorrelationID(ctx context.Context, correlationID string, newStatus dms.Status, failureReason *string) (*dms.SubmissionItem, error) {
	owner, id, err := r.resolveCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, dms.Error{Code: dms.NothingToUpdate, Err: fmt.Errorf("no submission with correlation id %s", correlationID)}
	}
	return r.Update(ctx, owner, id, newStatus, failureReason)
}

// commitUpdate CASes the new status/reason onto the row, guarded by the
// last_updated the caller read so a concurrent mutation loses cleanly.
func (r *repository) commitUpdate(ctx context.Context, item dms.SubmissionItem, newStatus dms.Status, failureReason *string) (*dms.SubmissionItem, error) {
	now := Now()
	applied, err := connection.Session.Query(
		fmt.Sprintf("UPDATE %s.submission SET status = ?, failure_reason = ?, last_updated = ? WHERE owner = ? AND id = ? IF last_updated = ?;", connection.Config.Keyspace),
		string(newStatus), reasonColumn(failureReason), now, item.Owner, item.ID, item.LastUpdated).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, dms.Error{Code: dms.Transient, Err: err}
	}
	if !applied {
		return nil, dms.Error{Code: dms.NothingToUpdate, Err: fmt.Errorf("submission %s was concurrently modified", item.ID)}
	}
	if err := r.replaceStatusIndex(ctx, item.Status, item.LastUpdated, newStatus, now, item.SdesCorrelationID); err != nil {
		return nil, err
	}

	item.Status = newStatus
	item.FailureReason = failureReason
	item.LastUpdated = now
	if err := r.cache.SetStruct(ctx, cacheKey(item.SdesCorrelationID), &item, itemCacheDuration); err != nil {
		log.Warn(fmt.Sprintf("item cache set for %s failed, details: %v", item.SdesCorrelationID, err))
	}
	return &item, nil
}

// replaceStatusIndex moves the worker-selection row from the old (status,
// last_updated) position to the new one, atomically via a logged batch.
func (r *repository) replaceStatusIndex(ctx context.Context, oldStatus dms.Status, oldUpdated time.Time, newStatus dms.Status, newUpdated time.Time, correlationID string) error {
	b := connection.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(fmt.Sprintf("DELETE FROM %s.submission_status WHERE status = ? AND last_updated = ? AND correlation_id = ?;", connection.Config.Keyspace),
		string(oldStatus), oldUpdated, correlationID)
	b.Query(fmt.Sprintf("INSERT INTO %s.submission_status (status, last_updated, correlation_id) VALUES(?,?,?);", connection.Config.Keyspace),
		string(newStatus), newUpdated, correlationID)
	if err := connection.Session.ExecuteBatch(b); err != nil {
		return dms.Error{Code: dms.Transient, Err: err}
	}
	return nil
}

func (r *repository) Remove(ctx context.Context, owner string, id string) error {
	item, err := r.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if item == nil {
		// Removing an absent item is not an error.
		return nil
	}
	b := connection.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(fmt.Sprintf("DELETE FROM %s.submission WHERE owner = ? AND id = ?;", connection.Config.Keyspace), owner, id)
	b.Query(fmt.Sprintf("DELETE FROM %s.submission_cid WHERE correlation_id = ?;", connection.Config.Keyspace), item.SdesCorrelationID)
	b.Query(fmt.Sprintf("DELETE FROM %s.submission_status WHERE status = ? AND last_updated = ? AND correlation_id = ?;", connection.Config.Keyspace),
		string(item.Status), item.LastUpdated, item.SdesCorrelationID)
	if err := connection.Session.ExecuteBatch(b); err != nil {
		return dms.Error{Code: dms.Transient, Err: err}
	}
	if _, err := r.cache.Delete(ctx, []string{cacheKey(item.SdesCorrelationID)}); err != nil {
		log.Warn(fmt.Sprintf("item cache delete for %s failed, details: %v", item.SdesCorrelationID, err))
	}
	return nil
}

func (r *repository) LockAndReplaceOldestItemByStatus(ctx context.Context, status dms.Status, f func(ctx context.Context, item dms.SubmissionItem) (dms.SubmissionItem, error)) (dms.LockResult, error) {
	if connection == nil {
		return dms.NotFound, dms.Error{Code: dms.Fatal, Err: fmt.Errorf("Cassandra connection is closed, call OpenConnection(config) to open it")}
	}
	leased, ok, err := r.lease(ctx, status)
	if err != nil {
		return dms.NotFound, err
	}
	if !ok {
		return dms.NotFound, nil
	}

	replacement, ferr := f(ctx, leased)
	if ferr != nil {
		// Clear the lease, leave status & last_updated untouched.
		if _, cerr := connection.Session.Query(
			fmt.Sprintf("UPDATE %s.submission SET locked_at = ? WHERE owner = ? AND id = ? IF locked_at = ?;", connection.Config.Keyspace),
			time.Time{}, leased.Owner, leased.ID, *leased.LockedAt).WithContext(ctx).MapScanCAS(map[string]interface{}{}); cerr != nil {
			// The lock TTL will eventually release it.
			log.Warn(fmt.Sprintf("failed to clear lease on %s, TTL will recover it, details: %v", leased.SdesCorrelationID, cerr))
		}
		return dms.Found, ferr
	}

	now := Now()
	applied, err := connection.Session.Query(
		fmt.Sprintf("UPDATE %s.submission SET callback_url = ?, status = ?, obj_location = ?, obj_length = ?, obj_md5 = ?, obj_last_modified = ?, failure_reason = ?, failure_count = ?, last_updated = ?, locked_at = ? WHERE owner = ? AND id = ? IF locked_at = ?;", connection.Config.Keyspace),
		replacement.CallbackURL, string(replacement.Status), replacement.ObjectSummary.Location,
		replacement.ObjectSummary.ContentLength, replacement.ObjectSummary.ContentMd5, replacement.ObjectSummary.LastModified,
		reasonColumn(replacement.FailureReason), replacement.FailureCount, now, time.Time{},
		leased.Owner, leased.ID, *leased.LockedAt).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return dms.Found, dms.Error{Code: dms.Transient, Err: err}
	}
	if !applied {
		// Somebody reclaimed the lease past its TTL; their write wins.
		return dms.Found, dms.Error{Code: dms.NothingToUpdate, Err: fmt.Errorf("lease on %s was reclaimed before commit", leased.SdesCorrelationID)}
	}
	if err := r.replaceStatusIndex(ctx, leased.Status, leased.LastUpdated, replacement.Status, now, leased.SdesCorrelationID); err != nil {
		return dms.Found, err
	}

	replacement.Owner = leased.Owner
	replacement.ID = leased.ID
	replacement.SdesCorrelationID = leased.SdesCorrelationID
	replacement.LockedAt = nil
	replacement.LastUpdated = now
	if err := r.cache.SetStruct(ctx, cacheKey(replacement.SdesCorrelationID), &replacement, itemCacheDuration); err != nil {
		log.Warn(fmt.Sprintf("item cache set for %s failed, details: %v", replacement.SdesCorrelationID, err))
	}
	return dms.Found, nil
}

// lease walks the oldest rows of the status index and CASes a lock onto the
// first one whose lease is absent or expired. The CAS also guards on
// last_updated so two workers racing on the same row can't both win.
func (r *repository) lease(ctx context.Context, status dms.Status) (dms.SubmissionItem, bool, error) {
	iter := connection.Session.Query(
		fmt.Sprintf("SELECT correlation_id FROM %s.submission_status WHERE status = ? LIMIT %d;", connection.Config.Keyspace, leaseCandidates),
		string(status)).WithContext(ctx).Iter()
	var candidates []string
	var cid string
	for iter.Scan(&cid) {
		candidates = append(candidates, cid)
	}
	if err := iter.Close(); err != nil {
		return dms.SubmissionItem{}, false, dms.Error{Code: dms.Transient, Err: err}
	}

	for _, cid := range candidates {
		item, err := r.GetByCorrelationID(ctx, cid)
		if err != nil {
			return dms.SubmissionItem{}, false, err
		}
		if item == nil || item.Status != status {
			// Index row lagging behind the main row; skip.
			continue
		}
		now := Now()
		if item.Locked(now, r.lockTTL) {
			continue
		}
		prevLock := time.Time{}
		if item.LockedAt != nil {
			prevLock = *item.LockedAt
		}
		applied, err := connection.Session.Query(
			fmt.Sprintf("UPDATE %s.submission SET locked_at = ? WHERE owner = ? AND id = ? IF last_updated = ? AND locked_at = ?;", connection.Config.Keyspace),
			now, item.Owner, item.ID, item.LastUpdated, prevLock).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return dms.SubmissionItem{}, false, dms.Error{Code: dms.Transient, Err: err}
		}
		if !applied {
			// Lost the race for this row; try the next candidate.
			continue
		}
		item.LockedAt = &now
		return *item, true, nil
	}
	return dms.SubmissionItem{}, false, nil
}

func (r *repository) ListByStatus(ctx context.Context, status dms.Status, minFailureCount int, limit int) ([]dms.SubmissionItem, error) {
	if connection == nil {
		return nil, dms.Error{Code: dms.Fatal, Err: fmt.Errorf("Cassandra connection is closed, call OpenConnection(config) to open it")}
	}
	if limit <= 0 {
		limit = 50
	}
	iter := connection.Session.Query(
		fmt.Sprintf("SELECT correlation_id FROM %s.submission_status WHERE status = ?;", connection.Config.Keyspace),
		string(status)).WithContext(ctx).Iter()
	var cids []string
	var cid string
	for iter.Scan(&cid) {
		cids = append(cids, cid)
	}
	if err := iter.Close(); err != nil {
		return nil, dms.Error{Code: dms.Transient, Err: err}
	}

	items := make([]dms.SubmissionItem, 0)
	for _, cid := range cids {
		item, err := r.GetByCorrelationID(ctx, cid)
		if err != nil {
			return nil, err
		}
		if item == nil || item.Status != status || item.FailureCount < minFailureCount {
			continue
		}
		items = append(items, *item)
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}
