package dms

import (
	"time"
)

// Status is the lifecycle state of a SubmissionItem.
type Status string

const (
	// Submitted means the zip was uploaded to the object store and the item recorded.
	Submitted Status = "Submitted"
	// Forwarded means SDES was notified that the file is ready for collection.
	Forwarded Status = "Forwarded"
	// Processed means SDES reported successful processing of the file.
	Processed Status = "Processed"
	// Failed means SDES reported a processing failure for the file.
	Failed Status = "Failed"
	// Completed means the client callback was delivered.
	Completed Status = "Completed"
	// CallbackFailed means the client callback exhausted its retry budget.
	CallbackFailed Status = "CallbackFailed"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case Submitted, Forwarded, Processed, Failed, Completed, CallbackFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a retained end state.
func (s Status) IsTerminal() bool {
	return s == Completed || s == CallbackFailed
}

// CanTransitionTo reports whether the status DAG permits moving from s to target.
// Submitted → Forwarded → {Processed, Failed} → Completed; Processed/Failed may
// also move to CallbackFailed. No transition returns to an earlier state.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case Submitted:
		return target == Forwarded
	case Forwarded:
		return target == Processed || target == Failed
	case Processed, Failed:
		return target == Completed || target == CallbackFailed
	}
	return false
}

// ObjectSummary describes the zip as stored in the object store.
type ObjectSummary struct {
	// Location is the full object store path of the zip.
	Location string `json:"location"`
	// ContentLength is the object size in bytes.
	ContentLength int64 `json:"contentLength"`
	// ContentMd5 is the base64 encoded MD5 digest of the object.
	ContentMd5 string `json:"contentMd5"`
	// LastModified is the object store's modification timestamp.
	LastModified time.Time `json:"lastModified"`
}

// SubmissionMetadata carries the routing fields supplied by the client.
// They end up in the metadata XML packaged alongside the PDF.
type SubmissionMetadata struct {
	Store              bool      `json:"store"`
	Source             string    `json:"source"`
	TimeOfReceipt      time.Time `json:"timeOfReceipt"`
	FormID             string    `json:"formId"`
	CustomerID         string    `json:"customerId"`
	SubmissionMark     string    `json:"submissionMark"`
	CasKey             string    `json:"casKey"`
	ClassificationType string    `json:"classificationType"`
	BusinessArea       string    `json:"businessArea"`
}

// SubmissionItem is the single durable entity tracked by this service.
type SubmissionItem struct {
	// ID is the caller supplied (or generated) submission reference, unique per owner.
	ID string `json:"id"`
	// Owner is the principal name of the authenticated submitter.
	Owner string `json:"owner"`
	// SdesCorrelationID is the globally unique id used as the object store
	// filename stem and as the key for downstream SDES status updates.
	SdesCorrelationID string `json:"sdesCorrelationId"`
	// CallbackURL is where the client gets notified on terminal states.
	CallbackURL string `json:"callbackUrl"`
	Status      Status `json:"status"`
	// ObjectSummary describes the uploaded zip.
	ObjectSummary ObjectSummary `json:"objectSummary"`
	// FailureReason is an optional diagnostic, e.g. from an SDES failure report.
	FailureReason *string `json:"failureReason,omitempty"`
	// LastUpdated is stamped by the repository on every mutation, never by callers.
	LastUpdated time.Time `json:"lastUpdated"`
	// LockedAt is non-nil while a worker holds the item's lease.
	LockedAt *time.Time `json:"lockedAt,omitempty"`
	// FailureCount is the number of failed callback attempts so far.
	FailureCount int `json:"failureCount"`
}

// Locked reports whether the item holds a live lease as of now, given the lock TTL.
func (si SubmissionItem) Locked(now time.Time, lockTTL time.Duration) bool {
	return si.LockedAt != nil && now.Sub(*si.LockedAt) <= lockTTL
}
