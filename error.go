package dms

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// Validation errors surface as HTTP 400 with field level details; never retried.
	Validation
	// AuthFailure surfaces as 401/403; never retried.
	AuthFailure
	// Duplicate is an insert collision on (owner, id) or on the correlation id.
	Duplicate
	// NothingToUpdate means a status update matched no row.
	NothingToUpdate
	// Transient covers network, object store, SDES and callback failures;
	// workers retry on the next tick, the submit pipeline returns 502.
	Transient
	// Fatal covers configuration errors; the service refuses to start.
	Fatal
)

// DMS custom error.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e Error) Error() string {
	return fmt.Sprintf("error code: %d, details: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode of err, or Unknown if err is not a dms.Error.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}
