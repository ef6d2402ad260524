// Package submit implements the synchronous submission pipeline: validate the
// request, package the PDF with its metadata XML, upload the zip and record
// the Submitted item.
package submit

import (
	"context"
	"fmt"
	log "log/slog"
	"os"

	"github.com/SharedCode/dms"
	"github.com/SharedCode/dms/packaging"
)

// Service runs the submit pipeline. Each call is independent; the scratch
// directory is task-private and released on every exit path.
type Service struct {
	repository     dms.Repository
	objectStore    dms.ObjectStore
	allowLocalhost bool
}

func NewService(repository dms.Repository, objectStore dms.ObjectStore, allowLocalhostCallbacks bool) *Service {
	return &Service{
		repository:     repository,
		objectStore:    objectStore,
		allowLocalhost: allowLocalhostCallbacks,
	}
}

// Result is the accepted submission's identity.
type Result struct {
	ID     string     `json:"id"`
	Status dms.Status `json:"status"`
}

// Submit validates the request then packages, uploads and records the
// submission. Failures after the upload leave the object orphaned in the
// store; the location is logged so operators can purge it.
func (s *Service) Submit(ctx context.Context, owner string, req Request, pdf []byte) (Result, error) {
	p, fieldErrs := validate(req, s.allowLocalhost)
	if len(fieldErrs) > 0 {
		return Result{}, dms.Error{Code: dms.Validation, Err: ValidationError{Errors: fieldErrs}}
	}

	workDir, err := packaging.NewWorkDir()
	if err != nil {
		return Result{}, err
	}
	// Released on every exit path, including panics and cancellation.
	defer os.RemoveAll(workDir)

	correlationID := dms.NewUUID().String()
	id := p.submissionReference
	if id == "" {
		id = dms.NewUUID().String()
	}

	contents, err := packaging.BuildBundle(workDir, pdf, p.metadata)
	if err != nil {
		return Result{}, err
	}

	key := correlationID + ".zip"
	summary, err := s.objectStore.Put(ctx, key, contents)
	if err != nil {
		return Result{}, err
	}

	item := dms.SubmissionItem{
		ID:                id,
		Owner:             owner,
		SdesCorrelationID: correlationID,
		CallbackURL:       p.callbackURL,
		Status:            dms.Submitted,
		ObjectSummary:     summary,
	}
	if err := s.repository.Insert(ctx, item); err != nil {
		// The uploaded object stays behind; operators purge objects without
		// a matching item.
		log.Warn(fmt.Sprintf("submission %s not recorded, object %s orphaned, details: %v", id, summary.Location, err))
		return Result{}, err
	}

	log.Debug(fmt.Sprintf("submission %s accepted for owner %s, correlation id %s", id, owner, correlationID))
	return Result{ID: id, Status: dms.Submitted}, nil
}
