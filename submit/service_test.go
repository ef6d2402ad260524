package submit

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SharedCode/dms"
	"github.com/SharedCode/dms/inmemory"
)

var ctx = context.Background()

func newService(t *testing.T) (*Service, dms.Repository, *inmemory.ObjectStore) {
	t.Helper()
	repo := inmemory.NewRepository(30 * time.Second)
	store := inmemory.NewObjectStore("dms-submission/")
	return NewService(repo, store, false), repo, store
}

func TestSubmit_HappyPath(t *testing.T) {
	svc, repo, store := newService(t)

	res, err := svc.Submit(ctx, "owner1", validRequest(), []byte("%PDF-1.7 fake"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.Status != dms.Submitted || res.ID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	item, err := repo.Get(ctx, "owner1", res.ID)
	if err != nil || item == nil {
		t.Fatalf("item not recorded: %v", err)
	}
	if item.Status != dms.Submitted {
		t.Errorf("status = %s", item.Status)
	}
	if item.SdesCorrelationID == "" {
		t.Errorf("correlation id not generated")
	}
	if item.ObjectSummary.Location != "dms-submission/"+item.SdesCorrelationID+".zip" {
		t.Errorf("unexpected object location %s", item.ObjectSummary.Location)
	}
	if item.ObjectSummary.ContentMd5 == "" || item.ObjectSummary.ContentLength == 0 {
		t.Errorf("object summary not populated: %+v", item.ObjectSummary)
	}

	// The stored object is a zip holding the PDF and the metadata XML.
	contents, ok := store.Fetch(item.SdesCorrelationID + ".zip")
	if !ok {
		t.Fatalf("zip not uploaded")
	}
	zr, err := zip.NewReader(bytes.NewReader(contents), int64(len(contents)))
	if err != nil {
		t.Fatalf("uploaded object is not a zip: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["form.pdf"] || !names["metadata.xml"] {
		t.Errorf("zip entries missing: %v", names)
	}
}

func TestSubmit_KeepsCallerReference(t *testing.T) {
	svc, _, _ := newService(t)
	req := validRequest()
	req.SubmissionReference = "my-ref"
	res, err := svc.Submit(ctx, "owner1", req, []byte("pdf"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.ID != "my-ref" {
		t.Errorf("caller reference not kept, got %s", res.ID)
	}
}

func TestSubmit_DuplicateReference(t *testing.T) {
	svc, _, _ := newService(t)
	req := validRequest()
	req.SubmissionReference = "X"

	if _, err := svc.Submit(ctx, "owner1", req, []byte("pdf")); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	_, err := svc.Submit(ctx, "owner1", req, []byte("pdf"))
	if dms.CodeOf(err) != dms.Duplicate {
		t.Errorf("second submit with same reference should be a Duplicate, got %v", err)
	}

	// A different owner may reuse the reference.
	if _, err := svc.Submit(ctx, "owner2", req, []byte("pdf")); err != nil {
		t.Errorf("other owner's submit failed: %v", err)
	}
}

func TestSubmit_ValidationFailure(t *testing.T) {
	svc, _, _ := newService(t)
	req := validRequest()
	req.Metadata.TimeOfReceipt = "foobar"

	_, err := svc.Submit(ctx, "owner1", req, []byte("pdf"))
	if dms.CodeOf(err) != dms.Validation {
		t.Fatalf("expected Validation error, got %v", err)
	}
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError detail, got %v", err)
	}
	found := false
	for _, fe := range ve.Errors {
		if fe.Field == "metadata.timeOfReceipt" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a metadata.timeOfReceipt entry, got %v", ve.Errors)
	}
}

func TestSubmit_UploadFailureRecordsNothing(t *testing.T) {
	svc, repo, store := newService(t)
	store.PutError = errors.New("bucket unavailable")

	req := validRequest()
	req.SubmissionReference = "ref-upload-fail"
	if _, err := svc.Submit(ctx, "owner1", req, []byte("pdf")); err == nil {
		t.Fatalf("expected upload failure to propagate")
	}
	item, _ := repo.Get(ctx, "owner1", "ref-upload-fail")
	if item != nil {
		t.Errorf("no item should be recorded when the upload fails")
	}
}
