package sdes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SharedCode/dms"
)

func testItem() dms.SubmissionItem {
	return dms.SubmissionItem{
		ID:                "ref1",
		Owner:             "owner1",
		SdesCorrelationID: "cid-123",
		Status:            dms.Submitted,
		ObjectSummary: dms.ObjectSummary{
			Location:      "dms-submission/cid-123.zip",
			ContentLength: 1234,
			ContentMd5:    "aGVsbG8=",
		},
	}
}

func TestNotify_PayloadShape(t *testing.T) {
	var got fileReadyNotification
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		ba, _ := io.ReadAll(r.Body)
		json.Unmarshal(ba, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(dms.SdesConfig{
		BaseUrl:           srv.URL,
		InformationType:   "dms-submission",
		RecipientOrSender: "dms-frontend",
		CallTimeout:       5 * time.Second,
	})
	if err := c.Notify(context.Background(), testItem()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if path != "/notification/fileready" {
		t.Errorf("unexpected path %s", path)
	}
	if got.InformationType != "dms-submission" {
		t.Errorf("informationType = %s", got.InformationType)
	}
	if got.File.Name != "cid-123.zip" || got.File.Location != "dms-submission/cid-123.zip" {
		t.Errorf("unexpected file block: %+v", got.File)
	}
	if got.File.Checksum.Algorithm != "md5" || got.File.Checksum.Value != "aGVsbG8=" {
		t.Errorf("unexpected checksum: %+v", got.File.Checksum)
	}
	if got.File.Size != 1234 {
		t.Errorf("size = %d", got.File.Size)
	}
	if got.Audit.CorrelationID != "cid-123" {
		t.Errorf("correlationID = %s", got.Audit.CorrelationID)
	}
}

func TestNotify_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(dms.SdesConfig{BaseUrl: srv.URL, InformationType: "it", RecipientOrSender: "rs", CallTimeout: 5 * time.Second})
	err := c.Notify(context.Background(), testItem())
	if err == nil {
		t.Fatalf("expected error on 500")
	}
	if dms.CodeOf(err) != dms.Transient {
		t.Errorf("expected Transient error, got %v", err)
	}
}

func TestNotify_ServerUnreachable(t *testing.T) {
	c := NewClient(dms.SdesConfig{BaseUrl: "http://127.0.0.1:1", InformationType: "it", RecipientOrSender: "rs", CallTimeout: time.Second})
	if err := c.Notify(context.Background(), testItem()); dms.CodeOf(err) != dms.Transient {
		t.Errorf("expected Transient error, got %v", err)
	}
}
