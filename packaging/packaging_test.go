package packaging

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/SharedCode/dms"
)

func testMetadata() dms.SubmissionMetadata {
	return dms.SubmissionMetadata{
		Store:              true,
		Source:             "online-service",
		TimeOfReceipt:      time.Date(2026, 4, 2, 11, 30, 0, 123456789, time.UTC),
		FormID:             "SA100",
		CustomerID:         "cust-42",
		SubmissionMark:     "mark-1",
		CasKey:             "cas-1",
		ClassificationType: "classification",
		BusinessArea:       "area-51",
	}
}

func TestBuildBundle(t *testing.T) {
	dir, err := NewWorkDir()
	if err != nil {
		t.Fatalf("couldn't create work dir: %v", err)
	}
	defer os.RemoveAll(dir)

	pdf := []byte("%PDF-1.7 fake")
	contents, err := BuildBundle(dir, pdf, testMetadata())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(contents), int64(len(contents)))
	if err != nil {
		t.Fatalf("result is not a zip: %v", err)
	}
	entries := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("couldn't open %s: %v", f.Name, err)
		}
		ba, _ := io.ReadAll(rc)
		rc.Close()
		entries[f.Name] = ba
	}

	if got, ok := entries[PdfFilename]; !ok || !bytes.Equal(got, pdf) {
		t.Errorf("pdf entry missing or altered")
	}
	metaXML, ok := entries[MetadataFilename]
	if !ok {
		t.Fatalf("metadata entry missing")
	}
	for _, want := range []string{
		"<store>true</store>",
		"<source>online-service</source>",
		"<timeOfReceipt>2026-04-02T11:30:00.123456789Z</timeOfReceipt>",
		"<formId>SA100</formId>",
		"<customerId>cust-42</customerId>",
		"<submissionMark>mark-1</submissionMark>",
		"<casKey>cas-1</casKey>",
		"<classificationType>classification</classificationType>",
		"<businessArea>area-51</businessArea>",
		"<name>form.pdf</name>",
	} {
		if !strings.Contains(string(metaXML), want) {
			t.Errorf("metadata XML missing %s, got:\n%s", want, metaXML)
		}
	}
}

func TestBuildBundle_BadWorkDir(t *testing.T) {
	if _, err := BuildBundle("/nonexistent/dir", []byte("x"), testMetadata()); err == nil {
		t.Errorf("expected failure for a missing work dir")
	}
}
