// Package packaging assembles the zip sent downstream: the submitted PDF plus
// a metadata XML built from the request's routing fields. All assembly happens
// inside a task-private scratch directory the caller is responsible for
// releasing on every exit path.
package packaging

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/SharedCode/dms"
)

const (
	// MetadataFilename is the metadata XML's name inside the zip.
	MetadataFilename = "metadata.xml"
	// PdfFilename is the submitted document's name inside the zip.
	PdfFilename = "form.pdf"
	zipFilename = "submission.zip"
)

// NewWorkDir creates the scratch working directory for one submission.
func NewWorkDir() (string, error) {
	dir, err := os.MkdirTemp("", "dms-submission-")
	if err != nil {
		return "", dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't create working directory, details: %w", err)}
	}
	return dir, nil
}

// metadataXML is the routing document the downstream scanning pipeline reads.
type metadataXML struct {
	XMLName            xml.Name `xml:"metadata"`
	Store              bool     `xml:"header>store"`
	Source             string   `xml:"header>source"`
	TimeOfReceipt      string   `xml:"header>timeOfReceipt"`
	FormID             string   `xml:"header>formId"`
	CustomerID         string   `xml:"header>customerId"`
	SubmissionMark     string   `xml:"header>submissionMark"`
	CasKey             string   `xml:"header>casKey"`
	ClassificationType string   `xml:"header>classificationType"`
	BusinessArea       string   `xml:"header>businessArea"`
	Attachment         string   `xml:"attachments>attachment>name"`
}

// BuildBundle writes the PDF and the metadata XML into workDir, zips them and
// returns the zip's bytes.
func BuildBundle(workDir string, pdf []byte, meta dms.SubmissionMetadata) ([]byte, error) {
	pdfPath := filepath.Join(workDir, PdfFilename)
	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		return nil, dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't write %s, details: %w", PdfFilename, err)}
	}

	ba, err := xml.MarshalIndent(metadataXML{
		Store:              meta.Store,
		Source:             meta.Source,
		TimeOfReceipt:      meta.TimeOfReceipt.Format(time.RFC3339Nano),
		FormID:             meta.FormID,
		CustomerID:         meta.CustomerID,
		SubmissionMark:     meta.SubmissionMark,
		CasKey:             meta.CasKey,
		ClassificationType: meta.ClassificationType,
		BusinessArea:       meta.BusinessArea,
		Attachment:         PdfFilename,
	}, "", "  ")
	if err != nil {
		return nil, dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't marshal metadata XML, details: %w", err)}
	}
	metaPath := filepath.Join(workDir, MetadataFilename)
	if err := os.WriteFile(metaPath, append([]byte(xml.Header), ba...), 0o644); err != nil {
		return nil, dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't write %s, details: %w", MetadataFilename, err)}
	}

	zipPath := filepath.Join(workDir, zipFilename)
	if err := createZip(zipPath, []string{pdfPath, metaPath}); err != nil {
		return nil, dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't create zip, details: %w", err)}
	}
	contents, err := os.ReadFile(zipPath)
	if err != nil {
		return nil, dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't read back zip, details: %w", err)}
	}
	return contents, nil
}

func createZip(zipPath string, files []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for _, f := range files {
		in, err := os.Open(f)
		if err != nil {
			w.Close()
			return err
		}
		entry, err := w.Create(filepath.Base(f))
		if err != nil {
			in.Close()
			w.Close()
			return err
		}
		if _, err := io.Copy(entry, in); err != nil {
			in.Close()
			w.Close()
			return err
		}
		in.Close()
	}
	return w.Close()
}
