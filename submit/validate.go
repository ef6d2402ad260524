package submit

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SharedCode/dms"
)

// Request carries the raw submit form fields, prior to validation.
type Request struct {
	SubmissionReference string
	CallbackURL         string
	Metadata            MetadataFields
}

// MetadataFields are the raw metadata.* form fields.
type MetadataFields struct {
	Store              string
	Source             string
	TimeOfReceipt      string
	FormID             string
	CustomerID         string
	SubmissionMark     string
	CasKey             string
	ClassificationType string
	BusinessArea       string
}

// FieldError is one field-level validation failure.
type FieldError struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

// ValidationError aggregates the field failures of one request.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	fields := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		fields[i] = fe.Code
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(fields, ", "))
}

// parsed is a Request with every field validated and converted.
type parsed struct {
	submissionReference string
	callbackURL         string
	metadata            dms.SubmissionMetadata
}

// validate checks the request per the submit contract. An empty submission
// reference is treated as absent; callback hosts must end in ".mdtp" unless
// allowLocalhost also admits "localhost".
func validate(req Request, allowLocalhost bool) (parsed, []FieldError) {
	var p parsed
	var errs []FieldError

	p.submissionReference = strings.TrimSpace(req.SubmissionReference)

	if req.CallbackURL == "" {
		errs = append(errs, FieldError{Field: "callbackUrl", Code: "callbackUrl.required"})
	} else if u, err := url.Parse(req.CallbackURL); err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, FieldError{Field: "callbackUrl", Code: "callbackUrl.invalid"})
	} else if host := u.Hostname(); !strings.HasSuffix(host, ".mdtp") && !(allowLocalhost && host == "localhost") {
		errs = append(errs, FieldError{Field: "callbackUrl", Code: "callbackUrl.invalidHost"})
	} else {
		p.callbackURL = req.CallbackURL
	}

	if req.Metadata.Store == "" {
		errs = append(errs, FieldError{Field: "metadata.store", Code: "metadata.store.required"})
	} else if store, err := strconv.ParseBool(req.Metadata.Store); err != nil {
		errs = append(errs, FieldError{Field: "metadata.store", Code: "metadata.store.invalid"})
	} else {
		p.metadata.Store = store
	}

	if req.Metadata.TimeOfReceipt == "" {
		errs = append(errs, FieldError{Field: "metadata.timeOfReceipt", Code: "metadata.timeOfReceipt.required"})
	} else if tor, err := time.Parse(time.RFC3339Nano, req.Metadata.TimeOfReceipt); err != nil {
		errs = append(errs, FieldError{Field: "metadata.timeOfReceipt", Code: "metadata.timeOfReceipt.invalid"})
	} else {
		p.metadata.TimeOfReceipt = tor
	}

	required := []struct {
		name  string
		value string
		dest  *string
	}{
		{"metadata.source", req.Metadata.Source, &p.metadata.Source},
		{"metadata.formId", req.Metadata.FormID, &p.metadata.FormID},
		{"metadata.customerId", req.Metadata.CustomerID, &p.metadata.CustomerID},
		{"metadata.submissionMark", req.Metadata.SubmissionMark, &p.metadata.SubmissionMark},
		{"metadata.casKey", req.Metadata.CasKey, &p.metadata.CasKey},
		{"metadata.classificationType", req.Metadata.ClassificationType, &p.metadata.ClassificationType},
		{"metadata.businessArea", req.Metadata.BusinessArea, &p.metadata.BusinessArea},
	}
	for _, f := range required {
		if f.value == "" {
			errs = append(errs, FieldError{Field: f.name, Code: f.name + ".required"})
			continue
		}
		*f.dest = f.value
	}

	return p, errs
}
