package restapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SharedCode/dms"
	"github.com/SharedCode/dms/cel"
	"github.com/SharedCode/dms/submit"
)

// submitHandler godoc
// @Summary Accepts a PDF submission for forwarding.
// @Accept mpfd
// @Produce json
// @Success 202 {object} submit.Result
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /dms-submission/submit [post]
// @Security Bearer
func (s *Server) submitHandler(c *gin.Context) {
	req := submit.Request{
		SubmissionReference: c.PostForm("submissionReference"),
		CallbackURL:         c.PostForm("callbackUrl"),
		Metadata: submit.MetadataFields{
			Store:              c.PostForm("metadata.store"),
			Source:             c.PostForm("metadata.source"),
			TimeOfReceipt:      c.PostForm("metadata.timeOfReceipt"),
			FormID:             c.PostForm("metadata.formId"),
			CustomerID:         c.PostForm("metadata.customerId"),
			SubmissionMark:     c.PostForm("metadata.submissionMark"),
			CasKey:             c.PostForm("metadata.casKey"),
			ClassificationType: c.PostForm("metadata.classificationType"),
			BusinessArea:       c.PostForm("metadata.businessArea"),
		},
	}

	fh, err := c.FormFile("form")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []submit.FieldError{{Field: "form", Code: "form.required"}}})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []submit.FieldError{{Field: "form", Code: "form.invalid"}}})
		return
	}
	defer f.Close()
	pdf, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []submit.FieldError{{Field: "form", Code: "form.invalid"}}})
		return
	}

	res, err := s.submitService.Submit(c, c.GetString(ownerKey), req, pdf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// sdesStatusUpdate is the inbound SDES processing report.
type sdesStatusUpdate struct {
	CorrelationID string     `json:"correlationId"`
	Status        dms.Status `json:"status"`
	FailureReason *string    `json:"failureReason,omitempty"`
}

// sdesCallbackHandler godoc
// @Summary Applies an SDES processing report to the matching submission.
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /sdes-callback [post]
// @Security Bearer
func (s *Server) sdesCallbackHandler(c *gin.Context) {
	var upd sdesStatusUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("can't parse status update, details: %v", err)})
		return
	}
	if upd.CorrelationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "correlationId is required"})
		return
	}
	// SDES only ever reports the outcome of processing.
	if upd.Status != dms.Processed && upd.Status != dms.Failed {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("status %s is not a processing outcome", upd.Status)})
		return
	}

	item, err := s.repository.GetByCorrelationID(c, upd.CorrelationID)
	if err != nil {
		writeError(c, err)
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("no submission with correlation id %s", upd.CorrelationID)})
		return
	}
	if !item.Status.CanTransitionTo(upd.Status) {
		c.JSON(http.StatusConflict, gin.H{"message": fmt.Sprintf("can't move submission %s from %s to %s", item.ID, item.Status, upd.Status)})
		return
	}

	updated, err := s.repository.UpdateByCorrelationID(c, upd.CorrelationID, upd.Status, upd.FailureReason)
	if err != nil {
		// A concurrent mutation between the read and the update.
		if dms.CodeOf(err) == dms.NothingToUpdate {
			c.JSON(http.StatusConflict, gin.H{"message": fmt.Sprintf("submission %s was concurrently modified", item.ID)})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": updated.ID, "status": updated.Status})
}

// listHandler godoc
// @Summary Lists the caller's submissions, oldest first.
// @Produce json
// @Param status query string false "Status to filter by"
// @Param created-before query string false "RFC3339 upper bound on lastUpdated"
// @Param limit query int false "Page size"
// @Param page-token query string false "Continuation token from a previous page"
// @Param filter query string false "CEL expression over the item variable"
// @Success 200 {object} dms.Page
// @Failure 400 {object} map[string]any
// @Router /dms-submission/submissions [get]
// @Security Bearer
func (s *Server) listHandler(c *gin.Context) {
	filter := dms.ListFilter{
		Status:    dms.Status(c.Query("status")),
		PageToken: c.Query("page-token"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("unknown status %s", filter.Status)})
		return
	}
	if cb := c.Query("created-before"); cb != "" {
		t, err := time.Parse(time.RFC3339Nano, cb)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("bad created-before, details: %v", err)})
			return
		}
		filter.CreatedBefore = t
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("bad limit %s", l)})
			return
		}
		filter.Limit = n
	}

	var evaluator *cel.Evaluator
	if expr := c.Query("filter"); expr != "" {
		var err error
		if evaluator, err = cel.NewEvaluator(expr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("bad filter, details: %v", err)})
			return
		}
	}

	page, err := s.repository.List(c, c.GetString(ownerKey), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if evaluator != nil {
		if page.Items, err = filterItems(evaluator, page.Items); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("bad filter, details: %v", err)})
			return
		}
	}
	c.JSON(http.StatusOK, page)
}

// filterItems keeps the items the CEL expression admits. Items cross into the
// evaluator as their JSON map shape.
func filterItems(evaluator *cel.Evaluator, items []dms.SubmissionItem) ([]dms.SubmissionItem, error) {
	marshaler := dms.NewMarshaler()
	kept := make([]dms.SubmissionItem, 0, len(items))
	for _, item := range items {
		ba, err := marshaler.Marshal(item)
		if err != nil {
			return nil, err
		}
		m := make(map[string]any)
		if err := marshaler.Unmarshal(ba, &m); err != nil {
			return nil, err
		}
		ok, err := evaluator.Evaluate(m)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// writeError maps a pipeline or repository error onto an HTTP response.
func writeError(c *gin.Context, err error) {
	var ve submit.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": ve.Errors})
		return
	}
	switch dms.CodeOf(err) {
	case dms.Validation:
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case dms.AuthFailure:
		c.JSON(http.StatusForbidden, gin.H{"message": err.Error()})
	case dms.Duplicate:
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case dms.NothingToUpdate:
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case dms.Transient:
		c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}
