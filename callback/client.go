// Package callback delivers the outbound client notification when a
// submission reaches a terminal state.
package callback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SharedCode/dms"
)

// Notifier POSTs the terminal-state notification to the item's callback URL.
type Notifier interface {
	Notify(ctx context.Context, item dms.SubmissionItem) error
}

type client struct {
	httpClient *http.Client
	marshaler  dms.Marshaler
}

// NewClient returns a Notifier whose calls are bounded by callTimeout.
func NewClient(callTimeout time.Duration) Notifier {
	return &client{
		httpClient: &http.Client{Timeout: callTimeout},
		marshaler:  dms.NewMarshaler(),
	}
}

// notification is what clients receive at their callback URL.
type notification struct {
	ID            string             `json:"id"`
	Status        dms.Status         `json:"status"`
	ObjectSummary *dms.ObjectSummary `json:"objectSummary,omitempty"`
	FailureReason *string            `json:"failureReason,omitempty"`
}

func (c *client) Notify(ctx context.Context, item dms.SubmissionItem) error {
	payload := notification{
		ID:            item.ID,
		Status:        item.Status,
		FailureReason: item.FailureReason,
	}
	if item.ObjectSummary.Location != "" {
		summary := item.ObjectSummary
		payload.ObjectSummary = &summary
	}
	ba, err := c.marshaler.Marshal(payload)
	if err != nil {
		return dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't marshal callback for %s, details: %w", item.ID, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.CallbackURL, bytes.NewReader(ba))
	if err != nil {
		return dms.Error{Code: dms.Transient, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dms.Error{Code: dms.Transient, Err: fmt.Errorf("callback to %s failed, details: %w", item.CallbackURL, err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Anything but a 200 counts as a failed attempt.
	if resp.StatusCode != http.StatusOK {
		return dms.Error{Code: dms.Transient, Err: fmt.Errorf("callback to %s returned status %d", item.CallbackURL, resp.StatusCode)}
	}
	return nil
}
