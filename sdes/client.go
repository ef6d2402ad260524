// Package sdes notifies the downstream Secure Data Exchange Service that a
// submission zip is ready for collection.
package sdes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/SharedCode/dms"
)

// Notifier tells SDES about a file that is ready for collection.
type Notifier interface {
	Notify(ctx context.Context, item dms.SubmissionItem) error
}

type client struct {
	httpClient *http.Client
	config     dms.SdesConfig
	marshaler  dms.Marshaler
}

// NewClient returns a Notifier POSTing file-ready notifications to the
// configured SDES endpoint, each call bounded by the configured timeout.
func NewClient(config dms.SdesConfig) Notifier {
	return &client{
		httpClient: &http.Client{Timeout: config.CallTimeout},
		config:     config,
		marshaler:  dms.NewMarshaler(),
	}
}

type checksum struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type file struct {
	RecipientOrSender string   `json:"recipientOrSender"`
	Name              string   `json:"name"`
	Location          string   `json:"location"`
	Checksum          checksum `json:"checksum"`
	Size              int64    `json:"size"`
}

type audit struct {
	CorrelationID string `json:"correlationID"`
}

// fileReadyNotification is the SDES notification payload.
type fileReadyNotification struct {
	InformationType string `json:"informationType"`
	File            file   `json:"file"`
	Audit           audit  `json:"audit"`
}

func (c *client) Notify(ctx context.Context, item dms.SubmissionItem) error {
	payload := fileReadyNotification{
		InformationType: c.config.InformationType,
		File: file{
			RecipientOrSender: c.config.RecipientOrSender,
			Name:              item.SdesCorrelationID + ".zip",
			Location:          item.ObjectSummary.Location,
			Checksum: checksum{
				Algorithm: "md5",
				Value:     item.ObjectSummary.ContentMd5,
			},
			Size: item.ObjectSummary.ContentLength,
		},
		Audit: audit{
			CorrelationID: item.SdesCorrelationID,
		},
	}
	ba, err := c.marshaler.Marshal(payload)
	if err != nil {
		return dms.Error{Code: dms.Transient, Err: fmt.Errorf("couldn't marshal SDES notification for %s, details: %w", item.SdesCorrelationID, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseUrl+"/notification/fileready", bytes.NewReader(ba))
	if err != nil {
		return dms.Error{Code: dms.Transient, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dms.Error{Code: dms.Transient, Err: fmt.Errorf("SDES notification for %s failed, details: %w", item.SdesCorrelationID, err)}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return dms.Error{Code: dms.Transient, Err: fmt.Errorf("SDES notification for %s returned status %d", item.SdesCorrelationID, resp.StatusCode)}
	}
	return nil
}
