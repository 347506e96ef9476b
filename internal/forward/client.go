// Package forward sends captured messages to the remote collection
// endpoint.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qbitspark/sms-relay/internal/retry"
	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/sirupsen/logrus"
)

// DeviceDetailsProvider supplies the opaque deviceDetails blob attached to
// every payload.
type DeviceDetailsProvider interface {
	Collect() (json.RawMessage, error)
}

// Payload is the collection endpoint's wire format.
type Payload struct {
	BranchID      string          `json:"branchId"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver"`
	Message       string          `json:"message"`
	Timestamp     string          `json:"timestamp"`
	DeviceDetails json.RawMessage `json:"deviceDetails,omitempty"`
}

// Client posts messages to the collection endpoint. Any transport error or
// non-2xx status is a transient failure; the caller keeps the record
// pending.
type Client struct {
	endpoint   string
	httpClient *http.Client
	details    DeviceDetailsProvider
	retryCfg   retry.Config
	now        func() time.Time
}

// NewClient creates a forwarding client.
func NewClient(endpoint string, timeout time.Duration, details DeviceDetailsProvider) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		details:    details,
		retryCfg: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2,
		},
		now: time.Now,
	}
}

// Send posts one message. A nil return means the endpoint acknowledged
// receipt with a 2xx status.
func (c *Client) Send(ctx context.Context, msg types.Message, branchID string) error {
	payload := Payload{
		BranchID: branchID,
		Sender:   msg.Sender,
		Receiver: msg.Receiver,
		Message:  msg.Body,
		// The endpoint expects the send time, UTC, second precision.
		Timestamp: c.now().UTC().Truncate(time.Second).Format(time.RFC3339),
	}

	if c.details != nil {
		details, err := c.details.Collect()
		if err != nil {
			logrus.WithError(err).Warn("Failed to collect device details")
		} else {
			payload.DeviceDetails = details
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return retry.Do(ctx, c.retryCfg, func() error {
		return c.post(ctx, body)
	})
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	return nil
}
