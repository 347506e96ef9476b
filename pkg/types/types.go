package types

import "time"

// CardInfo is a single card as reported by the platform enumeration.
// SubscriptionID and Slot are volatile runtime attributes; SerialNumber
// (when the platform exposes it) follows the physical card.
type CardInfo struct {
	SerialNumber   string
	SubscriptionID int
	Slot           int
	CarrierName    string
	DetectedNumber string
}

// SIMIdentity is the durable record kept per physical card.
type SIMIdentity struct {
	DurableID      string    `json:"durable_id"`
	AssignedLabel  string    `json:"assigned_label,omitempty"`
	CarrierName    string    `json:"carrier_name,omitempty"`
	Slot           int       `json:"slot"`
	SubscriptionID int       `json:"subscription_id"`
	DetectedNumber string    `json:"detected_number,omitempty"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	Present        bool      `json:"present"`
}

// ReconciliationResult classifies the difference between the live card set
// and the persisted one.
type ReconciliationResult struct {
	New     []SIMIdentity `json:"new"`
	Removed []SIMIdentity `json:"removed"`
	Moved   []SIMIdentity `json:"moved"`
	Active  []SIMIdentity `json:"active"`
}

// HasChanges reports whether the pass detected any insertion, removal or
// slot move.
func (r *ReconciliationResult) HasChanges() bool {
	return len(r.New) > 0 || len(r.Removed) > 0 || len(r.Moved) > 0
}

// Message is one captured inbound message. A row existing in the store is
// the Pending state; delivered messages are deleted, not marked.
type Message struct {
	ID         int64     `json:"id"`
	Sender     string    `json:"sender"`
	Receiver   string    `json:"receiver"`
	Body       string    `json:"body"`
	CapturedAt time.Time `json:"captured_at"`
}

// DeliveryOutcome is the result of a single delivery attempt.
type DeliveryOutcome string

const (
	// OutcomeDelivered means the remote endpoint acknowledged receipt and
	// the record has been deleted.
	OutcomeDelivered DeliveryOutcome = "delivered"
	// OutcomeRetryable means the send failed transiently; the record stays
	// pending until the next trigger.
	OutcomeRetryable DeliveryOutcome = "retryable"
	// OutcomeBlocked means the kill switch suppressed the send; the record
	// stays pending and the attempt is not counted as a failure.
	OutcomeBlocked DeliveryOutcome = "blocked"
	// OutcomeSkipped means another attempt for the same record was already
	// mid-flight.
	OutcomeSkipped DeliveryOutcome = "skipped"
	// OutcomeFatal means local storage failed after a successful send.
	OutcomeFatal DeliveryOutcome = "fatal"
)

// CaptureRequest is the inbound-event payload posted by the listener
// collaborator. Timestamp is the capture time in epoch milliseconds;
// zero or implausibly small values are treated as absent and the
// receipt time is used instead.
type CaptureRequest struct {
	Sender         string `json:"sender" binding:"required"`
	Body           string `json:"message" binding:"required"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	SubscriptionID int    `json:"subscription_id"`
}

// CaptureResponse acknowledges a persisted capture.
type CaptureResponse struct {
	ID       int64  `json:"id"`
	Receiver string `json:"receiver"`
	Status   string `json:"status"`
}

// AssignLabelRequest sets the user-supplied label for a card.
type AssignLabelRequest struct {
	Label string `json:"label" binding:"required"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	PendingCount int       `json:"pending_count"`
	FullyLabeled bool      `json:"fully_labeled"`
}
