// Package outbox owns the capture-and-forward lifecycle: persist first,
// deliver through the kill-switch gate, delete only on confirmed receipt.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qbitspark/sms-relay/internal/metrics"
	"github.com/qbitspark/sms-relay/internal/storage"
	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/sirupsen/logrus"
)

// DefaultBranchKey is the settings key holding the fallback branch id.
const DefaultBranchKey = "default_branch_id"

// Forwarder sends one message to the collection endpoint.
type Forwarder interface {
	Send(ctx context.Context, msg types.Message, branchID string) error
}

// Gate is the pre-send kill switch.
type Gate interface {
	IsDisabled(ctx context.Context) bool
}

// Archiver stores a copy of a delivered message before local deletion.
type Archiver interface {
	Archive(ctx context.Context, msg types.Message) error
}

// Outbox is the persistent pending-message set plus the single delivery
// code path every trigger goes through.
type Outbox struct {
	store     *storage.Store
	gate      Gate
	forwarder Forwarder
	archiver  Archiver // optional

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// New creates an outbox. archiver may be nil.
func New(store *storage.Store, gate Gate, forwarder Forwarder, archiver Archiver) *Outbox {
	return &Outbox{
		store:     store,
		gate:      gate,
		forwarder: forwarder,
		archiver:  archiver,
		inflight:  make(map[int64]struct{}),
	}
}

// Capture persists one inbound message. The record is durable before this
// returns; a process kill immediately afterwards loses nothing.
func (o *Outbox) Capture(ctx context.Context, sender, receiver, body string, capturedAt time.Time) (int64, error) {
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	msg := &types.Message{
		Sender:     sender,
		Receiver:   receiver,
		Body:       body,
		CapturedAt: capturedAt,
	}

	id, err := o.store.InsertMessage(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to capture message: %w", err)
	}

	metrics.CapturedTotal.Inc()
	logrus.WithFields(logrus.Fields{
		"id":       id,
		"receiver": receiver,
	}).Info("Message captured")

	return id, nil
}

// ListPending returns the pending snapshot in capture order. It can be
// re-invoked any number of times; there is no cursor state.
func (o *Outbox) ListPending(ctx context.Context) ([]types.Message, error) {
	return o.store.ListPendingMessages(ctx)
}

// AttemptDeliver runs one delivery attempt for one record. Attempts for
// the same record id are serialized: a concurrent attempt is skipped, not
// queued. A non-nil error is a local-storage failure and the one case the
// caller should treat as fatal.
func (o *Outbox) AttemptDeliver(ctx context.Context, msg types.Message) (types.DeliveryOutcome, error) {
	if !o.acquire(msg.ID) {
		return types.OutcomeSkipped, nil
	}
	defer o.release(msg.ID)

	// Fresh check per attempt so a flipped switch takes effect on the
	// next delivery, not after some cache expiry.
	if o.gate != nil && o.gate.IsDisabled(ctx) {
		metrics.KillSwitchBlockedTotal.Inc()
		logrus.WithField("id", msg.ID).Warn("Delivery suppressed by kill switch, leaving pending")
		return types.OutcomeBlocked, nil
	}

	branchID, err := o.branchID(ctx, msg)
	if err != nil {
		return types.OutcomeFatal, err
	}

	if err := o.forwarder.Send(ctx, msg, branchID); err != nil {
		metrics.RetryableTotal.Inc()
		logrus.WithError(err).WithField("id", msg.ID).Warn("Delivery failed, will retry")
		return types.OutcomeRetryable, nil
	}

	if o.archiver != nil {
		if err := o.archiver.Archive(ctx, msg); err != nil {
			logrus.WithError(err).WithField("id", msg.ID).Warn("Failed to archive delivered message")
		}
	}

	// Deletion is the durable "confirmed delivered" signal. If it fails
	// the record stays pending and may be redelivered; the remote side is
	// idempotent on content.
	if err := o.store.DeleteMessage(ctx, msg.ID); err != nil {
		return types.OutcomeFatal, fmt.Errorf("delivered but failed to delete record %d: %w", msg.ID, err)
	}

	metrics.DeliveredTotal.Inc()
	logrus.WithField("id", msg.ID).Info("Message delivered")

	return types.OutcomeDelivered, nil
}

// DeliverPending runs one pass over the pending snapshot. A failing or
// stuck record never blocks the rest of the pass.
func (o *Outbox) DeliverPending(ctx context.Context) error {
	pending, err := o.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending messages: %w", err)
	}

	for _, msg := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := o.AttemptDeliver(ctx, msg); err != nil {
			logrus.WithError(err).WithField("id", msg.ID).Error("Storage failure during delivery")
		}
	}

	if count, err := o.store.CountPendingMessages(ctx); err == nil {
		metrics.PendingMessages.Set(float64(count))
	}

	return nil
}

// DefaultBranchID returns the persisted fallback branch id.
func (o *Outbox) DefaultBranchID(ctx context.Context) (string, error) {
	return o.store.GetSetting(ctx, DefaultBranchKey, "DEFAULT")
}

// SetDefaultBranchID persists the fallback branch id.
func (o *Outbox) SetDefaultBranchID(ctx context.Context, branchID string) error {
	return o.store.SetSetting(ctx, DefaultBranchKey, branchID)
}

// branchID picks the receiver identity, falling back to the saved default
// when the identity could not be resolved at capture time.
func (o *Outbox) branchID(ctx context.Context, msg types.Message) (string, error) {
	if msg.Receiver != "" && msg.Receiver != "Unknown" && msg.Receiver != "UNKNOWN_SIM" {
		return msg.Receiver, nil
	}
	return o.DefaultBranchID(ctx)
}

func (o *Outbox) acquire(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Outbox) release(id int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, id)
}
