// Package sim tracks durable card identities across slot moves, removals
// and process restarts.
package sim

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/qbitspark/sms-relay/internal/storage"
	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/sirupsen/logrus"
)

// UnknownIdentity is the degraded placeholder used when a subscription
// handle cannot be resolved to any known card.
const UnknownIdentity = "UNKNOWN_SIM"

// CardSource enumerates the cards currently visible to the platform. An
// error means the enumeration itself is unavailable (permission denied,
// tooling missing), not that zero cards are inserted.
type CardSource interface {
	ActiveCards(ctx context.Context) ([]types.CardInfo, error)
}

// Registry reconciles the live card set against the persisted one. The
// read-diff-write cycle is a critical section per registry instance.
type Registry struct {
	store  *storage.Store
	source CardSource
	mu     sync.Mutex
}

// NewRegistry creates a registry backed by the given store and card source.
func NewRegistry(store *storage.Store, source CardSource) *Registry {
	return &Registry{
		store:  store,
		source: source,
	}
}

var carrierSanitizer = regexp.MustCompile(`[^A-Za-z0-9]`)

// DurableID derives the stable identifier for a card. The hardware serial
// is preferred; without one a deterministic fallback is synthesized from
// volatile attributes. Two different cards sharing carrier and slot can
// collide under the fallback; that limitation is accepted, not patched.
func DurableID(card types.CardInfo) string {
	if card.SerialNumber != "" {
		return card.SerialNumber
	}
	return fmt.Sprintf("FALLBACK_%d_%s_%d",
		card.SubscriptionID,
		carrierSanitizer.ReplaceAllString(card.CarrierName, ""),
		card.Slot,
	)
}

// Reconcile reads the live card set, diffs it against the saved set and
// persists the merged result when anything changed.
//
// When enumeration fails the result is empty ("unknown"): no diff runs,
// nothing is persisted, and no card is classified Removed.
func (r *Registry) Reconcile(ctx context.Context) (*types.ReconciliationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &types.ReconciliationResult{}

	cards, err := r.source.ActiveCards(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Card enumeration unavailable, treating as unknown")
		return result, nil
	}

	saved, err := r.store.LoadSIMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load saved sims: %w", err)
	}

	savedByID := make(map[string]types.SIMIdentity, len(saved))
	for _, sim := range saved {
		savedByID[sim.DurableID] = sim
	}

	now := time.Now()
	currentIDs := make(map[string]bool, len(cards))

	for _, card := range cards {
		identity := types.SIMIdentity{
			DurableID:      DurableID(card),
			CarrierName:    card.CarrierName,
			Slot:           card.Slot,
			SubscriptionID: card.SubscriptionID,
			DetectedNumber: card.DetectedNumber,
			LastSeenAt:     now,
			Present:        true,
		}
		currentIDs[identity.DurableID] = true

		prev, known := savedByID[identity.DurableID]
		if !known {
			result.New = append(result.New, identity)
		} else {
			// The label is sticky: carry it forward on every pass.
			identity.AssignedLabel = prev.AssignedLabel
			switch {
			case !prev.Present:
				// Re-inserted card regains its history.
				result.New = append(result.New, identity)
			case prev.Slot != identity.Slot:
				result.Moved = append(result.Moved, identity)
			}
		}

		result.Active = append(result.Active, identity)
	}

	for _, prev := range saved {
		if !currentIDs[prev.DurableID] && prev.Present {
			result.Removed = append(result.Removed, prev)
		}
	}

	if result.HasChanges() {
		// Persist the present cards plus every absent card marked
		// not-present, so labels survive removal and re-insertion.
		merged := make([]types.SIMIdentity, 0, len(result.Active)+len(saved))
		merged = append(merged, result.Active...)
		for _, prev := range saved {
			if !currentIDs[prev.DurableID] {
				prev.Present = false
				merged = append(merged, prev)
			}
		}

		if err := r.store.ReplaceSIMs(ctx, merged); err != nil {
			return nil, fmt.Errorf("failed to persist sim set: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"new":     len(result.New),
			"removed": len(result.Removed),
			"moved":   len(result.Moved),
		}).Info("SIM set changed")
	}

	return result, nil
}

// AssignLabel upserts the user-supplied label for a durable id and
// persists immediately. Unknown ids get a minimal record.
func (r *Registry) AssignLabel(ctx context.Context, durableID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved, err := r.store.LoadSIMs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load saved sims: %w", err)
	}

	for i := range saved {
		if saved[i].DurableID == durableID {
			saved[i].AssignedLabel = label
			return r.store.UpsertSIM(ctx, &saved[i])
		}
	}

	sim := types.SIMIdentity{
		DurableID:     durableID,
		AssignedLabel: label,
		LastSeenAt:    time.Now(),
	}
	return r.store.UpsertSIM(ctx, &sim)
}

// List returns the persisted SIM set, present or not.
func (r *Registry) List(ctx context.Context) ([]types.SIMIdentity, error) {
	return r.store.LoadSIMs(ctx)
}

// FullyLabeled reports whether every currently-present card has a
// non-empty assigned label. With no present cards it is false.
func (r *Registry) FullyLabeled(ctx context.Context) (bool, error) {
	saved, err := r.store.LoadSIMs(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load saved sims: %w", err)
	}

	any := false
	for _, sim := range saved {
		if !sim.Present {
			continue
		}
		any = true
		if sim.AssignedLabel == "" {
			return false, nil
		}
	}

	return any, nil
}

// NextUnlabeled returns the first present card without a label, in slot
// then durable-id order, or nil when all are labeled. The order is stable
// so a one-at-a-time labeling flow neither skips nor repeats a card.
func (r *Registry) NextUnlabeled(ctx context.Context) (*types.SIMIdentity, error) {
	saved, err := r.store.LoadSIMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load saved sims: %w", err)
	}

	for _, sim := range saved {
		if sim.Present && sim.AssignedLabel == "" {
			return &sim, nil
		}
	}

	return nil, nil
}

// ResolveSubscription maps a volatile subscription handle to the durable
// identity used to label captured messages: the assigned label when set,
// the durable id otherwise, or the UNKNOWN_SIM placeholder.
func (r *Registry) ResolveSubscription(ctx context.Context, subscriptionID int) string {
	saved, err := r.store.LoadSIMs(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to load sims while resolving subscription")
		return UnknownIdentity
	}

	for _, sim := range saved {
		if sim.Present && sim.SubscriptionID == subscriptionID {
			if sim.AssignedLabel != "" {
				return sim.AssignedLabel
			}
			return sim.DurableID
		}
	}

	return UnknownIdentity
}
