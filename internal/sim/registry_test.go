package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/qbitspark/sms-relay/internal/storage"
	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	cards []types.CardInfo
	err   error
}

func (f *fakeSource) ActiveCards(ctx context.Context) ([]types.CardInfo, error) {
	return f.cards, f.err
}

func newTestRegistry(t *testing.T) (*Registry, *fakeSource) {
	t.Helper()

	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close() // Ignore error in test
	})

	source := &fakeSource{}
	return NewRegistry(store, source), source
}

func TestDurableID_PrefersSerial(t *testing.T) {
	id := DurableID(types.CardInfo{
		SerialNumber:   "8925501234567890123",
		SubscriptionID: 3,
		CarrierName:    "Vodacom TZ",
		Slot:           1,
	})
	assert.Equal(t, "8925501234567890123", id)
}

func TestDurableID_FallbackWithoutSerial(t *testing.T) {
	id := DurableID(types.CardInfo{
		SubscriptionID: 3,
		CarrierName:    "Vodacom TZ",
		Slot:           1,
	})
	assert.Equal(t, "FALLBACK_3_VodacomTZ_1", id)
}

func TestDurableID_FallbackCollision(t *testing.T) {
	// Two different physical cards sharing carrier and slot synthesize
	// the same fallback id across separate detection passes. Documented
	// limitation, asserted as such.
	first := DurableID(types.CardInfo{SubscriptionID: 5, CarrierName: "Airtel", Slot: 0})
	second := DurableID(types.CardInfo{SubscriptionID: 5, CarrierName: "Airtel", Slot: 0})
	assert.Equal(t, first, second)
}

func TestReconcile_NewCard(t *testing.T) {
	registry, source := newTestRegistry(t)
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-1", SubscriptionID: 1, Slot: 0, CarrierName: "Vodacom"},
	}

	result, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.New, 1)
	assert.Empty(t, result.Removed)
	assert.Empty(t, result.Moved)
	require.Len(t, result.Active, 1)
	assert.True(t, result.Active[0].Present)
}

func TestReconcile_Idempotent(t *testing.T) {
	registry, source := newTestRegistry(t)
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-1", SubscriptionID: 1, Slot: 0, CarrierName: "Vodacom"},
		{SerialNumber: "sim-2", SubscriptionID: 2, Slot: 1, CarrierName: "Airtel"},
	}

	first, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, first.HasChanges())

	second, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, second.HasChanges())
	assert.Len(t, second.Active, 2)
}

func TestReconcile_LabelSurvivesSlotMove(t *testing.T) {
	registry, source := newTestRegistry(t)
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-1", SubscriptionID: 1, Slot: 0, CarrierName: "Vodacom"},
	}

	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	require.NoError(t, registry.AssignLabel(context.Background(), "sim-1", "+255700000001"))

	// Same card shows up in the other slot.
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-1", SubscriptionID: 4, Slot: 1, CarrierName: "Vodacom"},
	}

	result, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Moved, 1)
	assert.Equal(t, 1, result.Moved[0].Slot)
	assert.Equal(t, "+255700000001", result.Moved[0].AssignedLabel)

	sims, err := registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.Equal(t, "+255700000001", sims[0].AssignedLabel)
	assert.Equal(t, 1, sims[0].Slot)
}

func TestReconcile_RemovalRetainsRecordAndLabel(t *testing.T) {
	registry, source := newTestRegistry(t)
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-1", SubscriptionID: 1, Slot: 0, CarrierName: "Vodacom"},
	}

	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	require.NoError(t, registry.AssignLabel(context.Background(), "sim-1", "+255700000001"))

	// Card pulled out.
	source.cards = nil
	result, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Removed, 1)

	sims, err := registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.False(t, sims[0].Present)
	assert.Equal(t, "+255700000001", sims[0].AssignedLabel)

	// Removal is reported once, not on every subsequent pass.
	again, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, again.HasChanges())

	// Re-insertion regains the label without re-labeling.
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-1", SubscriptionID: 7, Slot: 1, CarrierName: "Vodacom"},
	}
	result, err = registry.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, result.HasChanges())

	sims, err = registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.True(t, sims[0].Present)
	assert.Equal(t, "+255700000001", sims[0].AssignedLabel)
}

func TestReconcile_EnumerationFailureIsUnknown(t *testing.T) {
	registry, source := newTestRegistry(t)
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-1", SubscriptionID: 1, Slot: 0, CarrierName: "Vodacom"},
	}

	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)

	// A denied enumeration must not mass-mark cards removed.
	source.cards = nil
	source.err = errors.New("mmcli not available")

	result, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, result.HasChanges())

	sims, err := registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.True(t, sims[0].Present)
}

func TestFullyLabeledAndNextUnlabeled(t *testing.T) {
	registry, source := newTestRegistry(t)
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-b", SubscriptionID: 2, Slot: 1, CarrierName: "Airtel"},
		{SerialNumber: "sim-a", SubscriptionID: 1, Slot: 0, CarrierName: "Vodacom"},
	}

	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)

	labeled, err := registry.FullyLabeled(context.Background())
	require.NoError(t, err)
	assert.False(t, labeled)

	// Deterministic order: slot 0 first.
	next, err := registry.NextUnlabeled(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "sim-a", next.DurableID)

	require.NoError(t, registry.AssignLabel(context.Background(), "sim-a", "+255700000001"))

	next, err = registry.NextUnlabeled(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "sim-b", next.DurableID)

	require.NoError(t, registry.AssignLabel(context.Background(), "sim-b", "+255700000002"))

	labeled, err = registry.FullyLabeled(context.Background())
	require.NoError(t, err)
	assert.True(t, labeled)

	next, err = registry.NextUnlabeled(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestFullyLabeled_NoPresentCards(t *testing.T) {
	registry, _ := newTestRegistry(t)

	labeled, err := registry.FullyLabeled(context.Background())
	require.NoError(t, err)
	assert.False(t, labeled)
}

func TestResolveSubscription(t *testing.T) {
	registry, source := newTestRegistry(t)
	source.cards = []types.CardInfo{
		{SerialNumber: "sim-1", SubscriptionID: 1, Slot: 0, CarrierName: "Vodacom"},
		{SerialNumber: "sim-2", SubscriptionID: 2, Slot: 1, CarrierName: "Airtel"},
	}

	_, err := registry.Reconcile(context.Background())
	require.NoError(t, err)
	require.NoError(t, registry.AssignLabel(context.Background(), "sim-1", "+255700000001"))

	// Labeled card resolves to its label.
	assert.Equal(t, "+255700000001", registry.ResolveSubscription(context.Background(), 1))
	// Unlabeled card falls back to the durable id.
	assert.Equal(t, "sim-2", registry.ResolveSubscription(context.Background(), 2))
	// Unknown handle resolves to the degraded placeholder.
	assert.Equal(t, UnknownIdentity, registry.ResolveSubscription(context.Background(), 99))
}

func TestAssignLabel_UnknownDurableIDCreatesRecord(t *testing.T) {
	registry, _ := newTestRegistry(t)

	require.NoError(t, registry.AssignLabel(context.Background(), "sim-future", "+255700000009"))

	sims, err := registry.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.Equal(t, "sim-future", sims[0].DurableID)
	assert.Equal(t, "+255700000009", sims[0].AssignedLabel)
	assert.False(t, sims[0].Present)
}
