package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/bloodbank/infrastructure"
	"github.com/bloodnet/platform/internal/inventory"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store  *infrastructure.MemoryStore
	ledger *inventory.Ledger
	coord  *Coordinator
	bus    *events.Recorder
	orgs   map[string]*domain.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := infrastructure.NewMemoryStore()
	bus := &events.Recorder{}
	ledger := inventory.NewLedger(store, nil, bus, 10, zap.NewNop())
	ledger.SetClock(func() time.Time { return now })
	coord := NewCoordinator(store, ledger, bus, zap.NewNop())
	coord.SetClock(func() time.Time { return now })
	f := &fixture{store: store, ledger: ledger, coord: coord, bus: bus, orgs: map[string]*domain.Organization{}}

	loc := types.NewLocation("Bhopal", "Bhopal", "Madhya Pradesh")
	f.add(t, "cbb1", domain.OrganizationTypeCBB, loc, nil)
	f.add(t, "cbb2", domain.OrganizationTypeCBB, loc, nil)
	f.add(t, "node", domain.OrganizationTypeNode, loc, &f.orgs["cbb1"].ID)
	f.add(t, "hospital", domain.OrganizationTypeHospital, loc, &f.orgs["cbb1"].ID)
	return f
}

func (f *fixture) add(t *testing.T, key string, orgType domain.OrganizationType, loc types.Location, parent *types.ID) {
	t.Helper()
	org, err := domain.NewOrganization(key, orgType, loc, parent, now)
	require.NoError(t, err)
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Organizations().Create(ctx, org)
	}))
	f.orgs[key] = org
}

func (f *fixture) stock(t *testing.T, key string, bt types.BloodType) int {
	t.Helper()
	rec, err := f.ledger.GetOrCreate(context.Background(), f.orgs[key].ID, bt)
	require.NoError(t, err)
	return rec.Quantity
}

func TestCBBToCBBRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Add(ctx, f.orgs["cbb1"].ID, types.BloodTypeAPos, 30, "")
	require.NoError(t, err)

	tr, err := f.coord.Dispatch(ctx, DispatchInput{
		FromID: f.orgs["cbb1"].ID, ToID: f.orgs["cbb2"].ID,
		BloodType: types.BloodTypeAPos, Quantity: 8,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusDispatched, tr.Status)
	assert.Equal(t, domain.TransferTypeInterBankAllocation, tr.TransferType)
	assert.False(t, tr.CreditedOnDispatch)
	assert.Equal(t, 22, f.stock(t, "cbb1", types.BloodTypeAPos))
	assert.Equal(t, 0, f.stock(t, "cbb2", types.BloodTypeAPos))

	tr, err = f.coord.Receive(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusDelivered, tr.Status)
	require.NotNil(t, tr.DeliveredAt)
	assert.Equal(t, 22, f.stock(t, "cbb1", types.BloodTypeAPos))
	assert.Equal(t, 8, f.stock(t, "cbb2", types.BloodTypeAPos))

	_, err = f.coord.Receive(ctx, tr.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidStateTransition)
	assert.Equal(t, 8, f.stock(t, "cbb2", types.BloodTypeAPos), "double receive must not credit again")

	assert.Contains(t, f.bus.Types(), domain.EventTransferDispatched)
	assert.Contains(t, f.bus.Types(), domain.EventTransferDelivered)
}

func TestNodeOriginCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.coord.Dispatch(ctx, DispatchInput{
		FromID: f.orgs["node"].ID, ToID: f.orgs["cbb1"].ID,
		BloodType: types.BloodTypeONeg, Quantity: 1, TransferType: domain.TransferTypeDonationCollection,
	})
	require.NoError(t, err)
	assert.True(t, tr.CreditedOnDispatch)
	assert.Equal(t, 1, f.stock(t, "cbb1", types.BloodTypeONeg))

	_, err = f.coord.Receive(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.stock(t, "cbb1", types.BloodTypeONeg))
}

func TestDispatchFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Add(ctx, f.orgs["cbb1"].ID, types.BloodTypeBPos, 5, "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      DispatchInput
		wantErr error
	}{
		{"insufficient stock", DispatchInput{FromID: f.orgs["cbb1"].ID, ToID: f.orgs["cbb2"].ID, BloodType: types.BloodTypeBPos, Quantity: 6}, errors.ErrInsufficientStock},
		{"zero quantity", DispatchInput{FromID: f.orgs["cbb1"].ID, ToID: f.orgs["cbb2"].ID, BloodType: types.BloodTypeBPos}, errors.ErrInvalidArgument},
		{"same organization", DispatchInput{FromID: f.orgs["cbb1"].ID, ToID: f.orgs["cbb1"].ID, BloodType: types.BloodTypeBPos, Quantity: 1}, errors.ErrInvalidArgument},
		{"no CBB at either end", DispatchInput{FromID: f.orgs["node"].ID, ToID: f.orgs["hospital"].ID, BloodType: types.BloodTypeBPos, Quantity: 1}, errors.ErrInvalidArgument},
		{"unknown receiver", DispatchInput{FromID: f.orgs["cbb1"].ID, ToID: types.NewID(), BloodType: types.BloodTypeBPos, Quantity: 1}, errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Dispatch(ctx, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, 5, f.stock(t, "cbb1", types.BloodTypeBPos))
	history, err := f.coord.HistoryFor(ctx, f.orgs["cbb1"].ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReceiveFulfillmentDeliversRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := domain.NewHospitalRequest(f.orgs["hospital"], f.orgs["cbb1"], types.BloodTypeABPos, 2, domain.UrgencyNormal, now)
	require.NoError(t, err)
	require.NoError(t, req.TransitionTo(domain.RequestStatusApproved, now))
	tr, err := domain.NewTransfer(f.orgs["cbb1"], f.orgs["hospital"], types.BloodTypeABPos, 2, domain.TransferTypeRequestFulfillment, now)
	require.NoError(t, err)
	tr.HospitalRequestID = &req.ID
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.HospitalRequests().Create(ctx, req); err != nil {
			return err
		}
		return tx.Transfers().Create(ctx, tr)
	}))

	_, err = f.coord.Receive(ctx, tr.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		got, err := tx.HospitalRequests().Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RequestStatusDelivered, got.Status)
		return nil
	}))
	assert.Equal(t, 0, f.stock(t, "cbb1", types.BloodTypeABPos), "hospitals hold no inventory")
}

func TestHistoryFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.Add(ctx, f.orgs["cbb1"].ID, types.BloodTypeOPos, 40, "")
	require.NoError(t, err)

	first, err := f.coord.Dispatch(ctx, DispatchInput{FromID: f.orgs["cbb1"].ID, ToID: f.orgs["cbb2"].ID, BloodType: types.BloodTypeOPos, Quantity: 3})
	require.NoError(t, err)
	second, err := f.coord.Dispatch(ctx, DispatchInput{FromID: f.orgs["node"].ID, ToID: f.orgs["cbb1"].ID, BloodType: types.BloodTypeOPos, Quantity: 1})
	require.NoError(t, err)
	_, err = f.coord.Dispatch(ctx, DispatchInput{FromID: f.orgs["node"].ID, ToID: f.orgs["cbb2"].ID, BloodType: types.BloodTypeOPos, Quantity: 1})
	require.NoError(t, err)

	history, err := f.coord.HistoryFor(ctx, f.orgs["cbb1"].ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID, "newest first")
	assert.Equal(t, first.ID, history[1].ID)

	_, err = f.coord.HistoryFor(ctx, types.NewID())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
