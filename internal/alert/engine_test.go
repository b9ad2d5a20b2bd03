package alert

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

var now = time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

type fixture struct {
	store    *infrastructure.MemoryStore
	ledger   *inventory.Ledger
	engine   *Engine
	bus      *events.Recorder
	cbb      *domain.Organization
	hospital *domain.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := infrastructure.NewMemoryStore()

	cbb, err := domain.NewOrganization("Jaipur CBB", domain.OrganizationTypeCBB, types.NewLocation("Jaipur", "Jaipur", "Rajasthan"), nil, now)
	require.NoError(t, err)
	hospital, err := domain.NewOrganization("SMS Hospital", domain.OrganizationTypeHospital, types.NewLocation("Jaipur", "Jaipur", "Rajasthan"), &cbb.ID, now)
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Organizations().Create(ctx, cbb); err != nil {
			return err
		}
		return tx.Organizations().Create(ctx, hospital)
	}))

	bus := &events.Recorder{}
	ledger := newTestLedger(store, bus)
	engine := NewEngine(store, ledger, bus, zap.NewNop())
	engine.SetClock(func() time.Time { return now.Add(time.Hour) })
	return &fixture{store: store, ledger: ledger, engine: engine, bus: bus, cbb: cbb, hospital: hospital}
}

func newTestLedger(store domain.Store, bus events.Publisher) *inventory.Ledger {
	l := inventory.NewLedger(store, nil, bus, 10, zap.NewNop())
	l.SetClock(func() time.Time { return now })
	return l
}

func (f *fixture) requestAlert(t *testing.T, units int) (*domain.HospitalRequest, *domain.Alert) {
	t.Helper()
	req, err := domain.NewHospitalRequest(f.hospital, f.cbb, types.BloodTypeAPos, units, domain.UrgencyNormal, now)
	require.NoError(t, err)
	alert := domain.NewRequestAlert(f.hospital, req, now)
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.HospitalRequests().Create(ctx, req); err != nil {
			return err
		}
		return tx.Alerts().Create(ctx, alert)
	}))
	return req, alert
}

func (f *fixture) request(t *testing.T, id types.ID) *domain.HospitalRequest {
	t.Helper()
	var req *domain.HospitalRequest
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		req, err = tx.HospitalRequests().Get(ctx, id)
		return err
	}))
	return req
}

func TestResolveThresholdAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raised, err := f.ledger.ThresholdCheck(ctx, f.cbb.ID, types.BloodTypeONeg)
	require.NoError(t, err)
	require.NotNil(t, raised)

	res, err := f.engine.Resolve(ctx, raised.ID)
	require.NoError(t, err)
	assert.True(t, res.Alert.Resolved)
	require.NotNil(t, res.Alert.ResolvedAt)
	assert.Equal(t, now.Add(time.Hour), *res.Alert.ResolvedAt)
	assert.Nil(t, res.Request)
	assert.Nil(t, res.Transfer)

	_, err = f.engine.Resolve(ctx, raised.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidStateTransition)

	_, err = f.engine.Resolve(ctx, types.NewID())
	assert.ErrorIs(t, err, errors.ErrNotFound)

	assert.Contains(t, f.bus.Types(), domain.EventAlertResolved)
}

func TestResolveRequestAlertFulfilsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Add(ctx, f.cbb.ID, types.BloodTypeAPos, 25, "")
	require.NoError(t, err)
	req, alert := f.requestAlert(t, 5)

	res, err := f.engine.Resolve(ctx, alert.ID)
	require.NoError(t, err)

	require.NotNil(t, res.Request)
	assert.Equal(t, domain.RequestStatusApproved, res.Request.Status)
	assert.Equal(t, domain.RequestStatusApproved, f.request(t, req.ID).Status)

	require.NotNil(t, res.Transfer)
	assert.Equal(t, f.cbb.ID, res.Transfer.FromOrgID)
	assert.Equal(t, f.hospital.ID, res.Transfer.ToOrgID)
	assert.Equal(t, 5, res.Transfer.Quantity)
	assert.Equal(t, domain.TransferStatusDispatched, res.Transfer.Status)
	assert.Equal(t, domain.TransferTypeRequestFulfillment, res.Transfer.TransferType)
	require.NotNil(t, res.Transfer.HospitalRequestID)
	assert.Equal(t, req.ID, *res.Transfer.HospitalRequestID)

	rec, err := f.ledger.GetOrCreate(ctx, f.cbb.ID, types.BloodTypeAPos)
	require.NoError(t, err)
	assert.Equal(t, 20, rec.Quantity)
}

func TestResolveRequestAlertRollsBackOnInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Add(ctx, f.cbb.ID, types.BloodTypeAPos, 3, "")
	require.NoError(t, err)
	req, alert := f.requestAlert(t, 5)

	_, err = f.engine.Resolve(ctx, alert.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInsufficientStock)

	got, err := f.engine.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.False(t, got.Resolved, "alert must stay open after a failed resolution")
	assert.Equal(t, domain.RequestStatusPending, f.request(t, req.ID).Status)

	rec, err := f.ledger.GetOrCreate(ctx, f.cbb.ID, types.BloodTypeAPos)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Quantity)

	var transfers []domain.Transfer
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		transfers, err = tx.Transfers().ListForOrganization(ctx, f.cbb.ID)
		return err
	}))
	assert.Empty(t, transfers)
	assert.NotContains(t, f.bus.Types(), domain.EventAlertResolved)
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := domain.NewOrganization("Udaipur CBB", domain.OrganizationTypeCBB, types.NewLocation("Udaipur", "Udaipur", "Rajasthan"), nil, now)
	require.NoError(t, err)
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Organizations().Create(ctx, other)
	}))

	a1, err := f.ledger.ThresholdCheck(ctx, f.cbb.ID, types.BloodTypeBPos)
	require.NoError(t, err)
	_, err = f.ledger.ThresholdCheck(ctx, other.ID, types.BloodTypeBPos)
	require.NoError(t, err)
	_, err = f.ledger.ThresholdCheck(ctx, f.cbb.ID, types.BloodTypeBNeg)
	require.NoError(t, err)
	_, err = f.engine.Resolve(ctx, a1.ID)
	require.NoError(t, err)

	all, err := f.engine.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	open, err := f.engine.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	jaipur, err := f.engine.ListUnresolvedByCity(ctx, " jaipur ")
	require.NoError(t, err)
	require.Len(t, jaipur, 1)
	assert.Equal(t, types.BloodTypeBNeg, jaipur[0].BloodType)
}

func TestAlertOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	threshold, err := f.ledger.ThresholdCheck(ctx, f.cbb.ID, types.BloodTypeONeg)
	require.NoError(t, err)
	require.NotNil(t, threshold)
	_, request := f.requestAlert(t, 2)

	tests := []struct {
		name string
		id   types.ID
		want types.ID
	}{
		{"threshold alert belongs to the raising bank", threshold.ID, f.cbb.ID},
		{"request alert belongs to the supplying bank, not the hospital", request.ID, f.cbb.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.Owner(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = f.engine.Owner(ctx, types.NewID())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
