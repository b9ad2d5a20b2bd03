package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/bloodbank/infrastructure"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/lock"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var created = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type escalations struct {
	mu     sync.Mutex
	levels map[types.ID][]domain.EscalationLevel
}

func (e *escalations) Escalated(_ context.Context, a *domain.Alert, _ *domain.Organization) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.levels == nil {
		e.levels = map[types.ID][]domain.EscalationLevel{}
	}
	e.levels[a.ID] = append(e.levels[a.ID], a.EscalationLevel)
}

type fixture struct {
	store     *infrastructure.MemoryStore
	locker    *lock.LocalLocker
	notified  *escalations
	bus       *events.Recorder
	scheduler *Scheduler
	cbb       *domain.Organization
	hospital  *domain.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    infrastructure.NewMemoryStore(),
		locker:   lock.NewLocalLocker(),
		notified: &escalations{},
		bus:      &events.Recorder{},
	}
	f.scheduler = NewScheduler(f.store, f.locker, f.notified, f.bus, DefaultConfig(), zap.NewNop())

	loc := types.NewLocation("Kanpur", "Kanpur Nagar", "Uttar Pradesh")
	var err error
	f.cbb, err = domain.NewOrganization("Kanpur CBB", domain.OrganizationTypeCBB, loc, nil, created)
	require.NoError(t, err)
	f.hospital, err = domain.NewOrganization("Kanpur Hospital", domain.OrganizationTypeHospital, loc, &f.cbb.ID, created)
	require.NoError(t, err)
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Organizations().Create(ctx, f.cbb); err != nil {
			return err
		}
		return tx.Organizations().Create(ctx, f.hospital)
	}))
	return f
}

func (f *fixture) thresholdAlert(t *testing.T, bt types.BloodType) *domain.Alert {
	t.Helper()
	a := domain.NewThresholdAlert(f.cbb, bt, created)
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Alerts().Create(ctx, a)
	}))
	return a
}

func (f *fixture) criticalRequestAlert(t *testing.T) *domain.Alert {
	t.Helper()
	req, err := domain.NewHospitalRequest(f.hospital, f.cbb, types.BloodTypeONeg, 2, domain.UrgencyCritical, created)
	require.NoError(t, err)
	a := domain.NewRequestAlert(f.hospital, req, created)
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.HospitalRequests().Create(ctx, req); err != nil {
			return err
		}
		return tx.Alerts().Create(ctx, a)
	}))
	return a
}

func (f *fixture) level(t *testing.T, id types.ID) domain.EscalationLevel {
	t.Helper()
	var a *domain.Alert
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		a, err = tx.Alerts().Get(ctx, id)
		return err
	}))
	return a.EscalationLevel
}

func TestTickEscalationRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	normal := f.thresholdAlert(t, types.BloodTypeAPos)
	critical := f.criticalRequestAlert(t)

	steps := []struct {
		at           time.Duration
		wantNormal   domain.EscalationLevel
		wantCritical domain.EscalationLevel
		escalated    int
	}{
		{time.Minute, domain.EscalationCity, domain.EscalationDistrict, 1},
		{11*time.Hour + 59*time.Minute, domain.EscalationCity, domain.EscalationDistrict, 0},
		{12 * time.Hour, domain.EscalationDistrict, domain.EscalationDistrict, 1},
		{23 * time.Hour, domain.EscalationDistrict, domain.EscalationDistrict, 0},
		{24 * time.Hour, domain.EscalationState, domain.EscalationState, 2},
		{240 * time.Hour, domain.EscalationState, domain.EscalationState, 0},
	}
	for _, step := range steps {
		res, err := f.scheduler.Tick(ctx, created.Add(step.at))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Checked)
		assert.Equal(t, step.escalated, res.Escalated, "at %s", step.at)
		assert.Equal(t, step.wantNormal, f.level(t, normal.ID), "normal at %s", step.at)
		assert.Equal(t, step.wantCritical, f.level(t, critical.ID), "critical at %s", step.at)
	}

	assert.Equal(t, []domain.EscalationLevel{domain.EscalationDistrict, domain.EscalationState}, f.notified.levels[normal.ID])
	assert.Equal(t, []domain.EscalationLevel{domain.EscalationDistrict, domain.EscalationState}, f.notified.levels[critical.ID])
	assert.Len(t, f.bus.Events(), 4)
}

func TestTickIgnoresResolvedAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.thresholdAlert(t, types.BloodTypeBPos)
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		got, err := tx.Alerts().GetForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		if err := got.Resolve(created.Add(time.Hour)); err != nil {
			return err
		}
		return tx.Alerts().Update(ctx, got)
	}))

	res, err := f.scheduler.Tick(ctx, created.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, domain.EscalationCity, f.level(t, a.ID))
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.thresholdAlert(t, types.BloodTypeABNeg)

	release, ok, err := f.locker.TryLock(ctx, LockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.scheduler.Tick(ctx, created.Add(13*time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, domain.EscalationCity, f.level(t, a.ID))

	require.NoError(t, release(ctx))
	res, err = f.scheduler.Tick(ctx, created.Add(13*time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, domain.EscalationDistrict, f.level(t, a.ID))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.store, f.locker, nil, nil, Config{Schedule: "every now and then", LockTTL: time.Minute}, zap.NewNop())
	assert.Error(t, s.Start(context.Background()))

	ok := NewScheduler(f.store, f.locker, nil, nil, DefaultConfig(), zap.NewNop())
	require.NoError(t, ok.Start(context.Background()))
	assert.Error(t, ok.Start(context.Background()), "second start")
	ok.Stop()
	ok.Stop()
}
