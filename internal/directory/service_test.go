package directory

import (
	"context"
	"testing"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/bloodbank/infrastructure"
	"github.com/bloodnet/platform/internal/notification"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ notification.Directory = (*Service)(nil)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	svc := NewService(infrastructure.NewMemoryStore(), rec, zap.NewNop())
	svc.SetClock(func() time.Time { return now })
	return svc, rec
}

func registerOrg(t *testing.T, svc *Service, name, orgType, city string, parent *types.ID) *domain.Organization {
	t.Helper()
	org, err := svc.RegisterOrganization(context.Background(), RegisterOrganizationInput{
		Name:     name,
		Type:     orgType,
		City:     city,
		District: city + " District",
		State:    "Karnataka",
		ParentID: parent,
	})
	require.NoError(t, err)
	return org
}

func TestRegisterOrganization(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()
	cbb := registerOrg(t, svc, "Central Bank", "cbb", "Mysuru", nil)

	tests := []struct {
		name    string
		input   RegisterOrganizationInput
		wantErr error
	}{
		{
			name:  "node under CBB",
			input: RegisterOrganizationInput{Name: "Node A", Type: "NODE", City: "Mysuru", District: "Mysuru District", State: "Karnataka", ParentID: &cbb.ID},
		},
		{
			name:    "CBB with a parent",
			input:   RegisterOrganizationInput{Name: "Bank B", Type: "CBB", City: "Mysuru", District: "Mysuru District", State: "Karnataka", ParentID: &cbb.ID},
			wantErr: errors.ErrInvalidArgument,
		},
		{
			name:    "missing district",
			input:   RegisterOrganizationInput{Name: "Hospital C", Type: "HOSPITAL", City: "Mysuru", State: "Karnataka"},
			wantErr: errors.ErrInvalidArgument,
		},
		{
			name:    "unknown type",
			input:   RegisterOrganizationInput{Name: "Lab", Type: "LAB", City: "Mysuru", District: "Mysuru District", State: "Karnataka"},
			wantErr: errors.ErrInvalidArgument,
		},
		{
			name:    "unknown parent",
			input:   RegisterOrganizationInput{Name: "Node D", Type: "NODE", City: "Mysuru", District: "Mysuru District", State: "Karnataka", ParentID: types.NewID().Ptr()},
			wantErr: errors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org, err := svc.RegisterOrganization(ctx, tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, now, org.CreatedAt)
		})
	}

	assert.Equal(t, []string{domain.EventOrganizationRegistered, domain.EventOrganizationRegistered}, rec.Types())
}

func TestReassignParent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cbb1 := registerOrg(t, svc, "Bank One", "CBB", "Hubli", nil)
	cbb2 := registerOrg(t, svc, "Bank Two", "CBB", "Dharwad", nil)
	node := registerOrg(t, svc, "Node", "NODE", "Hubli", &cbb1.ID)
	hospital := registerOrg(t, svc, "Hospital", "HOSPITAL", "Hubli", &cbb1.ID)

	org, err := svc.ReassignParent(ctx, node.ID, &cbb2.ID)
	require.NoError(t, err)
	assert.Equal(t, cbb2.ID, *org.ParentID)

	_, err = svc.ReassignParent(ctx, node.ID, &hospital.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument, "parent must be a CBB")

	_, err = svc.ReassignParent(ctx, cbb1.ID, &cbb2.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument, "a CBB cannot have a parent")

	org, err = svc.ReassignParent(ctx, node.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, org.ParentID)
}

func TestFindCBBs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a := registerOrg(t, svc, "Bank A", "CBB", "Nagpur", nil)
	registerOrg(t, svc, "Bank B", "CBB", "Pune", nil)
	registerOrg(t, svc, "Node", "NODE", "Nagpur", &a.ID)

	got, err := svc.FindCBBsByCity(ctx, "NAGPUR")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	got, err = svc.FindCBBsByState(ctx, "karnataka")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.FindCBBsByDistrict(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	nodes, err := svc.FindOrganizationsByType(ctx, domain.OrganizationTypeNode)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestRegisterUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cbb := registerOrg(t, svc, "Bank", "CBB", "Surat", nil)
	node := registerOrg(t, svc, "Node", "NODE", "Surat", &cbb.ID)

	tests := []struct {
		name    string
		input   RegisterUserInput
		wantErr error
	}{
		{name: "CBB staff", input: RegisterUserInput{Email: "staff@bank.example", Role: "CBB_STAFF", OrganizationID: &cbb.ID}},
		{name: "donor", input: RegisterUserInput{Email: "donor@example.com", Role: "donor", BloodType: "O-", City: "Surat"}},
		{name: "duplicate email", input: RegisterUserInput{Email: "STAFF@bank.example", Role: "CBB_STAFF", OrganizationID: &cbb.ID}, wantErr: errors.ErrConflict},
		{name: "role does not match organization", input: RegisterUserInput{Email: "x@bank.example", Role: "NODE_STAFF", OrganizationID: &cbb.ID}, wantErr: errors.ErrInvalidArgument},
		{name: "staff without organization", input: RegisterUserInput{Email: "y@bank.example", Role: "HOSPITAL_STAFF"}, wantErr: errors.ErrInvalidArgument},
		{name: "bad blood type", input: RegisterUserInput{Email: "z@example.com", Role: "DONOR", BloodType: "C+"}, wantErr: errors.ErrInvalidArgument},
		{name: "node staff", input: RegisterUserInput{Email: "node@bank.example", Role: "NODE_STAFF", OrganizationID: &node.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := svc.RegisterUser(ctx, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, u.ID)
		})
	}

	staff, err := svc.FindStaffUserByOrganization(ctx, cbb.ID)
	require.NoError(t, err)
	require.NotNil(t, staff)
	assert.Equal(t, "staff@bank.example", staff.Email)

	nodeStaff, err := svc.FindNodeStaffByCity(ctx, "surat")
	require.NoError(t, err)
	require.Len(t, nodeStaff, 1)
	assert.Equal(t, "node@bank.example", nodeStaff[0].Email)

	none, err := svc.FindStaffUserByOrganization(ctx, types.NewID())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDonorEligibility(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	recent := now.AddDate(0, 0, -30)
	longAgo := now.AddDate(0, 0, -90)
	fresh, err := svc.RegisterUser(ctx, RegisterUserInput{Email: "fresh@example.com", Role: "DONOR", City: "Indore"})
	require.NoError(t, err)
	_, err = svc.RegisterUser(ctx, RegisterUserInput{Email: "recent@example.com", Role: "DONOR", City: "Indore", LastDonationDate: &recent})
	require.NoError(t, err)
	_, err = svc.RegisterUser(ctx, RegisterUserInput{Email: "old@example.com", Role: "DONOR", City: "indore", LastDonationDate: &longAgo})
	require.NoError(t, err)
	_, err = svc.RegisterUser(ctx, RegisterUserInput{Email: "elsewhere@example.com", Role: "DONOR", City: "Bhopal"})
	require.NoError(t, err)

	donors, err := svc.FindEligibleDonorsByCity(ctx, "Indore")
	require.NoError(t, err)
	var emails []string
	for _, d := range donors {
		emails = append(emails, d.Email)
	}
	assert.ElementsMatch(t, []string{"fresh@example.com", "old@example.com"}, emails)

	profile, err := svc.GetDonorProfile(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, profile.Eligible)
	assert.Nil(t, profile.NextEligibleDate)
}

func TestGetDonorProfileCooldown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	last := now.AddDate(0, 0, -10)
	donor, err := svc.RegisterUser(ctx, RegisterUserInput{Email: "d@example.com", Role: "DONOR", LastDonationDate: &last})
	require.NoError(t, err)

	profile, err := svc.GetDonorProfile(ctx, donor.ID)
	require.NoError(t, err)
	assert.False(t, profile.Eligible)
	require.NotNil(t, profile.NextEligibleDate)
	assert.Equal(t, domain.DateOf(now.AddDate(0, 0, 80)), *profile.NextEligibleDate)

	cbb := registerOrg(t, svc, "Bank", "CBB", "Agra", nil)
	staff, err := svc.RegisterUser(ctx, RegisterUserInput{Email: "s@example.com", Role: "CBB_STAFF", OrganizationID: &cbb.ID})
	require.NoError(t, err)
	_, err = svc.GetDonorProfile(ctx, staff.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestResolveCollectionCBB(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers same city", func(t *testing.T) {
		store := infrastructure.NewMemoryStore()
		svc := NewService(store, nil, zap.NewNop())
		far := registerOrg(t, svc, "Far Bank", "CBB", "Delhi", nil)
		local := registerOrg(t, svc, "Local Bank", "CBB", "Kochi", nil)
		node := registerOrg(t, svc, "Node", "NODE", "kochi", &far.ID)

		err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			got, err := ResolveCollectionCBB(ctx, tx, node)
			require.NoError(t, err)
			assert.Equal(t, local.ID, got.ID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("falls back to oldest CBB", func(t *testing.T) {
		store := infrastructure.NewMemoryStore()
		svc := NewService(store, nil, zap.NewNop())
		first := registerOrg(t, svc, "First", "CBB", "Delhi", nil)
		registerOrg(t, svc, "Second", "CBB", "Chennai", nil)
		node := registerOrg(t, svc, "Node", "NODE", "Kochi", &first.ID)

		err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			got, err := ResolveCollectionCBB(ctx, tx, node)
			require.NoError(t, err)
			assert.Equal(t, first.ID, got.ID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("no CBB at all", func(t *testing.T) {
		store := infrastructure.NewMemoryStore()
		node, err := domain.NewOrganization("Node", domain.OrganizationTypeNode, types.NewLocation("Kochi", "Ernakulam", "Kerala"), nil, now)
		require.NoError(t, err)

		err = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			_, err := ResolveCollectionCBB(ctx, tx, node)
			return err
		})
		assert.ErrorIs(t, err, errors.ErrBusinessRule)
	})
}
