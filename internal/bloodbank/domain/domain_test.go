package domain

import (
	"testing"
	"time"

	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func mustOrg(t *testing.T, name string, orgType OrganizationType, parent *types.ID) *Organization {
	t.Helper()
	org, err := NewOrganization(name, orgType, types.NewLocation("Pune", "Pune", "Maharashtra"), parent, testNow)
	if err != nil {
		t.Fatalf("Expected no error creating %s, got %v", name, err)
	}
	return org
}

// TestNewOrganizationValidation tests organization creation rules
func TestNewOrganizationValidation(t *testing.T) {
	parent := types.NewID()
	full := types.NewLocation("Pune", "Pune", "Maharashtra")

	tests := []struct {
		name        string
		orgName     string
		orgType     OrganizationType
		loc         types.Location
		parent      *types.ID
		expectError bool
	}{
		{"Valid CBB", "Central Bank", OrganizationTypeCBB, full, nil, false},
		{"Valid node with parent", "Node 1", OrganizationTypeNode, full, &parent, false},
		{"Hospital without parent", "City Hospital", OrganizationTypeHospital, full, nil, false},
		{"Empty name", " ", OrganizationTypeCBB, full, nil, true},
		{"Unknown type", "X", OrganizationType("CLINIC"), full, nil, true},
		{"Missing district", "Bank", OrganizationTypeCBB, types.NewLocation("Pune", "", "MH"), nil, true},
		{"CBB with parent", "Bank", OrganizationTypeCBB, full, &parent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrganization(tt.orgName, tt.orgType, tt.loc, tt.parent, testNow)
			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

// TestValidateParent tests the parent and cycle rules
func TestValidateParent(t *testing.T) {
	cbb := mustOrg(t, "CBB", OrganizationTypeCBB, nil)
	otherCBB := mustOrg(t, "CBB 2", OrganizationTypeCBB, nil)
	node := mustOrg(t, "Node", OrganizationTypeNode, nil)
	hospital := mustOrg(t, "Hospital", OrganizationTypeHospital, nil)

	if err := node.ValidateParent(cbb, nil); err != nil {
		t.Errorf("Expected node under CBB to be valid, got %v", err)
	}
	if err := hospital.ValidateParent(node, nil); err == nil {
		t.Error("Expected non-CBB parent to be rejected")
	}
	if err := cbb.ValidateParent(otherCBB, nil); err == nil {
		t.Error("Expected CBB with parent to be rejected")
	}
	if err := node.ValidateParent(cbb, []types.ID{node.ID}); err == nil {
		t.Error("Expected cycle to be rejected")
	}
	if err := node.ValidateParent(nil, nil); err != nil {
		t.Errorf("Expected nil parent to be valid, got %v", err)
	}
}

// TestIsEligible tests the 90-day cooldown boundary
func TestIsEligible(t *testing.T) {
	day := func(offset int) *time.Time {
		d := testNow.AddDate(0, 0, offset)
		return &d
	}

	tests := []struct {
		name     string
		last     *time.Time
		expected bool
	}{
		{"Never donated", nil, true},
		{"Donated today", day(0), false},
		{"Donated 89 days ago", day(-89), false},
		{"Donated exactly 90 days ago", day(-90), true},
		{"Donated 91 days ago", day(-91), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEligible(tt.last, testNow); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// TestIsEligibleIdempotent tests that repeated evaluation agrees
func TestIsEligibleIdempotent(t *testing.T) {
	last := testNow.AddDate(0, 0, -90)
	first := IsEligible(&last, testNow)
	second := IsEligible(&last, testNow)
	if first != second {
		t.Errorf("Expected identical results, got %v then %v", first, second)
	}

	u := &User{Role: RoleDonor}
	u.RecordDonation(testNow)
	if u.Eligible(testNow) {
		t.Error("Expected donor to be ineligible right after donating")
	}
	if !u.Eligible(testNow.AddDate(0, 0, 90)) {
		t.Error("Expected donor to be eligible 90 days later")
	}
}

// TestInventoryRecord tests add and deduct bounds
func TestInventoryRecord(t *testing.T) {
	rec := NewInventoryRecord(types.NewID(), types.BloodTypeOPos, testNow)

	if err := rec.Add(5, testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := rec.Add(0, testNow); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("Expected invalid argument for zero add, got %v", err)
	}
	if err := rec.Deduct(6, testNow); !errors.Is(err, errors.ErrInsufficientStock) {
		t.Errorf("Expected insufficient stock, got %v", err)
	}
	if rec.Quantity != 5 {
		t.Errorf("Expected quantity unchanged at 5, got %d", rec.Quantity)
	}
	if err := rec.Deduct(5, testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if rec.Quantity != 0 {
		t.Errorf("Expected quantity 0, got %d", rec.Quantity)
	}
	if !rec.Below(10) {
		t.Error("Expected record to be below threshold")
	}
}

// TestAlertEscalationRules tests NextEscalation timing
func TestAlertEscalationRules(t *testing.T) {
	cbb := mustOrg(t, "CBB", OrganizationTypeCBB, nil)

	tests := []struct {
		name      string
		urgency   Urgency
		level     EscalationLevel
		age       time.Duration
		wantLevel EscalationLevel
		wantOK    bool
	}{
		{"Critical escalates immediately", UrgencyCritical, EscalationCity, 0, EscalationDistrict, true},
		{"Normal under 12h stays", UrgencyNormal, EscalationCity, 11*time.Hour + 59*time.Minute, 0, false},
		{"Normal at 12h escalates", UrgencyNormal, EscalationCity, 12 * time.Hour, EscalationDistrict, true},
		{"District under 24h stays", UrgencyNormal, EscalationDistrict, 23 * time.Hour, 0, false},
		{"District at 24h escalates", UrgencyNormal, EscalationDistrict, 24 * time.Hour, EscalationState, true},
		{"Critical at district waits for 24h", UrgencyCritical, EscalationDistrict, time.Hour, 0, false},
		{"State is terminal", UrgencyCritical, EscalationState, 72 * time.Hour, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewThresholdAlert(cbb, types.BloodTypeOPos, testNow.Add(-tt.age))
			a.Urgency = tt.urgency
			a.EscalationLevel = tt.level

			level, ok := a.NextEscalation(testNow)
			if ok != tt.wantOK || level != tt.wantLevel {
				t.Errorf("Expected (%v, %v), got (%v, %v)", tt.wantLevel, tt.wantOK, level, ok)
			}
		})
	}
}

// TestAlertTransitions tests resolve and escalate guards
func TestAlertTransitions(t *testing.T) {
	cbb := mustOrg(t, "CBB", OrganizationTypeCBB, nil)
	a := NewThresholdAlert(cbb, types.BloodTypeANeg, testNow)

	if a.Message != "Low stock alert: A_NEG at CBB Pune" {
		t.Errorf("Unexpected message %q", a.Message)
	}
	if err := a.EscalateTo(EscalationState, testNow); err == nil {
		t.Error("Expected skipping a level to fail")
	}
	if err := a.EscalateTo(EscalationDistrict, testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := a.Resolve(testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := a.Resolve(testNow); !errors.Is(err, errors.ErrInvalidStateTransition) {
		t.Errorf("Expected invalid state transition, got %v", err)
	}
	if _, ok := a.NextEscalation(testNow.Add(48 * time.Hour)); ok {
		t.Error("Expected resolved alert not to escalate")
	}
}

// TestHospitalRequestStateMachine tests request transitions and SLA
func TestHospitalRequestStateMachine(t *testing.T) {
	cbb := mustOrg(t, "CBB", OrganizationTypeCBB, nil)
	hospital := mustOrg(t, "Hospital", OrganizationTypeHospital, &cbb.ID)

	if _, err := NewHospitalRequest(hospital, cbb, types.BloodTypeONeg, 0, UrgencyNormal, testNow); err == nil {
		t.Error("Expected zero units to be rejected")
	}
	if _, err := NewHospitalRequest(cbb, cbb, types.BloodTypeONeg, 1, UrgencyNormal, testNow); err == nil {
		t.Error("Expected non-hospital requester to be rejected")
	}

	req, err := NewHospitalRequest(hospital, cbb, types.BloodTypeONeg, 3, UrgencyCritical, testNow)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if req.Status != RequestStatusPending {
		t.Errorf("Expected PENDING, got %s", req.Status)
	}

	if req.SLABreached(testNow.Add(12*time.Hour + 59*time.Minute)) {
		t.Error("Expected no breach at 12 whole hours")
	}
	if !req.SLABreached(testNow.Add(13 * time.Hour)) {
		t.Error("Expected breach after 13 hours")
	}

	if err := req.TransitionTo(RequestStatusDelivered, testNow); err == nil {
		t.Error("Expected PENDING -> DELIVERED to fail")
	}
	if err := req.TransitionTo(RequestStatusApproved, testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := req.TransitionTo(RequestStatusPending, testNow); err == nil {
		t.Error("Expected backward transition to fail")
	}
	if err := req.TransitionTo(RequestStatusDelivered, testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if req.SLABreached(testNow.Add(48 * time.Hour)) {
		t.Error("Expected delivered request never to breach")
	}

	rejected, _ := NewHospitalRequest(hospital, cbb, types.BloodTypeONeg, 1, UrgencyNormal, testNow)
	_ = rejected.TransitionTo(RequestStatusRejected, testNow)
	if rejected.SLABreached(testNow.Add(48 * time.Hour)) {
		t.Error("Expected rejected request never to breach")
	}
}

// TestTransferLifecycle tests transfer creation and delivery
func TestTransferLifecycle(t *testing.T) {
	cbb := mustOrg(t, "CBB", OrganizationTypeCBB, nil)
	other := mustOrg(t, "CBB 2", OrganizationTypeCBB, nil)

	if _, err := NewTransfer(cbb, other, types.BloodTypeBPos, 0, "", testNow); err == nil {
		t.Error("Expected zero quantity to be rejected")
	}
	if _, err := NewTransfer(cbb, cbb, types.BloodTypeBPos, 1, "", testNow); err == nil {
		t.Error("Expected self transfer to be rejected")
	}

	tr, err := NewTransfer(cbb, other, types.BloodTypeBPos, 4, "", testNow)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if tr.TransferType != TransferTypeInterBankAllocation {
		t.Errorf("Expected default transfer type, got %s", tr.TransferType)
	}
	if !tr.Involves(cbb.ID) || !tr.Involves(other.ID) {
		t.Error("Expected transfer to involve both organizations")
	}
	if err := tr.Deliver(testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := tr.Deliver(testNow); !errors.Is(err, errors.ErrInvalidStateTransition) {
		t.Errorf("Expected invalid state transition on second delivery, got %v", err)
	}
}

// TestDonationRequestLifecycle tests the donation state machine
func TestDonationRequestLifecycle(t *testing.T) {
	cbb := mustOrg(t, "CBB", OrganizationTypeCBB, nil)
	node := mustOrg(t, "Node", OrganizationTypeNode, &cbb.ID)
	donor := &User{ID: types.NewID(), Role: RoleDonor}

	past := testNow.AddDate(0, 0, -1)
	if _, err := NewDonationRequest(donor, node, &past, testNow); err == nil {
		t.Error("Expected past preferred date to be rejected")
	}
	if _, err := NewDonationRequest(donor, cbb, nil, testNow); err == nil {
		t.Error("Expected non-node organization to be rejected")
	}
	if _, err := NewDonationRequest(&User{Role: RoleNodeStaff}, node, nil, testNow); !errors.Is(err, errors.ErrBusinessRule) {
		t.Errorf("Expected business rule violation for non-donor, got %v", err)
	}

	d, err := NewDonationRequest(donor, node, nil, testNow)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !d.DonationDate.Equal(DateOf(testNow)) {
		t.Errorf("Expected donation date today, got %s", d.DonationDate)
	}

	if err := d.Complete(1, testNow); !errors.Is(err, errors.ErrInvalidStateTransition) {
		t.Errorf("Expected completing a pending request to fail, got %v", err)
	}
	if err := d.Decide(types.NewID(), true, "", testNow); !errors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("Expected unauthorized for foreign node, got %v", err)
	}
	if err := d.Decide(node.ID, true, "ok", testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := d.Decide(node.ID, false, "again", testNow); !errors.Is(err, errors.ErrInvalidStateTransition) {
		t.Errorf("Expected second decision to fail, got %v", err)
	}
	if err := d.Complete(1, testNow); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if d.Status != DonationStatusCompleted || d.UnitsCollected != 1 {
		t.Errorf("Expected COMPLETED with 1 unit, got %s with %d", d.Status, d.UnitsCollected)
	}
}
