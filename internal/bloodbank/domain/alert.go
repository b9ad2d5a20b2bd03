package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

// Urgency defines how fast an alert escalates
type Urgency string

const (
	UrgencyNormal   Urgency = "NORMAL"
	UrgencyCritical Urgency = "CRITICAL"
)

// ParseUrgency parses an urgency name. Empty input means NORMAL.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToUpper(strings.TrimSpace(s)))
	switch u {
	case "":
		return UrgencyNormal, nil
	case UrgencyNormal, UrgencyCritical:
		return u, nil
	}
	return "", errors.InvalidArgument("unknown urgency: " + s)
}

// EscalationLevel is the geographic reach of an alert
type EscalationLevel int

const (
	EscalationCity     EscalationLevel = 0
	EscalationDistrict EscalationLevel = 1
	EscalationState    EscalationLevel = 2
)

func (l EscalationLevel) String() string {
	switch l {
	case EscalationCity:
		return "CITY"
	case EscalationDistrict:
		return "DISTRICT"
	case EscalationState:
		return "STATE"
	}
	return fmt.Sprintf("LEVEL_%d", int(l))
}

// Alert is a shortage signal. Threshold alerts are raised by a CBB's ledger;
// request alerts are raised by a hospital and link back to the request.
type Alert struct {
	ID                types.ID        `json:"id"`
	RaisingOrgID      types.ID        `json:"raising_organization_id"`
	BloodType         types.BloodType `json:"blood_type"`
	Urgency           Urgency         `json:"urgency"`
	TargetDistrict    string          `json:"target_district"`
	Message           string          `json:"message"`
	Resolved          bool            `json:"resolved"`
	EscalationLevel   EscalationLevel `json:"escalation_level"`
	HospitalRequestID *types.ID       `json:"hospital_request_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	LastEscalatedAt   *time.Time      `json:"last_escalated_at,omitempty"`
}

// NewThresholdAlert creates the alert raised when a CBB runs low
func NewThresholdAlert(cbb *Organization, bt types.BloodType, now time.Time) *Alert {
	return &Alert{
		ID:              types.NewID(),
		RaisingOrgID:    cbb.ID,
		BloodType:       bt,
		Urgency:         UrgencyNormal,
		TargetDistrict:  cbb.Location.District,
		Message:         fmt.Sprintf("Low stock alert: %s at CBB %s", bt, cbb.Location.City),
		EscalationLevel: EscalationCity,
		CreatedAt:       now,
	}
}

// NewRequestAlert creates the alert that tracks a hospital request
func NewRequestAlert(hospital *Organization, req *HospitalRequest, now time.Time) *Alert {
	reqID := req.ID
	return &Alert{
		ID:             types.NewID(),
		RaisingOrgID:   hospital.ID,
		BloodType:      req.BloodType,
		Urgency:        req.Urgency,
		TargetDistrict: hospital.Location.District,
		Message: fmt.Sprintf("Blood request: %d unit(s) of %s needed at %s, %s",
			req.UnitsNeeded, req.BloodType, hospital.Name, hospital.Location.City),
		EscalationLevel:   EscalationCity,
		HospitalRequestID: &reqID,
		CreatedAt:         now,
	}
}

// Resolve closes the alert. Resolving twice is an error.
func (a *Alert) Resolve(now time.Time) error {
	if a.Resolved {
		return errors.InvalidStateTransition("alert is already resolved")
	}
	a.Resolved = true
	a.ResolvedAt = &now
	return nil
}

// EscalateTo raises the escalation level. Levels only move up, one step at a
// time, and only while the alert is open.
func (a *Alert) EscalateTo(level EscalationLevel, now time.Time) error {
	if a.Resolved {
		return errors.InvalidStateTransition("cannot escalate a resolved alert")
	}
	if level != a.EscalationLevel+1 || level > EscalationState {
		return errors.InvalidStateTransition(
			fmt.Sprintf("cannot escalate alert from %s to %s", a.EscalationLevel, level))
	}
	a.EscalationLevel = level
	a.LastEscalatedAt = &now
	return nil
}

// NextEscalation decides whether an open alert should escalate at now, and
// to which level.
func (a *Alert) NextEscalation(now time.Time) (EscalationLevel, bool) {
	if a.Resolved {
		return 0, false
	}
	elapsed := now.Sub(a.CreatedAt)

	switch a.EscalationLevel {
	case EscalationCity:
		if a.Urgency == UrgencyCritical || elapsed >= 12*time.Hour {
			return EscalationDistrict, true
		}
	case EscalationDistrict:
		if elapsed >= 24*time.Hour {
			return EscalationState, true
		}
	}
	return 0, false
}

// IsRequestAlert reports whether the alert tracks a hospital request
func (a *Alert) IsRequestAlert() bool {
	return a.HospitalRequestID != nil
}
