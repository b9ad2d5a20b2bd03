package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

// RequestStatus defines the status of a hospital request
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusDelivered RequestStatus = "DELIVERED"
)

// ParseRequestStatus parses a request status name
func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected, RequestStatusDelivered:
		return st, nil
	}
	return "", errors.InvalidArgument("unknown request status: " + s)
}

// SLAHours is the fulfillment expectation for hospital requests
const SLAHours = 12

// validRequestTransitions defines allowed status transitions
var validRequestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:  {RequestStatusApproved, RequestStatusRejected},
	RequestStatusApproved: {RequestStatusDelivered},
}

// HospitalRequest is a hospital's ask for blood from its CBB
type HospitalRequest struct {
	ID          types.ID        `json:"id"`
	HospitalID  types.ID        `json:"hospital_id"`
	CBBID       types.ID        `json:"cbb_id"`
	BloodType   types.BloodType `json:"blood_type"`
	UnitsNeeded int             `json:"units_needed"`
	Urgency     Urgency         `json:"urgency"`
	Status      RequestStatus   `json:"status"`
	RequestDate time.Time       `json:"request_date"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewHospitalRequest validates and creates a pending request
func NewHospitalRequest(hospital, cbb *Organization, bt types.BloodType, units int, urgency Urgency, now time.Time) (*HospitalRequest, error) {
	if err := hospital.RequireType(OrganizationTypeHospital); err != nil {
		return nil, err
	}
	if err := cbb.RequireType(OrganizationTypeCBB); err != nil {
		return nil, err
	}
	if units <= 0 {
		return nil, errors.InvalidArgument("units needed must be greater than zero")
	}
	if !bt.Valid() {
		return nil, errors.InvalidArgument("unknown blood type: " + bt.String())
	}
	if urgency == "" {
		urgency = UrgencyNormal
	}

	return &HospitalRequest{
		ID:          types.NewID(),
		HospitalID:  hospital.ID,
		CBBID:       cbb.ID,
		BloodType:   bt,
		UnitsNeeded: units,
		Urgency:     urgency,
		Status:      RequestStatusPending,
		RequestDate: now,
		UpdatedAt:   now,
	}, nil
}

// TransitionTo moves the request forward along the state machine
func (r *HospitalRequest) TransitionTo(next RequestStatus, now time.Time) error {
	for _, allowed := range validRequestTransitions[r.Status] {
		if allowed == next {
			r.Status = next
			r.UpdatedAt = now
			return nil
		}
	}
	return errors.InvalidStateTransition(fmt.Sprintf("cannot move hospital request from %s to %s", r.Status, next))
}

// HoursElapsed is the number of whole hours since the request was made
func (r *HospitalRequest) HoursElapsed(now time.Time) int64 {
	return int64(now.Sub(r.RequestDate) / time.Hour)
}

// SLABreached reports whether an open request has waited longer than the SLA
func (r *HospitalRequest) SLABreached(now time.Time) bool {
	if r.Status == RequestStatusDelivered || r.Status == RequestStatusRejected {
		return false
	}
	return r.HoursElapsed(now) > SLAHours
}
