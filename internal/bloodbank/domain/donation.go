package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

// DonationStatus defines the status of a donation request
type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "PENDING"
	DonationStatusApproved  DonationStatus = "APPROVED"
	DonationStatusRejected  DonationStatus = "REJECTED"
	DonationStatusCompleted DonationStatus = "COMPLETED"
)

// ParseDonationStatus parses a donation status name
func ParseDonationStatus(s string) (DonationStatus, error) {
	st := DonationStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case DonationStatusPending, DonationStatusApproved, DonationStatusRejected, DonationStatusCompleted:
		return st, nil
	}
	return "", errors.InvalidArgument("unknown donation status: " + s)
}

// Active reports whether the status blocks a new request by the same donor
func (s DonationStatus) Active() bool {
	return s == DonationStatusPending || s == DonationStatusApproved
}

// DonationRequest is a donor's offer to give blood at a node
type DonationRequest struct {
	ID             types.ID       `json:"id"`
	DonorID        types.ID       `json:"donor_id"`
	NodeID         types.ID       `json:"node_id"`
	DonationDate   time.Time      `json:"donation_date"`
	Status         DonationStatus `json:"status"`
	UnitsCollected int            `json:"units_collected"`
	MedicalRemarks string         `json:"medical_remarks,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewDonationRequest creates a pending request. The donation date defaults to
// today when no preferred date is given.
func NewDonationRequest(donor *User, node *Organization, preferred *time.Time, now time.Time) (*DonationRequest, error) {
	if donor.Role != RoleDonor {
		return nil, errors.BusinessRuleViolation("user is not a registered donor")
	}
	if err := node.RequireType(OrganizationTypeNode); err != nil {
		return nil, err
	}
	date := DateOf(now)
	if preferred != nil {
		if DateOf(*preferred).Before(date) {
			return nil, errors.InvalidArgument("preferred donation date is in the past")
		}
		date = DateOf(*preferred)
	}

	return &DonationRequest{
		ID:           types.NewID(),
		DonorID:      donor.ID,
		NodeID:       node.ID,
		DonationDate: date,
		Status:       DonationStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Decide approves or rejects a pending request on behalf of nodeID
func (d *DonationRequest) Decide(nodeID types.ID, approve bool, remarks string, now time.Time) error {
	if d.NodeID != nodeID {
		return errors.Unauthorized("this request belongs to a different node")
	}
	if d.Status != DonationStatusPending {
		return errors.InvalidStateTransition(fmt.Sprintf("donation request is %s, not PENDING", d.Status))
	}
	if approve {
		d.Status = DonationStatusApproved
	} else {
		d.Status = DonationStatusRejected
	}
	d.MedicalRemarks = strings.TrimSpace(remarks)
	d.UpdatedAt = now
	return nil
}

// Complete records the collection. Only approved requests can complete.
func (d *DonationRequest) Complete(unitsCollected int, now time.Time) error {
	if d.Status != DonationStatusApproved {
		return errors.InvalidStateTransition(fmt.Sprintf("cannot complete: donation request is %s, not APPROVED", d.Status))
	}
	if unitsCollected <= 0 {
		return errors.InvalidArgument("units collected must be greater than zero")
	}
	d.UnitsCollected = unitsCollected
	d.DonationDate = DateOf(now)
	d.Status = DonationStatusCompleted
	d.UpdatedAt = now
	return nil
}
