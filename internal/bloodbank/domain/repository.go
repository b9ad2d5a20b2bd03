package domain

import (
	"context"

	"github.com/bloodnet/platform/internal/shared/types"
)

// Store runs units of work against the shared relational state.
type Store interface {
	// WithinTx runs fn in a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise; AfterCommit hooks registered
	// on tx run only after a successful commit.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Organizations() OrganizationRepository
	Users() UserRepository
	Inventory() InventoryRepository
	Alerts() AlertRepository
	Transfers() TransferRepository
	HospitalRequests() HospitalRequestRepository
	Donations() DonationRepository

	// AfterCommit queues fn to run once the transaction has committed.
	AfterCommit(fn func(ctx context.Context))
}

// OrganizationFilter narrows organization lookups. String fields match
// case-insensitively; zero values are ignored.
type OrganizationFilter struct {
	Type     *OrganizationType
	City     string
	District string
	State    string
	ParentID *types.ID
}

// OrganizationRepository persists organizations
type OrganizationRepository interface {
	Create(ctx context.Context, org *Organization) error
	Get(ctx context.Context, id types.ID) (*Organization, error)
	Update(ctx context.Context, org *Organization) error
	// List returns matches ordered by creation time, oldest first.
	List(ctx context.Context, filter OrganizationFilter) ([]Organization, error)
}

// UserFilter narrows user lookups. City matches the user's own city;
// OrganizationCity matches the city of the user's organization.
type UserFilter struct {
	Role             *Role
	OrganizationID   *types.ID
	City             string
	OrganizationCity string
}

// UserRepository persists users
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id types.ID) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, filter UserFilter) ([]User, error)
}

// InventoryRepository persists stock counters
type InventoryRepository interface {
	// GetForUpdate returns the record for (orgID, bt), creating it with
	// quantity zero when absent, and holds it locked for the rest of the
	// transaction.
	GetForUpdate(ctx context.Context, orgID types.ID, bt types.BloodType) (*InventoryRecord, error)
	Save(ctx context.Context, rec *InventoryRecord) error
	ListByOrganization(ctx context.Context, orgID types.ID) ([]InventoryRecord, error)
}

// AlertFilter narrows alert listings
type AlertFilter struct {
	Resolved *bool
	City     string
}

// AlertRepository persists alerts
type AlertRepository interface {
	// Create fails with a Conflict error when an unresolved alert already
	// exists for the same raising organization and blood type.
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id types.ID) (*Alert, error)
	GetForUpdate(ctx context.Context, id types.ID) (*Alert, error)
	FindUnresolved(ctx context.Context, orgID types.ID, bt types.BloodType) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	// List returns matches newest first.
	List(ctx context.Context, filter AlertFilter) ([]Alert, error)
}

// TransferRepository persists transfers
type TransferRepository interface {
	Create(ctx context.Context, t *Transfer) error
	GetForUpdate(ctx context.Context, id types.ID) (*Transfer, error)
	Update(ctx context.Context, t *Transfer) error
	// ListForOrganization returns transfers sent or received by orgID,
	// newest first.
	ListForOrganization(ctx context.Context, orgID types.ID) ([]Transfer, error)
}

// HospitalRequestRepository persists hospital requests
type HospitalRequestRepository interface {
	Create(ctx context.Context, r *HospitalRequest) error
	Get(ctx context.Context, id types.ID) (*HospitalRequest, error)
	Update(ctx context.Context, r *HospitalRequest) error
	ListByHospital(ctx context.Context, hospitalID types.ID, status *RequestStatus) ([]HospitalRequest, error)
}

// DonationRepository persists donation requests
type DonationRepository interface {
	Create(ctx context.Context, d *DonationRequest) error
	GetForUpdate(ctx context.Context, id types.ID) (*DonationRequest, error)
	Update(ctx context.Context, d *DonationRequest) error
	ListByDonor(ctx context.Context, donorID types.ID) ([]DonationRequest, error)
	ListByNode(ctx context.Context, nodeID types.ID, status *DonationStatus) ([]DonationRequest, error)
	HasActive(ctx context.Context, donorID types.ID) (bool, error)
}
