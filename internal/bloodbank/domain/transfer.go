package domain

import (
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

// TransferStatus defines the status of a blood transfer
type TransferStatus string

const (
	TransferStatusDispatched TransferStatus = "DISPATCHED"
	TransferStatusDelivered  TransferStatus = "DELIVERED"
)

// Transfer types recorded by the workflows themselves
const (
	TransferTypeDonationCollection  = "DONATION_COLLECTION"
	TransferTypeRequestFulfillment  = "HOSPITAL_REQUEST_FULFILLMENT"
	TransferTypeInterBankAllocation = "INTER_BANK_ALLOCATION"
)

// Transfer is a physical movement of blood between two organizations.
//
// CreditedOnDispatch is set when the receiver's stock was already credited at
// dispatch time (non-CBB senders); Receive then only closes the transfer.
type Transfer struct {
	ID                 types.ID        `json:"id"`
	FromOrgID          types.ID        `json:"from_organization_id"`
	ToOrgID            types.ID        `json:"to_organization_id"`
	BloodType          types.BloodType `json:"blood_type"`
	Quantity           int             `json:"quantity"`
	Status             TransferStatus  `json:"status"`
	TransferType       string          `json:"transfer_type"`
	CreditedOnDispatch bool            `json:"credited_on_dispatch"`
	HospitalRequestID  *types.ID       `json:"hospital_request_id,omitempty"`
	TransferDate       time.Time       `json:"transfer_date"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
}

// NewTransfer creates a dispatched transfer
func NewTransfer(from, to *Organization, bt types.BloodType, qty int, transferType string, now time.Time) (*Transfer, error) {
	if qty <= 0 {
		return nil, errors.InvalidArgument("transfer quantity must be greater than zero")
	}
	if !bt.Valid() {
		return nil, errors.InvalidArgument("unknown blood type: " + bt.String())
	}
	if from.ID == to.ID {
		return nil, errors.InvalidArgument("cannot transfer blood to the same organization")
	}
	transferType = strings.TrimSpace(transferType)
	if transferType == "" {
		transferType = TransferTypeInterBankAllocation
	}

	return &Transfer{
		ID:           types.NewID(),
		FromOrgID:    from.ID,
		ToOrgID:      to.ID,
		BloodType:    bt,
		Quantity:     qty,
		Status:       TransferStatusDispatched,
		TransferType: transferType,
		TransferDate: now,
	}, nil
}

// Deliver closes the transfer. Only dispatched transfers can be delivered.
func (t *Transfer) Deliver(now time.Time) error {
	if t.Status != TransferStatusDispatched {
		return errors.InvalidStateTransition("only dispatched transfers can be delivered")
	}
	t.Status = TransferStatusDelivered
	t.DeliveredAt = &now
	return nil
}

// Involves reports whether org is the sender or the receiver
func (t *Transfer) Involves(orgID types.ID) bool {
	return t.FromOrgID == orgID || t.ToOrgID == orgID
}
