package domain

import (
	"time"

	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

// InventoryRecord is the stock counter for one blood type at one CBB
type InventoryRecord struct {
	OrganizationID types.ID        `json:"organization_id"`
	BloodType      types.BloodType `json:"blood_type"`
	Quantity       int             `json:"quantity"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// NewInventoryRecord creates an empty record
func NewInventoryRecord(orgID types.ID, bt types.BloodType, now time.Time) *InventoryRecord {
	return &InventoryRecord{
		OrganizationID: orgID,
		BloodType:      bt,
		Quantity:       0,
		LastUpdated:    now,
	}
}

// Add increments the stock
func (r *InventoryRecord) Add(qty int, now time.Time) error {
	if qty <= 0 {
		return errors.InvalidArgument("quantity to add must be greater than zero")
	}
	r.Quantity += qty
	r.LastUpdated = now
	return nil
}

// Deduct decrements the stock. Deducting more than is available fails and
// leaves the record untouched.
func (r *InventoryRecord) Deduct(qty int, now time.Time) error {
	if qty <= 0 {
		return errors.InvalidArgument("quantity to deduct must be greater than zero")
	}
	if qty > r.Quantity {
		return errors.InsufficientStock(r.BloodType.String(), r.Quantity, qty)
	}
	r.Quantity -= qty
	r.LastUpdated = now
	return nil
}

// Below reports whether stock has dropped under threshold
func (r *InventoryRecord) Below(threshold int) bool {
	return r.Quantity < threshold
}
