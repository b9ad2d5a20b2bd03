package domain

import (
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

// OrganizationType defines the role an organization plays in the network
type OrganizationType string

const (
	OrganizationTypeCBB      OrganizationType = "CBB"
	OrganizationTypeNode     OrganizationType = "NODE"
	OrganizationTypeHospital OrganizationType = "HOSPITAL"
)

// ParseOrganizationType parses a type name, case-insensitively
func ParseOrganizationType(s string) (OrganizationType, error) {
	t := OrganizationType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case OrganizationTypeCBB, OrganizationTypeNode, OrganizationTypeHospital:
		return t, nil
	}
	return "", errors.InvalidArgument("unknown organization type: " + s)
}

// Organization is a CBB, collection node or hospital. Nodes and hospitals
// hang off a parent CBB; parents are referenced by ID only.
type Organization struct {
	ID       types.ID          `json:"id"`
	Name     string            `json:"name"`
	Type     OrganizationType  `json:"type"`
	ParentID *types.ID         `json:"parent_id,omitempty"`
	Location types.Location    `json:"location"`
	Contact  types.ContactInfo `json:"contact"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrganization validates and creates an organization. The parent, if
// any, is checked separately with ValidateParent because it needs a lookup.
func NewOrganization(name string, orgType OrganizationType, loc types.Location, parentID *types.ID, now time.Time) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Validation("validation failed", map[string]string{"name": "name is required"})
	}
	if _, err := ParseOrganizationType(string(orgType)); err != nil {
		return nil, err
	}
	if !loc.Complete() {
		return nil, errors.Validation("validation failed", map[string]string{
			"location": "city, district and state are required",
		})
	}
	if orgType == OrganizationTypeCBB && parentID != nil {
		return nil, errors.InvalidArgument("a CBB cannot have a parent organization")
	}

	return &Organization{
		ID:        types.NewID(),
		Name:      name,
		Type:      orgType,
		ParentID:  parentID,
		Location:  loc,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsCBB reports whether the organization holds inventory
func (o *Organization) IsCBB() bool {
	return o.Type == OrganizationTypeCBB
}

// RequireType fails with InvalidArgument unless the organization has type t.
func (o *Organization) RequireType(t OrganizationType) error {
	if o.Type != t {
		return errors.InvalidArgument(string(t) + " organization required, got " + string(o.Type) + " (" + o.Name + ")")
	}
	return nil
}

// ValidateParent checks the parent rule for o against the proposed parent.
// ancestors is the chain of parent IDs above the proposed parent and is used
// to reject cycles.
func (o *Organization) ValidateParent(parent *Organization, ancestors []types.ID) error {
	if parent == nil {
		return nil
	}
	if o.IsCBB() {
		return errors.InvalidArgument("a CBB cannot have a parent organization")
	}
	if !parent.IsCBB() {
		return errors.InvalidArgument("parent organization must be a CBB")
	}
	if parent.ID == o.ID {
		return errors.InvalidArgument("an organization cannot be its own parent")
	}
	for _, id := range ancestors {
		if id == o.ID {
			return errors.InvalidArgument("parent assignment would create a cycle")
		}
	}
	return nil
}

// ReassignParent points the organization at a new parent
func (o *Organization) ReassignParent(parentID *types.ID, now time.Time) {
	o.ParentID = parentID
	o.UpdatedAt = now
}
