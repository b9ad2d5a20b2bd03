// Package directory is the registry of blood banks, collection nodes,
// hospitals and their users.
package directory

import (
	"context"
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/types"
	"go.uber.org/zap"
)

// Service provides organization and user lookups and registration
type Service struct {
	store  domain.Store
	bus    events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a directory service
func NewService(store domain.Store, bus events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger.Named("directory"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RegisterOrganizationInput describes a new organization
type RegisterOrganizationInput struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Street       string    `json:"street"`
	City         string    `json:"city"`
	District     string    `json:"district"`
	State        string    `json:"state"`
	ContactEmail string    `json:"contact_email"`
	ContactPhone string    `json:"contact_phone"`
	ParentID     *types.ID `json:"parent_id"`
}

// RegisterOrganization validates and stores a new organization
func (s *Service) RegisterOrganization(ctx context.Context, in RegisterOrganizationInput) (*domain.Organization, error) {
	orgType, err := domain.ParseOrganizationType(in.Type)
	if err != nil {
		return nil, err
	}
	loc := types.NewLocation(in.City, in.District, in.State).WithStreet(in.Street)

	org, err := domain.NewOrganization(in.Name, orgType, loc, in.ParentID, s.now())
	if err != nil {
		return nil, err
	}
	org.Contact = types.ContactInfo{
		Email: strings.TrimSpace(in.ContactEmail),
		Phone: strings.TrimSpace(in.ContactPhone),
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if org.ParentID != nil {
			if err := validateParent(ctx, tx, org, *org.ParentID); err != nil {
				return err
			}
		}
		if err := tx.Organizations().Create(ctx, org); err != nil {
			return err
		}
		tx.AfterCommit(func(ctx context.Context) {
			events.Emit(ctx, s.bus, s.logger, events.NewEvent(domain.EventOrganizationRegistered, "directory", org).ForOrganization(org.ID))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("organization registered",
		zap.String("id", org.ID.String()),
		zap.String("type", string(org.Type)),
		zap.String("city", org.Location.City),
	)
	return org, nil
}

// ReassignParent points orgID at a new parent CBB, or detaches it when
// parentID is nil.
func (s *Service) ReassignParent(ctx context.Context, orgID types.ID, parentID *types.ID) (*domain.Organization, error) {
	var org *domain.Organization
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		org, err = tx.Organizations().Get(ctx, orgID)
		if err != nil {
			return err
		}
		if parentID != nil {
			if err := validateParent(ctx, tx, org, *parentID); err != nil {
				return err
			}
		}
		org.ReassignParent(parentID, s.now())
		return tx.Organizations().Update(ctx, org)
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// validateParent loads the proposed parent and its ancestor chain and
// applies the parent rule.
func validateParent(ctx context.Context, tx domain.Tx, org *domain.Organization, parentID types.ID) error {
	parent, err := tx.Organizations().Get(ctx, parentID)
	if err != nil {
		return err
	}

	var ancestors []types.ID
	seen := map[types.ID]bool{parent.ID: true}
	for next := parent.ParentID; next != nil; {
		if seen[*next] {
			return errors.InvalidArgument("organization hierarchy already contains a cycle")
		}
		seen[*next] = true
		ancestors = append(ancestors, *next)

		up, err := tx.Organizations().Get(ctx, *next)
		if err != nil {
			return err
		}
		next = up.ParentID
	}

	return org.ValidateParent(parent, ancestors)
}

// FindOrganizationByID returns one organization
func (s *Service) FindOrganizationByID(ctx context.Context, id types.ID) (*domain.Organization, error) {
	var org *domain.Organization
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		org, err = tx.Organizations().Get(ctx, id)
		return err
	})
	return org, err
}

// ListOrganizations returns organizations matching filter, oldest first
func (s *Service) ListOrganizations(ctx context.Context, filter domain.OrganizationFilter) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		orgs, err = tx.Organizations().List(ctx, filter)
		return err
	})
	return orgs, err
}

// FindOrganizationsByType returns every organization of type t
func (s *Service) FindOrganizationsByType(ctx context.Context, t domain.OrganizationType) ([]domain.Organization, error) {
	return s.ListOrganizations(ctx, domain.OrganizationFilter{Type: &t})
}

// FindCBBsByCity returns the CBBs located in city
func (s *Service) FindCBBsByCity(ctx context.Context, city string) ([]domain.Organization, error) {
	return s.findCBBs(ctx, domain.OrganizationFilter{City: city}, city)
}

// FindCBBsByDistrict returns the CBBs located in district
func (s *Service) FindCBBsByDistrict(ctx context.Context, district string) ([]domain.Organization, error) {
	return s.findCBBs(ctx, domain.OrganizationFilter{District: district}, district)
}

// FindCBBsByState returns the CBBs located in state
func (s *Service) FindCBBsByState(ctx context.Context, state string) ([]domain.Organization, error) {
	return s.findCBBs(ctx, domain.OrganizationFilter{State: state}, state)
}

func (s *Service) findCBBs(ctx context.Context, filter domain.OrganizationFilter, place string) ([]domain.Organization, error) {
	if strings.TrimSpace(place) == "" {
		return nil, nil
	}
	cbb := domain.OrganizationTypeCBB
	filter.Type = &cbb
	return s.ListOrganizations(ctx, filter)
}

// FindStaffUserByOrganization returns the first staff member registered
// for orgID, or nil when the organization has no staff.
func (s *Service) FindStaffUserByOrganization(ctx context.Context, orgID types.ID) (*domain.User, error) {
	var staff *domain.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		users, err := tx.Users().List(ctx, domain.UserFilter{OrganizationID: &orgID})
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].Role.IsStaff() {
				staff = &users[i]
				return nil
			}
		}
		return nil
	})
	return staff, err
}

// FindNodeStaffByCity returns NODE_STAFF users whose node is in city
func (s *Service) FindNodeStaffByCity(ctx context.Context, city string) ([]domain.User, error) {
	if strings.TrimSpace(city) == "" {
		return nil, nil
	}
	role := domain.RoleNodeStaff
	return s.listUsers(ctx, domain.UserFilter{Role: &role, OrganizationCity: city})
}

// FindEligibleDonorsByCity returns donors living in city who may donate today
func (s *Service) FindEligibleDonorsByCity(ctx context.Context, city string) ([]domain.User, error) {
	if strings.TrimSpace(city) == "" {
		return nil, nil
	}
	role := domain.RoleDonor
	donors, err := s.listUsers(ctx, domain.UserFilter{Role: &role, City: city})
	if err != nil {
		return nil, err
	}

	now := s.now()
	eligible := donors[:0]
	for _, d := range donors {
		if d.Eligible(now) {
			eligible = append(eligible, d)
		}
	}
	return eligible, nil
}

func (s *Service) listUsers(ctx context.Context, filter domain.UserFilter) ([]domain.User, error) {
	var users []domain.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		users, err = tx.Users().List(ctx, filter)
		return err
	})
	return users, err
}

// ResolveCollectionCBB picks the CBB that receives blood collected at node:
// a CBB in the node's city, else the oldest CBB anywhere.
func ResolveCollectionCBB(ctx context.Context, tx domain.Tx, node *domain.Organization) (*domain.Organization, error) {
	cbb := domain.OrganizationTypeCBB

	local, err := tx.Organizations().List(ctx, domain.OrganizationFilter{Type: &cbb, City: node.Location.City})
	if err != nil {
		return nil, err
	}
	if len(local) > 0 {
		return &local[0], nil
	}

	all, err := tx.Organizations().List(ctx, domain.OrganizationFilter{Type: &cbb})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, errors.BusinessRuleViolation("no CBB available to receive the donation")
	}
	return &all[0], nil
}
