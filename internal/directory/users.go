package directory

import (
	"context"
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
	"go.uber.org/zap"
)

// staffOrgType maps staff roles to the organization type they work for
var staffOrgType = map[domain.Role]domain.OrganizationType{
	domain.RoleCBBStaff:      domain.OrganizationTypeCBB,
	domain.RoleNodeStaff:     domain.OrganizationTypeNode,
	domain.RoleHospitalStaff: domain.OrganizationTypeHospital,
}

// RegisterUserInput describes a new user. Credentials are handled by the
// identity service and never reach this one.
type RegisterUserInput struct {
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	Role             string     `json:"role"`
	OrganizationID   *types.ID  `json:"organization_id"`
	BloodType        string     `json:"blood_type"`
	City             string     `json:"city"`
	District         string     `json:"district"`
	ContactNumber    string     `json:"contact_number"`
	LastDonationDate *time.Time `json:"last_donation_date"`
}

// RegisterUser validates and stores a user
func (s *Service) RegisterUser(ctx context.Context, in RegisterUserInput) (*domain.User, error) {
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return nil, err
	}

	user, err := domain.NewUser(in.Email, in.FullName, role, in.OrganizationID, s.now())
	if err != nil {
		return nil, err
	}
	if in.BloodType != "" {
		bt, err := types.ParseBloodType(in.BloodType)
		if err != nil {
			return nil, errors.InvalidArgument(err.Error())
		}
		user.BloodType = bt
	}
	user.City = strings.TrimSpace(in.City)
	user.District = strings.TrimSpace(in.District)
	user.ContactNumber = strings.TrimSpace(in.ContactNumber)
	if in.LastDonationDate != nil {
		d := domain.DateOf(*in.LastDonationDate)
		user.LastDonationDate = &d
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if want, ok := staffOrgType[role]; ok {
			org, err := tx.Organizations().Get(ctx, *user.OrganizationID)
			if err != nil {
				return err
			}
			if err := org.RequireType(want); err != nil {
				return err
			}
		}
		return tx.Users().Create(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.String("id", user.ID.String()), zap.String("role", string(role)))
	return user, nil
}

// DonorProfile is a donor as shown to themselves, with the eligibility
// computed by the same rule donation requests use.
type DonorProfile struct {
	*domain.User
	Eligible         bool       `json:"eligible"`
	NextEligibleDate *time.Time `json:"next_eligible_date,omitempty"`
}

// GetDonorProfile returns the profile of a DONOR user
func (s *Service) GetDonorProfile(ctx context.Context, userID types.ID) (*DonorProfile, error) {
	var user *domain.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		user, err = tx.Users().Get(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if user.Role != domain.RoleDonor {
		return nil, errors.NotFound("donor", userID.String())
	}

	now := s.now()
	profile := &DonorProfile{User: user, Eligible: user.Eligible(now)}
	if !profile.Eligible {
		next := domain.DateOf(*user.LastDonationDate).AddDate(0, 0, domain.DonationCooldownDays)
		profile.NextEligibleDate = &next
	}
	return profile, nil
}
