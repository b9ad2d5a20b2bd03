package domain

import (
	"net/mail"
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

// Role defines what a user may do
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleCBBStaff      Role = "CBB_STAFF"
	RoleNodeStaff     Role = "NODE_STAFF"
	RoleHospitalStaff Role = "HOSPITAL_STAFF"
	RoleDonor         Role = "DONOR"
)

// DonationCooldownDays is the minimum gap between two donations
const DonationCooldownDays = 90

// ParseRole parses a role name, case-insensitively
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleCBBStaff, RoleNodeStaff, RoleHospitalStaff, RoleDonor:
		return r, nil
	}
	return "", errors.InvalidArgument("unknown role: " + s)
}

// IsStaff reports whether the role belongs to an organization
func (r Role) IsStaff() bool {
	return r == RoleCBBStaff || r == RoleNodeStaff || r == RoleHospitalStaff
}

// User is a staff member or donor. Credentials live outside this service.
type User struct {
	ID             types.ID        `json:"id"`
	Email          string          `json:"email"`
	FullName       string          `json:"full_name"`
	Role           Role            `json:"role"`
	OrganizationID *types.ID       `json:"organization_id,omitempty"`
	BloodType      types.BloodType `json:"blood_type,omitempty"`
	City           string          `json:"city,omitempty"`
	District       string          `json:"district,omitempty"`
	ContactNumber  string          `json:"contact_number,omitempty"`

	LastDonationDate *time.Time `json:"last_donation_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser validates and creates a user
func NewUser(email, fullName string, role Role, orgID *types.ID, now time.Time) (*User, error) {
	email = strings.TrimSpace(email)
	details := map[string]string{}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			details["email"] = "email is malformed"
		}
	} else {
		details["email"] = "email is required"
	}
	if role.IsStaff() && orgID == nil {
		details["organization_id"] = "staff users must belong to an organization"
	}
	if role == RoleDonor && orgID != nil {
		details["organization_id"] = "donors do not belong to an organization"
	}
	if len(details) > 0 {
		return nil, errors.Validation("validation failed", details)
	}

	return &User{
		ID:             types.NewID(),
		Email:          strings.ToLower(email),
		FullName:       strings.TrimSpace(fullName),
		Role:           role,
		OrganizationID: orgID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsEligible reports whether a donor with the given last donation date may
// donate on now's calendar day: never donated, or the cooldown has fully
// elapsed (last donation + 90 days is today or earlier).
func IsEligible(lastDonation *time.Time, now time.Time) bool {
	if lastDonation == nil {
		return true
	}
	nextAllowed := DateOf(*lastDonation).AddDate(0, 0, DonationCooldownDays)
	return !nextAllowed.After(DateOf(now))
}

// Eligible applies IsEligible to the user
func (u *User) Eligible(now time.Time) bool {
	return IsEligible(u.LastDonationDate, now)
}

// RecordDonation resets the donation cooldown
func (u *User) RecordDonation(now time.Time) {
	d := DateOf(now)
	u.LastDonationDate = &d
	u.UpdatedAt = now
}

// HasEmail reports whether the user can receive mail
func (u *User) HasEmail() bool {
	return strings.Contains(u.Email, "@")
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
