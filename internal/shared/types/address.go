package types

import "strings"

// Location is the geographic placement used for alert routing:
// city, then district, then state.
type Location struct {
	Street   string `json:"street,omitempty"`
	City     string `json:"city"`
	District string `json:"district"`
	State    string `json:"state"`
}

// NewLocation creates a location with trimmed fields
func NewLocation(city, district, state string) Location {
	return Location{
		City:     strings.TrimSpace(city),
		District: strings.TrimSpace(district),
		State:    strings.TrimSpace(state),
	}
}

// WithStreet adds a street line to the location
func (l Location) WithStreet(street string) Location {
	l.Street = strings.TrimSpace(street)
	return l
}

// Complete reports whether city, district and state are all set.
func (l Location) Complete() bool {
	return l.City != "" && l.District != "" && l.State != ""
}

// SameCity compares cities case-insensitively.
func (l Location) SameCity(city string) bool {
	return city != "" && strings.EqualFold(l.City, city)
}

// SameDistrict compares districts case-insensitively.
func (l Location) SameDistrict(district string) bool {
	return district != "" && strings.EqualFold(l.District, district)
}

// SameState compares states case-insensitively.
func (l Location) SameState(state string) bool {
	return state != "" && strings.EqualFold(l.State, state)
}

// ContactInfo represents contact information
type ContactInfo struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}
