package types

import (
	"fmt"
	"strings"
)

// BloodType is an ABO/Rh blood group.
type BloodType string

const (
	BloodTypeAPos  BloodType = "A_POS"
	BloodTypeANeg  BloodType = "A_NEG"
	BloodTypeBPos  BloodType = "B_POS"
	BloodTypeBNeg  BloodType = "B_NEG"
	BloodTypeABPos BloodType = "AB_POS"
	BloodTypeABNeg BloodType = "AB_NEG"
	BloodTypeOPos  BloodType = "O_POS"
	BloodTypeONeg  BloodType = "O_NEG"
)

// AllBloodTypes lists every supported blood type
var AllBloodTypes = []BloodType{
	BloodTypeAPos, BloodTypeANeg,
	BloodTypeBPos, BloodTypeBNeg,
	BloodTypeABPos, BloodTypeABNeg,
	BloodTypeOPos, BloodTypeONeg,
}

// ParseBloodType accepts the canonical names as well as the short
// notation ("O+", "ab-").
func ParseBloodType(s string) (BloodType, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasSuffix(norm, "+"):
		norm = strings.TrimSuffix(norm, "+") + "_POS"
	case strings.HasSuffix(norm, "-"):
		norm = strings.TrimSuffix(norm, "-") + "_NEG"
	}
	bt := BloodType(norm)
	if !bt.Valid() {
		return "", fmt.Errorf("unknown blood type %q", s)
	}
	return bt, nil
}

// Valid reports whether bt is one of the supported types.
func (bt BloodType) Valid() bool {
	for _, known := range AllBloodTypes {
		if bt == known {
			return true
		}
	}
	return false
}

func (bt BloodType) String() string {
	return string(bt)
}
