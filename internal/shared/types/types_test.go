package types

import "testing"

func TestParseBloodType(t *testing.T) {
	tests := []struct {
		in      string
		want    BloodType
		wantErr bool
	}{
		{"O_POS", BloodTypeOPos, false},
		{"o_neg", BloodTypeONeg, false},
		{"AB+", BloodTypeABPos, false},
		{" b- ", BloodTypeBNeg, false},
		{"C_POS", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBloodType(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLocationMatching(t *testing.T) {
	loc := NewLocation(" Pune ", "Pune", "Maharashtra")

	if !loc.SameCity("PUNE") {
		t.Error("Expected case-insensitive city match")
	}
	if loc.SameCity("") {
		t.Error("Expected empty city not to match")
	}
	if !loc.SameDistrict("pune") || !loc.SameState("maharashtra") {
		t.Error("Expected district and state to match")
	}
	if !loc.Complete() {
		t.Error("Expected location to be complete")
	}
	if NewLocation("Pune", "", "Maharashtra").Complete() {
		t.Error("Expected location without district to be incomplete")
	}
}

func TestIDRoundTrip(t *testing.T) {
	id := NewID()
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}
	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Error("Expected error for malformed ID")
	}
	upper, err := ParseID("5B1F7F0E-0A8F-4C47-9A8A-2D7D1F3B9A10")
	if err != nil || upper != "5b1f7f0e-0a8f-4c47-9a8a-2d7d1f3b9a10" {
		t.Errorf("Expected canonical lower-case ID, got %q (%v)", upper, err)
	}
	if ID("").Ptr() != nil {
		t.Error("Expected nil pointer for zero ID")
	}
}

func TestIDUnmarshalText(t *testing.T) {
	var id ID
	if err := id.UnmarshalText([]byte("not-a-uuid")); err == nil {
		t.Error("Expected error for malformed ID")
	}
	if err := id.UnmarshalText(nil); err != nil || !id.IsZero() {
		t.Errorf("Expected empty input to give the zero ID, got %q (%v)", id, err)
	}
	want := NewID()
	if err := id.UnmarshalText([]byte(want)); err != nil || id != want {
		t.Errorf("Expected %s, got %s (%v)", want, id, err)
	}
}
