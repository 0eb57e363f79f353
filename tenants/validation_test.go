package tenants

import (
	"strings"
	"testing"
)

func TestValidateTenant_Valid(t *testing.T) {
	valid := []Tenant{
		{ID: "acme", Name: "Acme"},
		{ID: "tenant-1", Name: "One", Settings: Settings{StaleHours: 1, SweepLimit: 1}},
		{ID: "0f8fad5b-d9cb-469f-a165-70867728950e"},
		{ID: "t", Settings: Settings{StaleHours: MaxStaleHours, SweepLimit: MaxSweepLimit}},
	}
	for _, tenant := range valid {
		if err := ValidateTenant(tenant); err != nil {
			t.Errorf("Expected %+v to be valid, got: %v", tenant, err)
		}
	}
}

func TestValidateTenant_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		tenant Tenant
		want   string
	}{
		{"empty id", Tenant{}, "empty"},
		{"long id", Tenant{ID: strings.Repeat("a", 65)}, "64"},
		{"id with space", Tenant{ID: "acme corp"}, "pattern"},
		{"leading dash", Tenant{ID: "-acme"}, "pattern"},
		{"padded name", Tenant{ID: "acme", Name: " Acme"}, "whitespace"},
		{"negative stale hours", Tenant{ID: "acme", Settings: Settings{StaleHours: -1}}, "stale hours"},
		{"stale hours above a year", Tenant{ID: "acme", Settings: Settings{StaleHours: MaxStaleHours + 1}}, "stale hours"},
		{"sweep limit too large", Tenant{ID: "acme", Settings: Settings{SweepLimit: MaxSweepLimit + 1}}, "sweep limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenant(tt.tenant)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}
