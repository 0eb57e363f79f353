package tenants

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxStaleHours is one year
	MaxStaleHours = 24 * 365
	MaxSweepLimit = 10000
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateTenant checks a tenant before it is stored or loaded
func ValidateTenant(t Tenant) error {
	if len(t.ID) == 0 {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if len(t.ID) > 64 {
		return fmt.Errorf("tenant id length %d exceeds maximum of 64 characters", len(t.ID))
	}
	if !tenantIDPattern.MatchString(t.ID) {
		return fmt.Errorf("tenant id %q must match pattern ^[a-zA-Z0-9][a-zA-Z0-9_-]*$", t.ID)
	}
	if strings.TrimSpace(t.Name) != t.Name {
		return fmt.Errorf("tenant %q has name with leading/trailing whitespace: %q", t.ID, t.Name)
	}
	return ValidateSettings(t.Settings)
}

// ValidateSettings checks the override ranges. Zero is always allowed.
func ValidateSettings(s Settings) error {
	if s.StaleHours < 0 || s.StaleHours > MaxStaleHours {
		return fmt.Errorf("stale hours %d out of range, must be between 1 and %d", s.StaleHours, MaxStaleHours)
	}
	if s.SweepLimit < 0 || s.SweepLimit > MaxSweepLimit {
		return fmt.Errorf("sweep limit %d out of range, must be between 1 and %d", s.SweepLimit, MaxSweepLimit)
	}
	return nil
}
