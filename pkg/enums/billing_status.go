package enums

import "fmt"

// BillingStatus gates whether a store may spend credits.
type BillingStatus string

const (
	BillingStatusActive BillingStatus = "active"
	BillingStatusFrozen BillingStatus = "frozen"
)

var validBillingStatuses = []BillingStatus{
	BillingStatusActive,
	BillingStatusFrozen,
}

// String implements fmt.Stringer.
func (b BillingStatus) String() string {
	return string(b)
}

// IsValid reports whether the value is known.
func (b BillingStatus) IsValid() bool {
	for _, candidate := range validBillingStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingStatus converts raw input into a BillingStatus.
func ParseBillingStatus(value string) (BillingStatus, error) {
	for _, candidate := range validBillingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing status %q", value)
}
