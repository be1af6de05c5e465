package enums

import "slices"

// PickupStatus maps to the pickup_status enum in Postgres.
type PickupStatus string

const (
	PickupStatusGenerated PickupStatus = "GENERATED"
	PickupStatusConfirmed PickupStatus = "CONFIRMED"
)

var validPickupStatuses = []PickupStatus{
	PickupStatusGenerated,
	PickupStatusConfirmed,
}

func (p PickupStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PickupStatus.
func (p PickupStatus) IsValid() bool {
	return slices.Contains(validPickupStatuses, p)
}

// ParsePickupStatus converts raw input into a PickupStatus.
func ParsePickupStatus(value string) (PickupStatus, error) {
	return parseEnum("pickup status", value, validPickupStatuses)
}
