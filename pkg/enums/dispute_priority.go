package enums

import "slices"

// DisputePriority ranks disputes for admin triage.
type DisputePriority string

const (
	DisputePriorityLow    DisputePriority = "low"
	DisputePriorityMedium DisputePriority = "medium"
	DisputePriorityHigh   DisputePriority = "high"
)

var validDisputePriorities = []DisputePriority{
	DisputePriorityLow,
	DisputePriorityMedium,
	DisputePriorityHigh,
}

// IsValid reports whether the value is a known DisputePriority.
func (d DisputePriority) IsValid() bool {
	return slices.Contains(validDisputePriorities, d)
}

// ParseDisputePriority converts raw input into a DisputePriority.
func ParseDisputePriority(value string) (DisputePriority, error) {
	return parseEnum("dispute priority", value, validDisputePriorities)
}
