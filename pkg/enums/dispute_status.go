package enums

import "slices"

// DisputeStatus tracks the admin dispute workflow.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "OPEN"
	DisputeStatusInReview DisputeStatus = "IN_REVIEW"
	DisputeStatusResolved DisputeStatus = "RESOLVED"
	DisputeStatusRejected DisputeStatus = "REJECTED"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusInReview,
	DisputeStatusResolved,
	DisputeStatusRejected,
}

func (d DisputeStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeStatus.
func (d DisputeStatus) IsValid() bool {
	return slices.Contains(validDisputeStatuses, d)
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	return parseEnum("dispute status", value, validDisputeStatuses)
}

// IsActive reports whether the dispute still blocks a new dispute on the same transaction.
func (d DisputeStatus) IsActive() bool {
	return d == DisputeStatusOpen || d == DisputeStatusInReview
}

// CanTransitionTo allows OPEN -> IN_REVIEW and OPEN|IN_REVIEW -> RESOLVED|REJECTED.
func (d DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	switch d {
	case DisputeStatusOpen:
		return next == DisputeStatusInReview || next == DisputeStatusResolved || next == DisputeStatusRejected
	case DisputeStatusInReview:
		return next == DisputeStatusResolved || next == DisputeStatusRejected
	default:
		return false
	}
}
