package enums

import "fmt"

// AssignmentStatus tracks the lifecycle of an installation assignment.
type AssignmentStatus string

const (
	AssignmentStatusPlanned   AssignmentStatus = "planned"
	AssignmentStatusCompleted AssignmentStatus = "completed"
	AssignmentStatusCancelled AssignmentStatus = "cancelled"
)

var validAssignmentStatuses = []AssignmentStatus{
	AssignmentStatusPlanned,
	AssignmentStatusCompleted,
	AssignmentStatusCancelled,
}

// String implements fmt.Stringer.
func (a AssignmentStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AssignmentStatus.
func (a AssignmentStatus) IsValid() bool {
	for _, candidate := range validAssignmentStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further mutation.
func (a AssignmentStatus) IsTerminal() bool {
	return a == AssignmentStatusCompleted || a == AssignmentStatusCancelled
}

// ParseAssignmentStatus converts raw input into an AssignmentStatus.
func ParseAssignmentStatus(value string) (AssignmentStatus, error) {
	for _, candidate := range validAssignmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid assignment status %q", value)
}
