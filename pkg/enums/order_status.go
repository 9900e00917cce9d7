package enums

import "fmt"

// OrderStatus is the slice of the order lifecycle the scheduler touches.
// The order subsystem owns the full state machine; the scheduler only reads
// ready_for_scheduling and writes scheduled / installation_done.
type OrderStatus string

const (
	OrderStatusReadyForScheduling OrderStatus = "ready_for_scheduling"
	OrderStatusScheduled          OrderStatus = "scheduled"
	OrderStatusInstallationDone   OrderStatus = "installation_done"
	OrderStatusCancelled          OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusReadyForScheduling,
	OrderStatusScheduled,
	OrderStatusInstallationDone,
	OrderStatusCancelled,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
