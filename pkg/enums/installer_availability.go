package enums

import "fmt"

// InstallerAvailability mirrors the directory's availability flag.
type InstallerAvailability string

const (
	InstallerAvailable   InstallerAvailability = "available"
	InstallerUnavailable InstallerAvailability = "unavailable"
)

var validInstallerAvailabilities = []InstallerAvailability{
	InstallerAvailable,
	InstallerUnavailable,
}

// String implements fmt.Stringer.
func (i InstallerAvailability) String() string {
	return string(i)
}

// IsValid reports whether the value is a known InstallerAvailability.
func (i InstallerAvailability) IsValid() bool {
	for _, candidate := range validInstallerAvailabilities {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInstallerAvailability converts raw input into an InstallerAvailability.
func ParseInstallerAvailability(value string) (InstallerAvailability, error) {
	for _, candidate := range validInstallerAvailabilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid installer availability %q", value)
}
