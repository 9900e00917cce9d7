package models

import (
	"github.com/google/uuid"

	"github.com/luminstall/fieldops-backend/pkg/enums"
)

// Installer is the scheduler's read-model of a directory installer. The
// directory service owns the record; the scheduler only reads it and toggles
// availability through the directory API.
type Installer struct {
	ID           uuid.UUID                   `json:"id"`
	Availability enums.InstallerAvailability `json:"availability"`
	Specialty    string                      `json:"specialty,omitempty"`
	Zone         string                      `json:"zone,omitempty"`
}
