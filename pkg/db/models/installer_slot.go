package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/luminstall/fieldops-backend/pkg/types"
)

// InstallerSlot is one installer's scheduled window inside an Assignment.
// The composite primary key allows at most one slot per installer per
// assignment.
type InstallerSlot struct {
	AssignmentID uuid.UUID       `gorm:"column:assignment_id;type:uuid;primaryKey"`
	InstallerID  uuid.UUID       `gorm:"column:installer_id;type:uuid;primaryKey"`
	SlotDate     types.Date      `gorm:"column:slot_date;not null"`
	StartTime    types.TimeOfDay `gorm:"column:start_minutes;not null"`
	EndTime      types.TimeOfDay `gorm:"column:end_minutes;not null"`
	Completed    bool            `gorm:"column:completed;not null;default:false"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// EndsAt returns the absolute instant the slot's window closes.
func (s InstallerSlot) EndsAt() time.Time {
	return s.SlotDate.At(s.EndTime)
}

// Before reports whether s sorts strictly before other under the stable
// (date, startTime, installerId) ordering.
func (s InstallerSlot) Before(other InstallerSlot) bool {
	if !s.SlotDate.Equal(other.SlotDate.Time) {
		return s.SlotDate.Time.Before(other.SlotDate.Time)
	}
	if s.StartTime != other.StartTime {
		return s.StartTime < other.StartTime
	}
	return s.InstallerID.String() < other.InstallerID.String()
}

// SameMoment reports whether both slots share the exact (date, startTime).
func (s InstallerSlot) SameMoment(other InstallerSlot) bool {
	return s.SlotDate.Equal(other.SlotDate.Time) && s.StartTime == other.StartTime
}
