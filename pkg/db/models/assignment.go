package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/luminstall/fieldops-backend/pkg/enums"
)

// Assignment is the schedulable unit of work tying one customer order to
// one or more installer time slots.
type Assignment struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	Status    enums.AssignmentStatus `gorm:"column:status;type:text;not null;default:'planned'"`
	Notes     *string                `gorm:"column:notes"`
	Slots     []InstallerSlot        `gorm:"foreignKey:AssignmentID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
