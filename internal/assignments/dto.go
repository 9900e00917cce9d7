package assignments

import (
	"github.com/google/uuid"

	"github.com/luminstall/fieldops-backend/pkg/db/models"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	"github.com/luminstall/fieldops-backend/pkg/types"
)

// SlotRequest is one installer's requested window. Times are optional as a
// pair; when omitted the morning half-day is assumed.
type SlotRequest struct {
	InstallerID uuid.UUID
	Date        types.Date
	StartTime   *types.TimeOfDay
	EndTime     *types.TimeOfDay
}

// CreateInput carries everything needed to create an assignment.
type CreateInput struct {
	OrderID uuid.UUID
	Notes   *string
	Slots   []SlotRequest
}

// UpdateInput recomputes an assignment's slot set and notes.
type UpdateInput struct {
	AssignmentID uuid.UUID
	Notes        *string
	Slots        []SlotRequest
}

// AssignmentList is a cursor page of assignments.
type AssignmentList struct {
	Assignments []models.Assignment `json:"assignments"`
	NextCursor  *string             `json:"next_cursor,omitempty"`
}

// SlotView is the API shape of an installer slot.
type SlotView struct {
	InstallerID uuid.UUID       `json:"installer_id"`
	Date        types.Date      `json:"date"`
	StartTime   types.TimeOfDay `json:"start_time"`
	EndTime     types.TimeOfDay `json:"end_time"`
	Completed   bool            `json:"completed"`
}

// AssignmentView is the API shape of the aggregate.
type AssignmentView struct {
	ID      uuid.UUID              `json:"id"`
	OrderID uuid.UUID              `json:"order_id"`
	Status  enums.AssignmentStatus `json:"status"`
	Notes   *string                `json:"notes,omitempty"`
	Slots   []SlotView             `json:"slots"`
}

// NewAssignmentView maps the aggregate to its API shape with slots in the
// stable chronological order.
func NewAssignmentView(assignment *models.Assignment) AssignmentView {
	slots := sortedSlots(assignment.Slots)
	views := make([]SlotView, 0, len(slots))
	for _, slot := range slots {
		views = append(views, SlotView{
			InstallerID: slot.InstallerID,
			Date:        slot.SlotDate,
			StartTime:   slot.StartTime,
			EndTime:     slot.EndTime,
			Completed:   slot.Completed,
		})
	}
	return AssignmentView{
		ID:      assignment.ID,
		OrderID: assignment.OrderID,
		Status:  assignment.Status,
		Notes:   assignment.Notes,
		Slots:   views,
	}
}
