package assignments

import (
	"github.com/google/uuid"

	internalassignments "github.com/luminstall/fieldops-backend/internal/assignments"
	"github.com/luminstall/fieldops-backend/pkg/types"
)

type slotPayload struct {
	InstallerID uuid.UUID        `json:"installer_id" validate:"required"`
	Date        types.Date       `json:"date"`
	StartTime   *types.TimeOfDay `json:"start_time"`
	EndTime     *types.TimeOfDay `json:"end_time"`
}

type createAssignmentRequest struct {
	OrderID uuid.UUID     `json:"order_id" validate:"required"`
	Notes   *string       `json:"notes"`
	Slots   []slotPayload `json:"slots" validate:"required,min=1,dive"`
}

type updateAssignmentRequest struct {
	Notes *string       `json:"notes"`
	Slots []slotPayload `json:"slots" validate:"required,min=1,dive"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=completed cancelled"`
}

type completionRequest struct {
	InstallerID uuid.UUID `json:"installer_id" validate:"required"`
}

func slotRequests(payloads []slotPayload) []internalassignments.SlotRequest {
	requests := make([]internalassignments.SlotRequest, 0, len(payloads))
	for _, payload := range payloads {
		requests = append(requests, internalassignments.SlotRequest{
			InstallerID: payload.InstallerID,
			Date:        payload.Date,
			StartTime:   payload.StartTime,
			EndTime:     payload.EndTime,
		})
	}
	return requests
}
