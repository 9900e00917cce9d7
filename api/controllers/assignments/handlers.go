package assignments

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/luminstall/fieldops-backend/api/responses"
	"github.com/luminstall/fieldops-backend/api/validators"
	internalassignments "github.com/luminstall/fieldops-backend/internal/assignments"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	pkgerrors "github.com/luminstall/fieldops-backend/pkg/errors"
	"github.com/luminstall/fieldops-backend/pkg/logger"
	"github.com/luminstall/fieldops-backend/pkg/pagination"
)

// Create schedules a new assignment for an order.
func Create(svc internalassignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAssignmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.Create(r.Context(), internalassignments.CreateInput{
			OrderID: req.OrderID,
			Notes:   req.Notes,
			Slots:   slotRequests(req.Slots),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalassignments.NewAssignmentView(created))
	}
}

// Detail returns one assignment with its slots in stable order.
func Detail(svc internalassignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParsePathUUID(chi.URLParam(r, "assignmentId"), "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		assignment, err := svc.FindByID(r.Context(), assignmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalassignments.NewAssignmentView(assignment))
	}
}

// Update replaces a planned assignment's slot set and notes.
func Update(svc internalassignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParsePathUUID(chi.URLParam(r, "assignmentId"), "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateAssignmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.Update(r.Context(), internalassignments.UpdateInput{
			AssignmentID: assignmentID,
			Notes:        req.Notes,
			Slots:        slotRequests(req.Slots),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalassignments.NewAssignmentView(updated))
	}
}

// UpdateStatus applies the admin terminal transition.
func UpdateStatus(svc internalassignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParsePathUUID(chi.URLParam(r, "assignmentId"), "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseAssignmentStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		updated, err := svc.UpdateStatus(r.Context(), assignmentID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalassignments.NewAssignmentView(updated))
	}
}

// ReportCompletion records one installer's completion report.
func ReportCompletion(svc internalassignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParsePathUUID(chi.URLParam(r, "assignmentId"), "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req completionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		done, err := svc.ReportInstallerCompletion(r.Context(), assignmentID, req.InstallerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"assignment_completed": done})
	}
}

// LastInstaller answers whether the installer holds the last open slot.
func LastInstaller(svc internalassignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assignmentID, err := validators.ParsePathUUID(chi.URLParam(r, "assignmentId"), "assignmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		installerID, err := validators.ParseQueryUUID(r, "installerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if installerID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "installerId query parameter required"))
			return
		}

		isLast, err := svc.IsLastInstaller(r.Context(), assignmentID, installerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"is_last_installer": isLast})
	}
}

// List serves assignments filtered by installer or by order. Exactly one of
// the two filters must be supplied.
func List(svc internalassignments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		installerID, err := validators.ParseQueryUUID(r, "installerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseQueryUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		switch {
		case installerID != uuid.Nil && orderID != uuid.Nil:
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "installerId and orderId are mutually exclusive"))
		case installerID != uuid.Nil:
			limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
			list, err := svc.ListByInstaller(r.Context(), installerID, pagination.Params{Limit: limit, Cursor: cursor})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			views := make([]internalassignments.AssignmentView, 0, len(list.Assignments))
			for i := range list.Assignments {
				views = append(views, internalassignments.NewAssignmentView(&list.Assignments[i]))
			}
			responses.WriteSuccess(w, map[string]any{
				"assignments": views,
				"next_cursor": list.NextCursor,
			})
		case orderID != uuid.Nil:
			result, err := svc.ListByOrder(r.Context(), orderID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			views := make([]internalassignments.AssignmentView, 0, len(result))
			for i := range result {
				views = append(views, internalassignments.NewAssignmentView(&result[i]))
			}
			responses.WriteSuccess(w, map[string]any{"assignments": views})
		default:
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "installerId or orderId query parameter required"))
		}
	}
}
