package assignments

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luminstall/fieldops-backend/internal/schedule"
	"github.com/luminstall/fieldops-backend/pkg/db/models"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	pkgerrors "github.com/luminstall/fieldops-backend/pkg/errors"
	"github.com/luminstall/fieldops-backend/pkg/logger"
	"github.com/luminstall/fieldops-backend/pkg/pagination"
	"github.com/luminstall/fieldops-backend/pkg/types"
)

// Missing slot times fall back to the morning half-day. The 08:00/17:00 pair
// is the legacy full-day convenience value older clients still send; it is
// normalized to the same morning window so stored slots always respect the
// lunch break.
var (
	defaultSlotStart = schedule.MorningStart
	defaultSlotEnd   = schedule.MorningEnd

	legacyFullDayStart = types.NewTimeOfDay(8, 0)
	legacyFullDayEnd   = types.NewTimeOfDay(17, 0)
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service orchestrates assignment creation, update, completion and the
// synchronization with the order and installer subsystems.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Assignment, error)
	Update(ctx context.Context, input UpdateInput) (*models.Assignment, error)
	UpdateStatus(ctx context.Context, assignmentID uuid.UUID, newStatus enums.AssignmentStatus) (*models.Assignment, error)
	ReportInstallerCompletion(ctx context.Context, assignmentID, installerID uuid.UUID) (bool, error)
	IsLastInstaller(ctx context.Context, assignmentID, installerID uuid.UUID) (bool, error)
	FindByID(ctx context.Context, assignmentID uuid.UUID) (*models.Assignment, error)
	ListByInstaller(ctx context.Context, installerID uuid.UUID, params pagination.Params) (*AssignmentList, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Assignment, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	gateway   OrderGateway
	directory InstallerDirectory
	logg      *logger.Logger
}

// NewService builds an assignment service with the required dependencies.
func NewService(repo Repository, tx txRunner, gateway OrderGateway, directory InstallerDirectory, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("assignments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("order gateway required")
	}
	if directory == nil {
		return nil, fmt.Errorf("installer directory required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		gateway:   gateway,
		directory: directory,
		logg:      logg,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Assignment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(input.Slots) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one installer slot is required")
	}

	// Order precondition first: a gateway failure here aborts before any
	// validation side effects or persistence.
	status, err := s.gateway.GetOrderStatus(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if status != enums.OrderStatusReadyForScheduling {
		return nil, pkgerrors.New(pkgerrors.CodeOrderState, "order is not ready for scheduling").
			WithDetails(map[string]any{"order_status": status.String()})
	}

	assignment := &models.Assignment{
		OrderID: input.OrderID,
		Status:  enums.AssignmentStatusPlanned,
		Notes:   input.Notes,
	}

	// Conflict validation runs inside the same transaction as the insert so a
	// concurrent create for the same installer cannot slip between check and
	// commit.
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		slots, err := s.buildSlots(ctx, repo, input.Slots, uuid.Nil)
		if err != nil {
			return err
		}
		assignment.Slots = slots
		if _, err := repo.CreateAssignment(ctx, assignment); err != nil {
			if typed := pkgerrors.As(err); typed != nil {
				return typed
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist assignment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The assignment is committed; a gateway failure from here on is a
	// warning, not a rollback.
	if err := s.gateway.SetOrderStatus(ctx, input.OrderID, enums.OrderStatusScheduled); err != nil {
		warnCtx := s.logg.WithOrderID(ctx, input.OrderID.String())
		s.logg.Warn(warnCtx, fmt.Sprintf("failed to mark order scheduled: %v", err))
	}

	return assignment, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (*models.Assignment, error) {
	if input.AssignmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	if len(input.Slots) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one installer slot is required")
	}

	// The status check and the completion-flag carryover must read the row
	// under the lock: a concurrent completion report or terminal transition
	// between an unlocked read and the write would be silently overwritten.
	var updated *models.Assignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.LockForUpdate(ctx, input.AssignmentID)
		if err != nil {
			return notFoundOrDependency(err, "assignment not found", "lock assignment")
		}
		if current.Status != enums.AssignmentStatusPlanned {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only planned assignments can be rescheduled")
		}

		existing := make(map[uuid.UUID]models.InstallerSlot, len(current.Slots))
		for _, slot := range current.Slots {
			existing[slot.InstallerID] = slot
		}

		slots, err := s.buildSlots(ctx, repo, input.Slots, input.AssignmentID)
		if err != nil {
			return err
		}
		// Installers kept across the update retain their completion progress.
		for i := range slots {
			if prior, ok := existing[slots[i].InstallerID]; ok {
				slots[i].Completed = prior.Completed
			}
		}

		if err := repo.UpdateAssignment(ctx, input.AssignmentID, map[string]any{"notes": input.Notes}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update assignment")
		}
		if err := repo.ReplaceSlots(ctx, input.AssignmentID, slots); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace slots")
		}

		current.Notes = input.Notes
		current.Slots = slots
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) UpdateStatus(ctx context.Context, assignmentID uuid.UUID, newStatus enums.AssignmentStatus) (*models.Assignment, error) {
	if !newStatus.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be completed or cancelled")
	}

	var assignment *models.Assignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.LockForUpdate(ctx, assignmentID)
		if err != nil {
			return notFoundOrDependency(err, "assignment not found", "load assignment")
		}
		if current.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "assignment already in a terminal state").
				WithDetails(map[string]any{"status": current.Status.String()})
		}
		if err := repo.UpdateAssignment(ctx, assignmentID, map[string]any{"status": newStatus}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update assignment status")
		}
		current.Status = newStatus
		assignment = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorTerminalState(ctx, assignment.OrderID, newStatus)
	return assignment, nil
}

// mirrorTerminalState pushes the assignment's terminal state to the order
// subsystem. Best effort: the local transition already committed.
func (s *service) mirrorTerminalState(ctx context.Context, orderID uuid.UUID, status enums.AssignmentStatus) {
	target := enums.OrderStatusInstallationDone
	if status == enums.AssignmentStatusCancelled {
		target = enums.OrderStatusCancelled
	}
	if err := s.gateway.SetOrderStatus(ctx, orderID, target); err != nil {
		warnCtx := s.logg.WithOrderID(ctx, orderID.String())
		s.logg.Warn(warnCtx, fmt.Sprintf("failed to mirror terminal state to order: %v", err))
	}
}

func (s *service) ReportInstallerCompletion(ctx context.Context, assignmentID, installerID uuid.UUID) (bool, error) {
	var (
		didComplete bool
		orderID     uuid.UUID
		freed       []uuid.UUID
	)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		assignment, err := repo.LockForUpdate(ctx, assignmentID)
		if err != nil {
			return notFoundOrDependency(err, "assignment not found", "lock assignment")
		}

		idx := slotIndex(assignment.Slots, installerID)
		if idx < 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "installer is not part of this assignment")
		}

		if assignment.Status.IsTerminal() {
			// Replayed report after the assignment closed: keep the call
			// idempotent rather than failing the installer's app.
			didComplete = assignment.Status == enums.AssignmentStatusCompleted
			return nil
		}

		// Record the installer's completion before evaluating the aggregate,
		// so the fact survives even if this caller is not the last one.
		if !assignment.Slots[idx].Completed {
			if err := repo.SaveSlotCompleted(ctx, assignmentID, installerID, true); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record slot completion")
			}
			assignment.Slots[idx].Completed = true
		}

		// Any member of the chronologically last (date, startTime) group may
		// close the assignment, not just the slot that sorts highest on the
		// installer-id tie break. Whichever peer reports once every slot is
		// done finishes the job.
		sorted := sortedSlots(assignment.Slots)
		last := sorted[len(sorted)-1]
		if !last.SameMoment(assignment.Slots[idx]) {
			return nil
		}

		for _, slot := range sorted {
			if !slot.Completed {
				return nil
			}
		}

		if err := repo.UpdateAssignment(ctx, assignmentID, map[string]any{"status": enums.AssignmentStatusCompleted}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete assignment")
		}

		didComplete = true
		orderID = assignment.OrderID
		for _, slot := range sorted {
			freed = append(freed, slot.InstallerID)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if len(freed) > 0 {
		s.notifyAssignmentCompleted(ctx, assignmentID, orderID, freed)
	}
	return didComplete, nil
}

// notifyAssignmentCompleted synchronizes collaborators after the completion
// committed locally. Failures are logged, never rolled back.
func (s *service) notifyAssignmentCompleted(ctx context.Context, assignmentID, orderID uuid.UUID, installerIDs []uuid.UUID) {
	logCtx := s.logg.WithAssignmentID(ctx, assignmentID.String())

	if err := s.gateway.SetOrderStatus(ctx, orderID, enums.OrderStatusInstallationDone); err != nil {
		warnCtx := s.logg.WithOrderID(logCtx, orderID.String())
		s.logg.Warn(warnCtx, fmt.Sprintf("failed to mark order installation_done: %v", err))
	}

	for _, installerID := range installerIDs {
		if err := s.directory.SetAvailability(ctx, installerID, enums.InstallerAvailable); err != nil {
			warnCtx := s.logg.WithInstallerID(logCtx, installerID.String())
			s.logg.Warn(warnCtx, fmt.Sprintf("failed to free installer: %v", err))
		}
	}
}

// IsLastInstaller is a read-only hint for callers deciding whether to offer
// the "complete assignment" action. The locked evaluation inside
// ReportInstallerCompletion stays the authority.
func (s *service) IsLastInstaller(ctx context.Context, assignmentID, installerID uuid.UUID) (bool, error) {
	assignment, err := s.repo.FindByID(ctx, assignmentID)
	if err != nil {
		return false, notFoundOrDependency(err, "assignment not found", "load assignment")
	}

	var lastIncomplete *models.InstallerSlot
	for _, slot := range sortedSlots(assignment.Slots) {
		if slot.Completed {
			continue
		}
		current := slot
		lastIncomplete = &current
	}
	if lastIncomplete == nil {
		return true, nil
	}
	return lastIncomplete.InstallerID == installerID, nil
}

func (s *service) FindByID(ctx context.Context, assignmentID uuid.UUID) (*models.Assignment, error) {
	assignment, err := s.repo.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, notFoundOrDependency(err, "assignment not found", "load assignment")
	}
	return assignment, nil
}

func (s *service) ListByInstaller(ctx context.Context, installerID uuid.UUID, params pagination.Params) (*AssignmentList, error) {
	if installerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "installer id required")
	}
	list, err := s.repo.ListByInstaller(ctx, installerID, params)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assignments")
	}
	return list, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Assignment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	result, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assignments")
	}
	return result, nil
}

// buildSlots validates every slot request and materializes the slot rows.
// The conflict check goes through the supplied repository so callers can run
// it inside their transaction. ownAssignmentID excludes the assignment's
// prior occupancy from the conflict check during updates; pass uuid.Nil on
// creation.
func (s *service) buildSlots(ctx context.Context, repo Repository, requests []SlotRequest, ownAssignmentID uuid.UUID) ([]models.InstallerSlot, error) {
	seen := make(map[uuid.UUID]struct{}, len(requests))
	slots := make([]models.InstallerSlot, 0, len(requests))

	for _, req := range requests {
		if req.InstallerID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "installer id required")
		}
		if _, dup := seen[req.InstallerID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate installer in slot requests").
				WithDetails(map[string]any{"installer_id": req.InstallerID})
		}
		seen[req.InstallerID] = struct{}{}
		if req.Date.IsZero() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "slot date required")
		}

		if _, err := s.directory.GetInstaller(ctx, req.InstallerID); err != nil {
			return nil, err
		}

		start, end, err := normalizeSlotTimes(req.StartTime, req.EndTime)
		if err != nil {
			return nil, err
		}

		active, err := repo.FindActiveSlotsForInstaller(ctx, req.InstallerID, req.Date)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query installer slots")
		}
		for _, other := range active {
			if other.AssignmentID == ownAssignmentID {
				continue
			}
			if schedule.Overlaps(start, end, other.StartTime, other.EndTime) {
				return nil, pkgerrors.New(pkgerrors.CodeConflict, "installer already booked in an overlapping slot").
					WithDetails(map[string]any{
						"installer_id": req.InstallerID,
						"date":         req.Date.String(),
						"conflict":     fmt.Sprintf("%s-%s", other.StartTime, other.EndTime),
					})
			}
		}

		slots = append(slots, models.InstallerSlot{
			AssignmentID: ownAssignmentID,
			InstallerID:  req.InstallerID,
			SlotDate:     req.Date,
			StartTime:    start,
			EndTime:      end,
		})
	}

	return slots, nil
}

func normalizeSlotTimes(start, end *types.TimeOfDay) (types.TimeOfDay, types.TimeOfDay, error) {
	if (start == nil) != (end == nil) {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "start and end times must be provided together")
	}
	if start == nil {
		return defaultSlotStart, defaultSlotEnd, nil
	}
	if *start == legacyFullDayStart && *end == legacyFullDayEnd {
		return defaultSlotStart, defaultSlotEnd, nil
	}

	if !start.IsValid() || !end.IsValid() || *start >= *end {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "slot times must satisfy start < end").
			WithDetails(map[string]any{"start": start.String(), "end": end.String()})
	}
	if schedule.ConflictsWithLunch(*start, *end) {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "slot may not overlap the lunch break").
			WithDetails(map[string]any{"start": start.String(), "end": end.String()})
	}
	if !schedule.IsWithinWorkingHours(*start, *end) {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "slot outside working hours").
			WithDetails(map[string]any{"start": start.String(), "end": end.String()})
	}
	return *start, *end, nil
}

// sortedSlots returns a copy ordered by the stable (date, startTime,
// installerId) key; the last element is the chronologically last slot.
func sortedSlots(slots []models.InstallerSlot) []models.InstallerSlot {
	sorted := make([]models.InstallerSlot, len(slots))
	copy(sorted, slots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Before(sorted[j])
	})
	return sorted
}

func slotIndex(slots []models.InstallerSlot, installerID uuid.UUID) int {
	for i, slot := range slots {
		if slot.InstallerID == installerID {
			return i
		}
	}
	return -1
}

func notFoundOrDependency(err error, notFoundMsg, depMsg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, depMsg)
}
