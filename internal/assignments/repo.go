package assignments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/luminstall/fieldops-backend/pkg/db"
	"github.com/luminstall/fieldops-backend/pkg/db/models"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	pkgerrors "github.com/luminstall/fieldops-backend/pkg/errors"
	"github.com/luminstall/fieldops-backend/pkg/pagination"
	"github.com/luminstall/fieldops-backend/pkg/types"
)

const slotOrder = "slot_date ASC, start_minutes ASC, installer_id ASC"

type repository struct {
	db *gorm.DB
}

// NewRepository builds an assignments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAssignment(ctx context.Context, assignment *models.Assignment) (*models.Assignment, error) {
	if len(assignment.Slots) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment requires at least one installer slot")
	}
	if err := r.db.WithContext(ctx).Create(assignment).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "duplicate installer slot")
		}
		return nil, err
	}
	return assignment, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	var assignment models.Assignment
	err := r.db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB {
			return db.Order(slotOrder)
		}).
		Where("id = ?", id).
		First(&assignment).Error
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// LockForUpdate acquires a row lock on the assignment and reloads the slots
// under it. Slot rows are only ever mutated while the parent row is held, so
// locking the parent serializes the whole aggregate.
func (r *repository) LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	tx := r.db.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var assignment models.Assignment
	if err := tx.Where("id = ?", id).First(&assignment).Error; err != nil {
		return nil, err
	}

	var slots []models.InstallerSlot
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", id).
		Order(slotOrder).
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	assignment.Slots = slots
	return &assignment, nil
}

func (r *repository) FindActiveSlotsForInstaller(ctx context.Context, installerID uuid.UUID, date types.Date) ([]models.InstallerSlot, error) {
	var slots []models.InstallerSlot
	err := r.db.WithContext(ctx).
		Joins("JOIN assignments ON assignments.id = installer_slots.assignment_id").
		Where("installer_slots.installer_id = ?", installerID).
		Where("installer_slots.slot_date = ?", date.Time).
		Where("assignments.status = ?", enums.AssignmentStatusPlanned).
		Order(slotOrder).
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *repository) UpdateAssignment(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Assignment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ReplaceSlots(ctx context.Context, assignmentID uuid.UUID, slots []models.InstallerSlot) error {
	keep := make([]uuid.UUID, 0, len(slots))
	for i := range slots {
		slots[i].AssignmentID = assignmentID
		keep = append(keep, slots[i].InstallerID)
	}

	if err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND installer_id NOT IN ?", assignmentID, keep).
		Delete(&models.InstallerSlot{}).Error; err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "assignment_id"}, {Name: "installer_id"}},
			UpdateAll: true,
		}).
		Create(&slots).Error
}

func (r *repository) SaveSlotCompleted(ctx context.Context, assignmentID, installerID uuid.UUID, completed bool) error {
	result := r.db.WithContext(ctx).
		Model(&models.InstallerSlot{}).
		Where("assignment_id = ? AND installer_id = ?", assignmentID, installerID).
		Update("completed", completed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindExpired narrows candidates in SQL by day, then applies the precise
// (date, endTime) < asOf comparison in Go so the cutoff works the same on
// every dialect.
func (r *repository) FindExpired(ctx context.Context, asOf time.Time) ([]models.Assignment, error) {
	var candidates []models.Assignment
	err := r.db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB {
			return db.Order(slotOrder)
		}).
		Where("status = ?", enums.AssignmentStatusPlanned).
		Where("EXISTS (SELECT 1 FROM installer_slots WHERE installer_slots.assignment_id = assignments.id AND installer_slots.slot_date <= ?)",
			types.DateOf(asOf).Time).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	expired := make([]models.Assignment, 0, len(candidates))
	for _, assignment := range candidates {
		if len(assignment.Slots) == 0 {
			continue
		}
		latest := assignment.Slots[0].EndsAt()
		for _, slot := range assignment.Slots[1:] {
			if end := slot.EndsAt(); end.After(latest) {
				latest = end
			}
		}
		if latest.Before(asOf) {
			expired = append(expired, assignment)
		}
	}
	return expired, nil
}

func (r *repository) ListByInstaller(ctx context.Context, installerID uuid.UUID, params pagination.Params) (*AssignmentList, error) {
	limit := pagination.LimitWithBuffer(params.Limit)

	query := r.db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB {
			return db.Order(slotOrder)
		}).
		Where("id IN (SELECT assignment_id FROM installer_slots WHERE installer_id = ?)", installerID).
		Order("created_at DESC, id DESC").
		Limit(limit)

	if params.Cursor != "" {
		cursor, err := pagination.DecodeCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var page []models.Assignment
	if err := query.Find(&page).Error; err != nil {
		return nil, err
	}

	list := &AssignmentList{Assignments: page}
	if len(page) == limit {
		last := page[limit-2]
		list.Assignments = page[:limit-1]
		next := pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		list.NextCursor = &next
	}
	return list, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Assignment, error) {
	var result []models.Assignment
	err := r.db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB {
			return db.Order(slotOrder)
		}).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}
