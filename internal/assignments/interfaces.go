package assignments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luminstall/fieldops-backend/pkg/db/models"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	"github.com/luminstall/fieldops-backend/pkg/pagination"
	"github.com/luminstall/fieldops-backend/pkg/types"
)

// Repository defines persistence operations for the assignment aggregate.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// CreateAssignment persists the assignment together with its slots.
	CreateAssignment(ctx context.Context, assignment *models.Assignment) (*models.Assignment, error)
	// FindByID loads an assignment and its slots in stable slot order.
	FindByID(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	// LockForUpdate loads the aggregate under an exclusive row lock. Callers
	// must run it inside a transaction and hold the transaction for the whole
	// read-evaluate-write sequence.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	// FindActiveSlotsForInstaller returns the installer's slots on the given
	// day whose parent assignment is still planned.
	FindActiveSlotsForInstaller(ctx context.Context, installerID uuid.UUID, date types.Date) ([]models.InstallerSlot, error)
	// UpdateAssignment updates the assignment row's mutable columns.
	UpdateAssignment(ctx context.Context, id uuid.UUID, updates map[string]any) error
	// ReplaceSlots swaps the assignment's slot set for the provided one.
	ReplaceSlots(ctx context.Context, assignmentID uuid.UUID, slots []models.InstallerSlot) error
	// SaveSlotCompleted durably records an installer's completion flag.
	SaveSlotCompleted(ctx context.Context, assignmentID, installerID uuid.UUID, completed bool) error
	// FindExpired returns planned assignments whose latest slot ended strictly
	// before asOf.
	FindExpired(ctx context.Context, asOf time.Time) ([]models.Assignment, error)

	ListByInstaller(ctx context.Context, installerID uuid.UUID, params pagination.Params) (*AssignmentList, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Assignment, error)
}

// OrderGateway is the narrow surface of the order subsystem the scheduler
// needs: read one status, write one status.
type OrderGateway interface {
	GetOrderStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error)
	SetOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error
}

// InstallerDirectory resolves installers and toggles their availability flag.
// The directory service owns the installer records.
type InstallerDirectory interface {
	GetInstaller(ctx context.Context, installerID uuid.UUID) (*models.Installer, error)
	SetAvailability(ctx context.Context, installerID uuid.UUID, availability enums.InstallerAvailability) error
}
