package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luminstall/fieldops-backend/pkg/db/models"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	"github.com/luminstall/fieldops-backend/pkg/logger"
	"github.com/luminstall/fieldops-backend/pkg/types"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeExpiredReader struct {
	assignments []models.Assignment
	err         error
	capturedAs  time.Time
}

func (f *fakeExpiredReader) FindExpired(ctx context.Context, asOf time.Time) ([]models.Assignment, error) {
	f.capturedAs = asOf
	return f.assignments, f.err
}

type fakeAssignmentRepo struct {
	assignments map[uuid.UUID]*models.Assignment
	lockErr     error
	updated     []uuid.UUID
}

func (f *fakeAssignmentRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	assignment, ok := f.assignments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

func (f *fakeAssignmentRepo) UpdateAssignment(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	f.updated = append(f.updated, id)
	if status, ok := updates["status"].(enums.AssignmentStatus); ok {
		f.assignments[id].Status = status
	}
	return nil
}

type fakeFreer struct {
	freed []uuid.UUID
	err   error
}

func (f *fakeFreer) SetAvailability(ctx context.Context, installerID uuid.UUID, availability enums.InstallerAvailability) error {
	if f.err != nil {
		return f.err
	}
	if availability == enums.InstallerAvailable {
		f.freed = append(f.freed, installerID)
	}
	return nil
}

func expiredAssignment(installerIDs ...uuid.UUID) models.Assignment {
	assignment := models.Assignment{
		ID:      uuid.New(),
		OrderID: uuid.New(),
		Status:  enums.AssignmentStatusPlanned,
	}
	date := types.NewDate(2026, time.August, 1)
	for _, installerID := range installerIDs {
		assignment.Slots = append(assignment.Slots, models.InstallerSlot{
			AssignmentID: assignment.ID,
			InstallerID:  installerID,
			SlotDate:     date,
			StartTime:    types.NewTimeOfDay(8, 0),
			EndTime:      types.NewTimeOfDay(12, 0),
		})
	}
	return assignment
}

func newExpiryJobTest(t *testing.T, reader *fakeExpiredReader, repo *fakeAssignmentRepo, freer *fakeFreer) *assignmentExpiryJob {
	t.Helper()

	job, err := NewAssignmentExpiryJob(AssignmentExpiryJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "reaper-test"}),
		DB:            fakeTxRunner{},
		ExpiredReader: reader,
		Directory:     freer,
		RepoFactory: func(tx *gorm.DB) transactionalAssignmentRepo {
			return repo
		},
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	return job.(*assignmentExpiryJob)
}

func TestAssignmentExpiryJobReapsAndFreesInstallers(t *testing.T) {
	installerA := uuid.New()
	installerB := uuid.New()
	expired := expiredAssignment(installerA, installerB)

	repo := &fakeAssignmentRepo{assignments: map[uuid.UUID]*models.Assignment{
		expired.ID: &expired,
	}}
	freer := &fakeFreer{}
	job := newExpiryJobTest(t, &fakeExpiredReader{assignments: []models.Assignment{expired}}, repo, freer)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if expired.Status != enums.AssignmentStatusCompleted {
		t.Fatalf("expected assignment closed, got %q", expired.Status)
	}
	if len(freer.freed) != 2 {
		t.Fatalf("expected both installers freed, got %v", freer.freed)
	}
}

func TestAssignmentExpiryJobSkipsAlreadyClosed(t *testing.T) {
	closed := expiredAssignment(uuid.New())
	closed.Status = enums.AssignmentStatusCancelled

	repo := &fakeAssignmentRepo{assignments: map[uuid.UUID]*models.Assignment{
		closed.ID: &closed,
	}}
	freer := &fakeFreer{}
	// The scan raced a cancellation; the locked re-check must leave it alone.
	job := newExpiryJobTest(t, &fakeExpiredReader{assignments: []models.Assignment{closed}}, repo, freer)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.updated) != 0 {
		t.Fatal("closed assignment must not be transitioned again")
	}
	if len(freer.freed) != 0 {
		t.Fatal("no installers should be freed for a closed assignment")
	}
}

func TestAssignmentExpiryJobContinuesPastFailures(t *testing.T) {
	first := expiredAssignment(uuid.New())
	second := expiredAssignment(uuid.New())

	// Only the second assignment exists; the first fails under the lock.
	repo := &fakeAssignmentRepo{assignments: map[uuid.UUID]*models.Assignment{
		second.ID: &second,
	}}
	freer := &fakeFreer{}
	job := newExpiryJobTest(t, &fakeExpiredReader{assignments: []models.Assignment{first, second}}, repo, freer)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failed assignment to surface an error")
	}
	if second.Status != enums.AssignmentStatusCompleted {
		t.Fatalf("expected the healthy assignment still reaped, got %q", second.Status)
	}
}

func TestAssignmentExpiryJobPropagatesScanError(t *testing.T) {
	repo := &fakeAssignmentRepo{assignments: map[uuid.UUID]*models.Assignment{}}
	reader := &fakeExpiredReader{err: errors.New("db down")}
	job := newExpiryJobTest(t, reader, repo, &fakeFreer{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected scan error to propagate")
	}
}
