package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/luminstall/fieldops-backend/internal/assignments"
	"github.com/luminstall/fieldops-backend/pkg/db/models"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	"github.com/luminstall/fieldops-backend/pkg/logger"
	"github.com/luminstall/fieldops-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type expiredAssignmentReader interface {
	FindExpired(ctx context.Context, asOf time.Time) ([]models.Assignment, error)
}

type transactionalAssignmentRepo interface {
	LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Assignment, error)
	UpdateAssignment(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type transactionalRepoFactory func(tx *gorm.DB) transactionalAssignmentRepo

type installerFreer interface {
	SetAvailability(ctx context.Context, installerID uuid.UUID, availability enums.InstallerAvailability) error
}

// AssignmentExpiryJobParams configure the expiration reaper.
type AssignmentExpiryJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	ExpiredReader expiredAssignmentReader
	Directory     installerFreer
	Metrics       *metrics.CronJobMetrics
	RepoFactory   transactionalRepoFactory
}

func defaultTransactionalRepo(tx *gorm.DB) transactionalAssignmentRepo {
	return assignments.NewRepository(tx)
}

// NewAssignmentExpiryJob builds the job that closes planned assignments
// whose last slot has already ended.
func NewAssignmentExpiryJob(params AssignmentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.ExpiredReader == nil {
		return nil, fmt.Errorf("expired assignments reader required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("installer directory required")
	}
	repoFactory := params.RepoFactory
	if repoFactory == nil {
		repoFactory = defaultTransactionalRepo
	}
	return &assignmentExpiryJob{
		logg:          params.Logger,
		db:            params.DB,
		expiredReader: params.ExpiredReader,
		directory:     params.Directory,
		metrics:       params.Metrics,
		repoFactory:   repoFactory,
		now:           time.Now,
	}, nil
}

type assignmentExpiryJob struct {
	logg          *logger.Logger
	db            txRunner
	expiredReader expiredAssignmentReader
	directory     installerFreer
	metrics       *metrics.CronJobMetrics
	repoFactory   transactionalRepoFactory
	now           func() time.Time
}

func (j *assignmentExpiryJob) Name() string { return "assignment-expiry" }

// Run closes every planned assignment whose last slot ended before now and
// frees its installers. It deliberately leaves the order subsystem alone: a
// reaped assignment was abandoned, not confirmed done, so the order must not
// advance to installation_done.
func (j *assignmentExpiryJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	expired, err := j.expiredReader.FindExpired(ctx, asOf)
	if err != nil {
		return fmt.Errorf("query expired assignments: %w", err)
	}

	var errs []error
	reaped := 0
	for _, assignment := range expired {
		if err := j.reap(ctx, assignment); err != nil {
			errs = append(errs, fmt.Errorf("assignment %s: %w", assignment.ID, err))
			continue
		}
		reaped++
	}

	if reaped > 0 && j.metrics != nil {
		j.metrics.AddReaped(reaped)
	}
	logCtx := j.logg.WithField(ctx, "reaped", reaped)
	j.logg.Info(logCtx, "expired assignments closed")
	return multierr.Combine(errs...)
}

// reap closes a single assignment. The candidate list was read without a
// lock, so the planned status is re-checked under the row lock before the
// transition.
func (j *assignmentExpiryJob) reap(ctx context.Context, candidate models.Assignment) error {
	var freed []uuid.UUID

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.repoFactory(tx)
		current, err := repo.LockForUpdate(ctx, candidate.ID)
		if err != nil {
			return fmt.Errorf("lock assignment: %w", err)
		}
		if current.Status != enums.AssignmentStatusPlanned {
			// Someone closed it between the scan and the lock.
			return nil
		}
		if err := repo.UpdateAssignment(ctx, candidate.ID, map[string]any{
			"status": enums.AssignmentStatusCompleted,
		}); err != nil {
			return fmt.Errorf("close assignment: %w", err)
		}
		for _, slot := range current.Slots {
			freed = append(freed, slot.InstallerID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, installerID := range freed {
		if err := j.directory.SetAvailability(ctx, installerID, enums.InstallerAvailable); err != nil {
			warnCtx := j.logg.WithInstallerID(ctx, installerID.String())
			j.logg.Warn(warnCtx, fmt.Sprintf("failed to free installer: %v", err))
		}
	}
	return nil
}
