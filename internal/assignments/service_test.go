package assignments

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luminstall/fieldops-backend/pkg/db/models"
	"github.com/luminstall/fieldops-backend/pkg/enums"
	pkgerrors "github.com/luminstall/fieldops-backend/pkg/errors"
	"github.com/luminstall/fieldops-backend/pkg/logger"
	"github.com/luminstall/fieldops-backend/pkg/pagination"
	"github.com/luminstall/fieldops-backend/pkg/types"
)

type memoryRepo struct {
	assignments map[uuid.UUID]*models.Assignment
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{assignments: make(map[uuid.UUID]*models.Assignment)}
}

func (m *memoryRepo) WithTx(tx *gorm.DB) Repository { return m }

func (m *memoryRepo) CreateAssignment(ctx context.Context, assignment *models.Assignment) (*models.Assignment, error) {
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	for i := range assignment.Slots {
		assignment.Slots[i].AssignmentID = assignment.ID
	}
	stored := *assignment
	stored.Slots = append([]models.InstallerSlot(nil), assignment.Slots...)
	m.assignments[assignment.ID] = &stored
	return assignment, nil
}

func (m *memoryRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	stored, ok := m.assignments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	found := *stored
	found.Slots = append([]models.InstallerSlot(nil), stored.Slots...)
	return &found, nil
}

func (m *memoryRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	return m.FindByID(ctx, id)
}

func (m *memoryRepo) FindActiveSlotsForInstaller(ctx context.Context, installerID uuid.UUID, date types.Date) ([]models.InstallerSlot, error) {
	var slots []models.InstallerSlot
	for _, assignment := range m.assignments {
		if assignment.Status != enums.AssignmentStatusPlanned {
			continue
		}
		for _, slot := range assignment.Slots {
			if slot.InstallerID == installerID && slot.SlotDate.Equal(date.Time) {
				slots = append(slots, slot)
			}
		}
	}
	return slots, nil
}

func (m *memoryRepo) UpdateAssignment(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	stored, ok := m.assignments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if status, ok := updates["status"].(enums.AssignmentStatus); ok {
		stored.Status = status
	}
	if notes, ok := updates["notes"].(*string); ok {
		stored.Notes = notes
	}
	return nil
}

func (m *memoryRepo) ReplaceSlots(ctx context.Context, assignmentID uuid.UUID, slots []models.InstallerSlot) error {
	stored, ok := m.assignments[assignmentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	replaced := make([]models.InstallerSlot, len(slots))
	copy(replaced, slots)
	for i := range replaced {
		replaced[i].AssignmentID = assignmentID
	}
	stored.Slots = replaced
	return nil
}

func (m *memoryRepo) SaveSlotCompleted(ctx context.Context, assignmentID, installerID uuid.UUID, completed bool) error {
	stored, ok := m.assignments[assignmentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range stored.Slots {
		if stored.Slots[i].InstallerID == installerID {
			stored.Slots[i].Completed = completed
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *memoryRepo) FindExpired(ctx context.Context, asOf time.Time) ([]models.Assignment, error) {
	return nil, nil
}

func (m *memoryRepo) ListByInstaller(ctx context.Context, installerID uuid.UUID, params pagination.Params) (*AssignmentList, error) {
	return &AssignmentList{}, nil
}

func (m *memoryRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Assignment, error) {
	return nil, nil
}

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubGateway struct {
	status     enums.OrderStatus
	statusErr  error
	setErr     error
	setCalls   []enums.OrderStatus
	setOrderID uuid.UUID
}

func (s *stubGateway) GetOrderStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error) {
	if s.statusErr != nil {
		return "", s.statusErr
	}
	return s.status, nil
}

func (s *stubGateway) SetOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error {
	s.setCalls = append(s.setCalls, status)
	s.setOrderID = orderID
	return s.setErr
}

type stubDirectory struct {
	missing map[uuid.UUID]bool
	freed   []uuid.UUID
}

func (s *stubDirectory) GetInstaller(ctx context.Context, installerID uuid.UUID) (*models.Installer, error) {
	if s.missing[installerID] {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "installer not found")
	}
	return &models.Installer{ID: installerID, Availability: enums.InstallerAvailable}, nil
}

func (s *stubDirectory) SetAvailability(ctx context.Context, installerID uuid.UUID, availability enums.InstallerAvailability) error {
	if availability == enums.InstallerAvailable {
		s.freed = append(s.freed, installerID)
	}
	return nil
}

type serviceFixture struct {
	svc       Service
	repo      *memoryRepo
	gateway   *stubGateway
	directory *stubDirectory
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	repo := newMemoryRepo()
	gateway := &stubGateway{status: enums.OrderStatusReadyForScheduling}
	directory := &stubDirectory{missing: make(map[uuid.UUID]bool)}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	svc, err := NewService(repo, stubTx{}, gateway, directory, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &serviceFixture{svc: svc, repo: repo, gateway: gateway, directory: directory}
}

func timeOfDay(h, m int) *types.TimeOfDay {
	v := types.NewTimeOfDay(h, m)
	return &v
}

func expectCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}

func TestServiceCreateHappyPath(t *testing.T) {
	f := newServiceFixture(t)
	date := types.NewDate(2026, time.September, 14)
	installerID := uuid.New()

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: installerID,
			Date:        date,
			StartTime:   timeOfDay(8, 0),
			EndTime:     timeOfDay(12, 0),
		}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != enums.AssignmentStatusPlanned {
		t.Fatalf("unexpected status %q", created.Status)
	}
	if len(f.gateway.setCalls) != 1 || f.gateway.setCalls[0] != enums.OrderStatusScheduled {
		t.Fatalf("expected order marked scheduled, got %v", f.gateway.setCalls)
	}
}

func TestServiceCreateDefaultsMissingTimes(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: uuid.New(),
			Date:        types.NewDate(2026, time.September, 14),
		}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Slots[0].StartTime != types.NewTimeOfDay(8, 0) || created.Slots[0].EndTime != types.NewTimeOfDay(12, 0) {
		t.Fatalf("expected morning default, got %s-%s", created.Slots[0].StartTime, created.Slots[0].EndTime)
	}
}

func TestServiceCreateNormalizesLegacyFullDay(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: uuid.New(),
			Date:        types.NewDate(2026, time.September, 14),
			StartTime:   timeOfDay(8, 0),
			EndTime:     timeOfDay(17, 0),
		}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Slots[0].EndTime != types.NewTimeOfDay(12, 0) {
		t.Fatalf("expected legacy pair normalized to morning, got end %s", created.Slots[0].EndTime)
	}
}

func TestServiceCreateRejectsLunchOverlap(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: uuid.New(),
			Date:        types.NewDate(2026, time.September, 14),
			StartTime:   timeOfDay(11, 0),
			EndTime:     timeOfDay(15, 0),
		}},
	})
	expectCode(t, err, pkgerrors.CodeValidation)
}

func TestServiceCreateRejectsLoneTime(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: uuid.New(),
			Date:        types.NewDate(2026, time.September, 14),
			StartTime:   timeOfDay(8, 0),
		}},
	})
	expectCode(t, err, pkgerrors.CodeValidation)
}

func TestServiceCreateOrderNotReady(t *testing.T) {
	f := newServiceFixture(t)
	f.gateway.status = enums.OrderStatusScheduled

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: uuid.New(),
			Date:        types.NewDate(2026, time.September, 14),
		}},
	})
	expectCode(t, err, pkgerrors.CodeOrderState)
	if len(f.repo.assignments) != 0 {
		t.Fatal("nothing should be persisted when the order is not ready")
	}
}

func TestServiceCreateUnknownInstaller(t *testing.T) {
	f := newServiceFixture(t)
	installerID := uuid.New()
	f.directory.missing[installerID] = true

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: installerID,
			Date:        types.NewDate(2026, time.September, 14),
		}},
	})
	expectCode(t, err, pkgerrors.CodeNotFound)
}

func TestServiceCreateSlotConflict(t *testing.T) {
	f := newServiceFixture(t)
	installerID := uuid.New()
	date := types.NewDate(2026, time.September, 15)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: installerID,
			Date:        date,
			StartTime:   timeOfDay(8, 0),
			EndTime:     timeOfDay(12, 0),
		}},
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: installerID,
			Date:        date,
			StartTime:   timeOfDay(9, 0),
			EndTime:     timeOfDay(11, 0),
		}},
	})
	expectCode(t, err, pkgerrors.CodeConflict)
}

func TestServiceCreateAllowsSlotFreedByCancellation(t *testing.T) {
	f := newServiceFixture(t)
	installerID := uuid.New()
	date := types.NewDate(2026, time.September, 16)
	input := CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: installerID,
			Date:        date,
			StartTime:   timeOfDay(8, 0),
			EndTime:     timeOfDay(12, 0),
		}},
	}

	first, err := f.svc.Create(context.Background(), input)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.svc.UpdateStatus(context.Background(), first.ID, enums.AssignmentStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	input.OrderID = uuid.New()
	if _, err := f.svc.Create(context.Background(), input); err != nil {
		t.Fatalf("expected cancelled slot to be reusable, got %v", err)
	}
}

func TestServiceCreateBackToBackSlots(t *testing.T) {
	f := newServiceFixture(t)
	installerID := uuid.New()
	date := types.NewDate(2026, time.September, 17)

	_, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: installerID,
			Date:        date,
			StartTime:   timeOfDay(8, 0),
			EndTime:     timeOfDay(10, 0),
		}},
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	// [8,10) and [10,12) touch but do not overlap.
	_, err = f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{{
			InstallerID: installerID,
			Date:        date,
			StartTime:   timeOfDay(10, 0),
			EndTime:     timeOfDay(12, 0),
		}},
	})
	if err != nil {
		t.Fatalf("back to back slots should not conflict: %v", err)
	}
}

func TestServiceUpdateKeepsCompletionForKeptInstallers(t *testing.T) {
	f := newServiceFixture(t)
	keptID := uuid.New()
	droppedID := uuid.New()
	date := types.NewDate(2026, time.September, 18)

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{
			{InstallerID: keptID, Date: date, StartTime: timeOfDay(8, 0), EndTime: timeOfDay(12, 0)},
			{InstallerID: droppedID, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.ReportInstallerCompletion(context.Background(), created.ID, keptID); err != nil {
		t.Fatalf("report completion: %v", err)
	}

	updated, err := f.svc.Update(context.Background(), UpdateInput{
		AssignmentID: created.ID,
		Slots: []SlotRequest{
			{InstallerID: keptID, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Slots) != 1 || !updated.Slots[0].Completed {
		t.Fatalf("kept installer should retain completion, got %+v", updated.Slots)
	}
}

// staleReadRepo serves an outdated snapshot from FindByID while LockForUpdate
// keeps returning live data, the way an unlocked read can trail a concurrent
// committed completion report.
type staleReadRepo struct {
	*memoryRepo
	stale *models.Assignment
}

func (s *staleReadRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *staleReadRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Assignment, error) {
	if s.stale != nil && s.stale.ID == id {
		found := *s.stale
		found.Slots = append([]models.InstallerSlot(nil), s.stale.Slots...)
		return &found, nil
	}
	return s.memoryRepo.FindByID(ctx, id)
}

func TestServiceUpdateReadsCompletionUnderLock(t *testing.T) {
	repo := &staleReadRepo{memoryRepo: newMemoryRepo()}
	gateway := &stubGateway{status: enums.OrderStatusReadyForScheduling}
	directory := &stubDirectory{missing: make(map[uuid.UUID]bool)}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	svc, err := NewService(repo, stubTx{}, gateway, directory, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	morningID := uuid.New()
	afternoonID := uuid.New()
	date := types.NewDate(2026, time.September, 26)
	created, err := svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{
			{InstallerID: morningID, Date: date, StartTime: timeOfDay(8, 0), EndTime: timeOfDay(12, 0)},
			{InstallerID: afternoonID, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Freeze the pre-completion state as the unlocked-read answer, then let
	// a completion report commit.
	snapshot, err := repo.memoryRepo.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	repo.stale = snapshot
	if _, err := svc.ReportInstallerCompletion(context.Background(), created.ID, morningID); err != nil {
		t.Fatalf("report completion: %v", err)
	}

	updated, err := svc.Update(context.Background(), UpdateInput{
		AssignmentID: created.ID,
		Slots: []SlotRequest{
			{InstallerID: morningID, Date: date, StartTime: timeOfDay(8, 0), EndTime: timeOfDay(12, 0)},
			{InstallerID: afternoonID, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	var morningCompleted bool
	for _, slot := range updated.Slots {
		if slot.InstallerID == morningID {
			morningCompleted = slot.Completed
		}
	}
	if !morningCompleted {
		t.Fatalf("completion recorded concurrently must survive the update, got %+v", updated.Slots)
	}
}

func TestServiceUpdateRejectsTerminalAssignment(t *testing.T) {
	f := newServiceFixture(t)
	installerID := uuid.New()
	date := types.NewDate(2026, time.September, 19)

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots:   []SlotRequest{{InstallerID: installerID, Date: date}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.UpdateStatus(context.Background(), created.ID, enums.AssignmentStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err = f.svc.Update(context.Background(), UpdateInput{
		AssignmentID: created.ID,
		Slots:        []SlotRequest{{InstallerID: installerID, Date: date}},
	})
	expectCode(t, err, pkgerrors.CodeStateConflict)
}

func TestServiceUpdateStatusRejectsPlanned(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.UpdateStatus(context.Background(), uuid.New(), enums.AssignmentStatusPlanned)
	expectCode(t, err, pkgerrors.CodeValidation)
}

func TestServiceUpdateStatusMirrorsOrder(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots:   []SlotRequest{{InstallerID: uuid.New(), Date: types.NewDate(2026, time.September, 20)}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.gateway.setCalls = nil

	if _, err := f.svc.UpdateStatus(context.Background(), created.ID, enums.AssignmentStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.gateway.setCalls) != 1 || f.gateway.setCalls[0] != enums.OrderStatusCancelled {
		t.Fatalf("expected order cancelled mirror, got %v", f.gateway.setCalls)
	}

	// Second terminal transition is rejected.
	_, err = f.svc.UpdateStatus(context.Background(), created.ID, enums.AssignmentStatusCompleted)
	expectCode(t, err, pkgerrors.CodeStateConflict)
}

func TestServiceSingleInstallerCompletion(t *testing.T) {
	f := newServiceFixture(t)
	installerID := uuid.New()

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots:   []SlotRequest{{InstallerID: installerID, Date: types.NewDate(2026, time.September, 21)}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.gateway.setCalls = nil

	done, err := f.svc.ReportInstallerCompletion(context.Background(), created.ID, installerID)
	if err != nil {
		t.Fatalf("report completion: %v", err)
	}
	if !done {
		t.Fatal("single installer should close the assignment")
	}
	if len(f.gateway.setCalls) != 1 || f.gateway.setCalls[0] != enums.OrderStatusInstallationDone {
		t.Fatalf("expected installation_done mirror, got %v", f.gateway.setCalls)
	}
	if len(f.directory.freed) != 1 || f.directory.freed[0] != installerID {
		t.Fatalf("expected installer freed, got %v", f.directory.freed)
	}
}

func TestServiceMultiInstallerCompletionOrder(t *testing.T) {
	f := newServiceFixture(t)
	morningID := uuid.New()
	afternoonID := uuid.New()
	date := types.NewDate(2026, time.September, 22)

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{
			{InstallerID: morningID, Date: date, StartTime: timeOfDay(8, 0), EndTime: timeOfDay(12, 0)},
			{InstallerID: afternoonID, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.gateway.setCalls = nil

	// The afternoon installer reports first; the morning slot is still open.
	done, err := f.svc.ReportInstallerCompletion(context.Background(), created.ID, afternoonID)
	if err != nil {
		t.Fatalf("afternoon report: %v", err)
	}
	if done {
		t.Fatal("assignment must stay planned while the morning slot is open")
	}
	if len(f.gateway.setCalls) != 0 {
		t.Fatalf("no order transition expected yet, got %v", f.gateway.setCalls)
	}

	done, err = f.svc.ReportInstallerCompletion(context.Background(), created.ID, morningID)
	if err != nil {
		t.Fatalf("morning report: %v", err)
	}
	if done {
		t.Fatal("the morning installer does not hold the last slot")
	}

	// The last-slot holder replays after everyone else finished.
	done, err = f.svc.ReportInstallerCompletion(context.Background(), created.ID, afternoonID)
	if err != nil {
		t.Fatalf("afternoon replay: %v", err)
	}
	if !done {
		t.Fatal("replayed last-slot report should close the assignment")
	}
	if len(f.directory.freed) != 2 {
		t.Fatalf("expected both installers freed, got %v", f.directory.freed)
	}
}

func TestServiceSameMomentPairCompletion(t *testing.T) {
	// Two installers sharing the exact (date, startTime) both belong to the
	// last slot group: whichever of them reports second closes the
	// assignment, regardless of how the installer-id tie break orders them.
	setup := func(t *testing.T) (*serviceFixture, uuid.UUID, uuid.UUID, uuid.UUID) {
		t.Helper()
		f := newServiceFixture(t)
		installerA := uuid.New()
		installerB := uuid.New()
		date := types.NewDate(2026, time.September, 23)

		created, err := f.svc.Create(context.Background(), CreateInput{
			OrderID: uuid.New(),
			Slots: []SlotRequest{
				{InstallerID: installerA, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
				{InstallerID: installerB, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
			},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		tieBreakMax := installerA
		peer := installerB
		if installerB.String() > installerA.String() {
			tieBreakMax = installerB
			peer = installerA
		}
		return f, created.ID, tieBreakMax, peer
	}

	run := func(t *testing.T, f *serviceFixture, assignmentID, first, second uuid.UUID) {
		t.Helper()
		done, err := f.svc.ReportInstallerCompletion(context.Background(), assignmentID, first)
		if err != nil {
			t.Fatalf("first report: %v", err)
		}
		if done {
			t.Fatal("assignment must wait for the peer sharing the same start")
		}

		done, err = f.svc.ReportInstallerCompletion(context.Background(), assignmentID, second)
		if err != nil {
			t.Fatalf("second report: %v", err)
		}
		if !done {
			t.Fatal("the second tied report should close the assignment")
		}
		if len(f.directory.freed) != 2 {
			t.Fatalf("expected both installers freed, got %v", f.directory.freed)
		}
	}

	t.Run("tie-break holder first", func(t *testing.T) {
		f, assignmentID, tieBreakMax, peer := setup(t)
		run(t, f, assignmentID, tieBreakMax, peer)
	})

	t.Run("peer first", func(t *testing.T) {
		f, assignmentID, tieBreakMax, peer := setup(t)
		run(t, f, assignmentID, peer, tieBreakMax)
	})
}

// serialTx models the exclusive row lock: each transaction runs alone, the
// way LockForUpdate serializes writers on one assignment in postgres.
type serialTx struct {
	mu sync.Mutex
}

func (s *serialTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(nil)
}

func TestServiceConcurrentCompletionReports(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &stubGateway{status: enums.OrderStatusReadyForScheduling}
	directory := &stubDirectory{missing: make(map[uuid.UUID]bool)}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	svc, err := NewService(repo, &serialTx{}, gateway, directory, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	installerA := uuid.New()
	installerB := uuid.New()
	date := types.NewDate(2026, time.September, 29)

	created, err := svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{
			{InstallerID: installerA, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
			{InstallerID: installerB, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	installers := []uuid.UUID{installerA, installerB}
	results := make([]bool, len(installers))
	errs := make([]error, len(installers))

	var wg sync.WaitGroup
	for i, installerID := range installers {
		wg.Add(1)
		go func(i int, installerID uuid.UUID) {
			defer wg.Done()
			results[i], errs[i] = svc.ReportInstallerCompletion(context.Background(), created.ID, installerID)
		}(i, installerID)
	}
	wg.Wait()

	closed := 0
	for i := range installers {
		if errs[i] != nil {
			t.Fatalf("report %d: %v", i, errs[i])
		}
		if results[i] {
			closed++
		}
	}
	if closed != 1 {
		t.Fatalf("expected exactly one closing report, got %d", closed)
	}

	stored, err := svc.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != enums.AssignmentStatusCompleted {
		t.Fatalf("expected completed assignment, got %q", stored.Status)
	}
	if len(directory.freed) != 2 {
		t.Fatalf("expected both installers freed, got %v", directory.freed)
	}
}

func TestServiceCompletionIdempotentAfterClose(t *testing.T) {
	f := newServiceFixture(t)
	installerID := uuid.New()

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots:   []SlotRequest{{InstallerID: installerID, Date: types.NewDate(2026, time.September, 24)}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.ReportInstallerCompletion(context.Background(), created.ID, installerID); err != nil {
		t.Fatalf("first report: %v", err)
	}
	f.gateway.setCalls = nil
	f.directory.freed = nil

	done, err := f.svc.ReportInstallerCompletion(context.Background(), created.ID, installerID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !done {
		t.Fatal("replay against a completed assignment should still report done")
	}
	if len(f.gateway.setCalls) != 0 || len(f.directory.freed) != 0 {
		t.Fatal("replay must not re-notify collaborators")
	}
}

func TestServiceCompletionUnknownInstaller(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots:   []SlotRequest{{InstallerID: uuid.New(), Date: types.NewDate(2026, time.September, 25)}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.svc.ReportInstallerCompletion(context.Background(), created.ID, uuid.New())
	expectCode(t, err, pkgerrors.CodeNotFound)
}

func TestServiceIsLastInstaller(t *testing.T) {
	f := newServiceFixture(t)
	morningID := uuid.New()
	afternoonID := uuid.New()
	date := types.NewDate(2026, time.September, 28)

	created, err := f.svc.Create(context.Background(), CreateInput{
		OrderID: uuid.New(),
		Slots: []SlotRequest{
			{InstallerID: morningID, Date: date, StartTime: timeOfDay(8, 0), EndTime: timeOfDay(12, 0)},
			{InstallerID: afternoonID, Date: date, StartTime: timeOfDay(14, 0), EndTime: timeOfDay(18, 0)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	isLast, err := f.svc.IsLastInstaller(context.Background(), created.ID, afternoonID)
	if err != nil {
		t.Fatalf("is last: %v", err)
	}
	if !isLast {
		t.Fatal("afternoon installer holds the last open slot")
	}

	isLast, err = f.svc.IsLastInstaller(context.Background(), created.ID, morningID)
	if err != nil {
		t.Fatalf("is last: %v", err)
	}
	if isLast {
		t.Fatal("morning installer does not hold the last open slot")
	}

	// Once the afternoon slot is done, the morning installer becomes last.
	if _, err := f.svc.ReportInstallerCompletion(context.Background(), created.ID, afternoonID); err != nil {
		t.Fatalf("report: %v", err)
	}
	isLast, err = f.svc.IsLastInstaller(context.Background(), created.ID, morningID)
	if err != nil {
		t.Fatalf("is last: %v", err)
	}
	if !isLast {
		t.Fatal("morning installer should be last once the afternoon slot closed")
	}
}
