package appointment

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	return NewService(repo, redisclient.NewLocalLocker(), opts...), repo
}

func draftAt(doctor, at string, dur int) Draft {
	d := validDraft()
	d.DoctorID = doctor
	d.Time = slot.MustTime(at)
	d.Duration = dur
	return d
}

func TestServiceCreate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, draftAt("D1", "10:00", 30))
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.False(t, IsTemporaryID(a.ID))
	assert.Equal(t, StatusScheduled, a.Status)
	assert.False(t, a.CreatedAt.IsZero())

	events := repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
	assert.Equal(t, a.ID, events[0].AppointmentID)
}

func TestServiceCreateConflict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, draftAt("D1", "10:00", 30))
	require.NoError(t, err)

	_, err = svc.Create(ctx, draftAt("D1", "10:15", 30))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, first.ID, ce.ExistingID)

	_, err = svc.Create(ctx, draftAt("D1", "10:30", 30))
	assert.NoError(t, err, "back-to-back booking is allowed")

	_, err = svc.Create(ctx, draftAt("D2", "10:00", 30))
	assert.NoError(t, err, "other doctors are unaffected")
}

func TestServiceCreateValidation(t *testing.T) {
	svc, repo := newTestService(t)

	d := validDraft()
	d.Reason = ""
	_, err := svc.Create(context.Background(), d)
	assert.ErrorIs(t, err, ErrValidation)

	list, _ := repo.ListAppointments(context.Background(), Filter{})
	assert.Empty(t, list)
}

func TestServiceCreateRejectsOversizedDuration(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, draftAt("D1", "11:00", 30))
	require.NoError(t, err)

	_, err = svc.Create(ctx, draftAt("D1", "10:00", math.MaxInt-100))
	assert.ErrorIs(t, err, ErrValidation)

	live, err := repo.ListAppointments(ctx, ForDoctorDay("D1", day))
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestServiceCreateCancelledDraftDoesNotBlock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, draftAt("D1", "10:00", 30))
	require.NoError(t, err)

	d := draftAt("D1", "10:00", 30)
	d.Status = StatusCancelled
	_, err = svc.Create(ctx, d)
	assert.NoError(t, err)
}

func TestServiceConcurrentCreatesOneWinner(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	const writers = 16
	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(writers-1), conflicts)

	list, err := repo.ListAppointments(ctx, ForDoctorDay("D1", day))
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestServiceRescheduleExcludesSelf(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	require.NoError(t, err)
	_, err = svc.Create(ctx, draftAt("D1", "10:00", 30))
	require.NoError(t, err)

	same := ReschedulePatch(a.Date, a.Time, a.Duration)
	_, err = svc.Update(ctx, a.ID, same)
	assert.NoError(t, err, "rescheduling onto the same slot is not a conflict")

	longer := 45
	moved, err := svc.Update(ctx, a.ID, Patch{Duration: &longer})
	require.NoError(t, err)
	assert.Equal(t, 45, moved.Duration)

	tooLong := 75
	_, err = svc.Update(ctx, a.ID, Patch{Duration: &tooLong})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestServiceCancellationFreesSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	require.NoError(t, err)

	_, err = svc.Update(ctx, a.ID, StatusPatch(StatusCancelled))
	require.NoError(t, err)

	b, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	require.NoError(t, err)

	// reactivating the cancelled appointment now collides with b
	_, err = svc.Update(ctx, a.ID, StatusPatch(StatusScheduled))
	require.Error(t, err)
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, b.ID, ce.ExistingID)
}

func TestServiceGuardedPolicy(t *testing.T) {
	svc, _ := newTestService(t, WithPolicy(PolicyGuarded))
	ctx := context.Background()

	a, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	require.NoError(t, err)

	_, err = svc.Update(ctx, a.ID, StatusPatch(StatusCompleted))
	require.NoError(t, err)

	_, err = svc.Update(ctx, a.ID, StatusPatch(StatusScheduled))
	assert.ErrorIs(t, err, ErrValidation, "terminal appointments cannot reopen under the guarded policy")
}

func TestServiceUpdateAndDeleteNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, "missing", StatusPatch(StatusConfirmed))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(ctx, NewTempID(), StatusPatch(StatusConfirmed))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, "missing"), ErrNotFound)
}

func TestServiceDeleteIsIdempotentInEffect(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, a.ID))
	assert.ErrorIs(t, svc.Delete(ctx, a.ID), ErrNotFound)

	list, err := repo.ListAppointments(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestServiceStatusChangeEvents(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	require.NoError(t, err)
	_, err = svc.Update(ctx, a.ID, StatusPatch(StatusConfirmed))
	require.NoError(t, err)

	events := repo.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventAppointmentStatusChanged, events[1].EventType)
	assert.JSONEq(t, `{"from":"scheduled","to":"confirmed"}`, string(events[1].Payload))
}

func TestServiceMarkNoShows(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	past, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	require.NoError(t, err)
	recent, err := svc.Create(ctx, draftAt("D1", "11:30", 20))
	require.NoError(t, err)
	later, err := svc.Create(ctx, draftAt("D1", "15:00", 30))
	require.NoError(t, err)
	done, err := svc.Create(ctx, draftAt("D2", "08:00", 30))
	require.NoError(t, err)
	_, err = svc.Update(ctx, done.ID, StatusPatch(StatusCompleted))
	require.NoError(t, err)

	marked, err := svc.MarkNoShows(ctx, 15*time.Minute, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	got, _ := repo.GetAppointment(ctx, past.ID)
	assert.Equal(t, StatusNoShow, got.Status)
	got, _ = repo.GetAppointment(ctx, recent.ID)
	assert.Equal(t, StatusScheduled, got.Status, "still inside the grace period")
	got, _ = repo.GetAppointment(ctx, later.ID)
	assert.Equal(t, StatusScheduled, got.Status)
	got, _ = repo.GetAppointment(ctx, done.ID)
	assert.Equal(t, StatusCompleted, got.Status)
}

// racingRepo applies a status change right after the no-show sweep has read
// its candidates.
type racingRepo struct {
	*MemoryRepository
	afterFind func()
}

func (r *racingRepo) FindOpenThrough(ctx context.Context, through slot.Date) ([]Appointment, error) {
	out, err := r.MemoryRepository.FindOpenThrough(ctx, through)
	if r.afterFind != nil {
		r.afterFind()
	}
	return out, err
}

func TestServiceMarkNoShowsKeepsConcurrentCancel(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &racingRepo{MemoryRepository: NewMemoryRepository()}
	svc := NewService(repo, redisclient.NewLocalLocker(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	cancelled, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	require.NoError(t, err)
	missed, err := svc.Create(ctx, draftAt("D1", "10:00", 30))
	require.NoError(t, err)

	repo.afterFind = func() {
		_, err := svc.Update(ctx, cancelled.ID, StatusPatch(StatusCancelled))
		require.NoError(t, err)
	}

	marked, err := svc.MarkNoShows(ctx, 15*time.Minute, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	got, _ := repo.GetAppointment(ctx, cancelled.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	got, _ = repo.GetAppointment(ctx, missed.ID)
	assert.Equal(t, StatusNoShow, got.Status)
}

// failingRepo lets a test break individual repository calls.
type failingRepo struct {
	*MemoryRepository
	ListErr   error
	InsertErr error
}

func (r *failingRepo) ListAppointments(ctx context.Context, f Filter) ([]Appointment, error) {
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	return r.MemoryRepository.ListAppointments(ctx, f)
}

func (r *failingRepo) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if r.InsertErr != nil {
		return nil, r.InsertErr
	}
	return r.MemoryRepository.InsertAppointment(ctx, a)
}

func TestServiceStorageFailures(t *testing.T) {
	repo := &failingRepo{MemoryRepository: NewMemoryRepository()}
	m := metrics.NewCollector("test")
	svc := NewService(repo, redisclient.NewLocalLocker(), WithMetrics(m))
	ctx := context.Background()

	repo.ListErr = errors.New("connection refused")
	_, err := svc.Create(ctx, draftAt("D1", "09:00", 30))
	assert.ErrorIs(t, err, ErrStorage)

	_, err = svc.List(ctx, Filter{})
	assert.ErrorIs(t, err, ErrStorage)

	repo.ListErr = nil
	repo.InsertErr = errors.New("disk full")
	_, err = svc.Create(ctx, draftAt("D1", "09:00", 30))
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "disk full")
}

func TestServiceLockContention(t *testing.T) {
	locker := lockerFunc(func(context.Context, string, string, func(context.Context) error) error {
		return redisclient.ErrLockNotAcquired
	})
	svc := NewService(NewMemoryRepository(), locker)

	_, err := svc.Create(context.Background(), draftAt("D1", "09:00", 30))
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, redisclient.ErrLockNotAcquired)
}

type lockerFunc func(ctx context.Context, doctorID, date string, fn func(context.Context) error) error

func (f lockerFunc) WithDayLock(ctx context.Context, doctorID, date string, fn func(context.Context) error) error {
	return f(ctx, doctorID, date, fn)
}
