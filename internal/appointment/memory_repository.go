package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

// MemoryRepository keeps appointments in process. Writes are serialized by a
// mutex, which makes the overlap check and the write a single atomic step,
// the same guarantee the Postgres exclusion constraint gives.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]Appointment
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[string]Appointment),
		now:  time.Now,
	}
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f Filter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Appointment, 0, len(r.byID))
	for _, a := range r.byID {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	SortByStart(out)
	return out, nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, NotFound(id)
	}
	return &a, nil
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOverlapLocked(a, ""); err != nil {
		return nil, err
	}

	now := r.now()
	a.ID = uuid.NewString()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.byID[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) SaveAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[a.ID]
	if !ok {
		return nil, NotFound(a.ID)
	}
	if err := r.checkOverlapLocked(a, a.ID); err != nil {
		return nil, err
	}

	a.PatientID = cur.PatientID
	a.DoctorID = cur.DoctorID
	a.CreatedAt = cur.CreatedAt
	a.CreatedBy = cur.CreatedBy
	a.UpdatedAt = r.now()
	r.byID[a.ID] = a
	return &a, nil
}

func (r *MemoryRepository) DeleteAppointment(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return NotFound(id)
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) FindOpenThrough(_ context.Context, through slot.Date) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.byID {
		if a.Status != StatusScheduled && a.Status != StatusConfirmed {
			continue
		}
		if a.Date <= through {
			out = append(out, a)
		}
	}
	SortByStart(out)
	return out, nil
}

func (r *MemoryRepository) MarkNoShow(_ context.Context, id string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok || (a.Status != StatusScheduled && a.Status != StatusConfirmed) {
		return nil, NotFound(id)
	}
	a.Status = StatusNoShow
	a.UpdatedAt = r.now()
	r.byID[id] = a
	return &a, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) checkOverlapLocked(a Appointment, excludeID string) error {
	if !a.Status.BlocksSlot() {
		return nil
	}

	existing := make([]Appointment, 0, len(r.byID))
	for _, cur := range r.byID {
		existing = append(existing, cur)
	}
	SortByStart(existing)

	cand := CandidateFor(a)
	cand.ExcludeID = excludeID
	hit, err := FindOverlap(existing, cand)
	if err != nil {
		return err
	}
	if hit != nil {
		return cand.Conflict(hit)
	}
	return nil
}
