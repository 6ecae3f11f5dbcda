package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventAppointmentNoShow        = "APPOINTMENT_NO_SHOW"
)

// Service is the write path of the system of record. It implements Store.
type Service struct {
	repo    Repository
	locker  redisclient.Locker
	checker *Checker
	policy  TransitionPolicy
	log     zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

var _ Store = (*Service)(nil)

type ServiceOption func(*Service)

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = l.With().Str("component", "appointment_service").Logger() }
}

func WithMetrics(m *metrics.Collector) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithPolicy(p TransitionPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		locker: locker,
		policy: PolicyPermissive,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	s.checker = NewChecker(repoLister{repo: repo})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type repoLister struct {
	repo Repository
}

func (l repoLister) List(ctx context.Context, f Filter) ([]Appointment, error) {
	return l.repo.ListAppointments(ctx, f)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Appointment, error) {
	list, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, AsStorage("list", err)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, AsStorage("get", err)
	}
	return a, nil
}

// Create books a new appointment. The doctor's day is locked while the
// overlap check and the insert run; the repository rejects whatever still
// slips through.
func (s *Service) Create(ctx context.Context, d Draft) (*Appointment, error) {
	if err := d.Validate(); err != nil {
		s.record("create", err)
		return nil, err
	}

	a := d.Appointment("", s.now())
	var created *Appointment

	err := s.locker.WithDayLock(ctx, a.DoctorID, string(a.Date), func(lockCtx context.Context) error {
		if a.Status.BlocksSlot() {
			cand := CandidateFor(a)
			hit, err := s.checker.FindConflict(lockCtx, cand)
			if err != nil {
				return err
			}
			if hit != nil {
				return cand.Conflict(hit)
			}
		}

		appt, err := s.repo.InsertAppointment(lockCtx, a)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"doctor_id":  appt.DoctorID,
			"patient_id": appt.PatientID,
			"date":       appt.Date,
			"time":       appt.Time.String(),
			"duration":   appt.Duration,
		})
		return nil
	})

	err = AsStorage("create", err)
	s.record("create", err)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("appointment_id", created.ID).Str("doctor_id", created.DoctorID).
		Str("date", string(created.Date)).Str("time", created.Time.String()).Msg("appointment created")
	return created, nil
}

// Update applies p to the appointment. Reschedules, and changes that make a
// cancelled appointment occupy its slot again, are re-checked against the
// doctor's day excluding the appointment itself.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Appointment, error) {
	updated, err := s.update(ctx, id, p)
	err = AsStorage("update", err)
	s.record("update", err)
	return updated, err
}

func (s *Service) update(ctx context.Context, id string, p Patch) (*Appointment, error) {
	if IsTemporaryID(id) {
		return nil, NotFound(id)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cur, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if p.Status != nil {
		if err := s.policy.Check(cur.Status, *p.Status); err != nil {
			return nil, err
		}
	}

	next := *cur
	p.Apply(&next, s.now())

	needsCheck := next.Status.BlocksSlot() && (p.Reschedules() || !cur.Status.BlocksSlot())

	var saved *Appointment
	save := func(ctx context.Context) error {
		if needsCheck {
			cand := CandidateFor(next)
			hit, err := s.checker.FindConflict(ctx, cand)
			if err != nil {
				return err
			}
			if hit != nil {
				return cand.Conflict(hit)
			}
		}

		out, err := s.repo.SaveAppointment(ctx, next)
		if err != nil {
			return fmt.Errorf("save appointment: %w", err)
		}
		saved = out
		return nil
	}

	if needsCheck {
		err = s.locker.WithDayLock(ctx, next.DoctorID, string(next.Date), save)
	} else {
		err = save(ctx)
	}
	if err != nil {
		return nil, err
	}

	if p.Status != nil && *p.Status != cur.Status {
		s.logEvent(ctx, saved.ID, EventAppointmentStatusChanged, map[string]any{
			"from": cur.Status,
			"to":   saved.Status,
		})
	}
	if p.Reschedules() || p.Reason != nil || p.Notes != nil {
		s.logEvent(ctx, saved.ID, EventAppointmentUpdated, map[string]any{
			"date":     saved.Date,
			"time":     saved.Time.String(),
			"duration": saved.Duration,
		})
	}

	return saved, nil
}

// Delete removes the appointment. Deleting an unknown id reports ErrNotFound
// and changes nothing, so repeating a delete is harmless.
func (s *Service) Delete(ctx context.Context, id string) error {
	var err error
	if IsTemporaryID(id) {
		err = NotFound(id)
	} else {
		err = s.repo.DeleteAppointment(ctx, id)
	}

	err = AsStorage("delete", err)
	s.record("delete", err)
	if err != nil {
		return err
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{})
	return nil
}

// MarkNoShows is intended to be called by the worker periodically. Scheduled
// or confirmed appointments that ended more than grace ago become no-show.
func (s *Service) MarkNoShows(ctx context.Context, grace time.Duration, loc *time.Location) (int, error) {
	now := s.now().In(loc)
	through := slot.Date(now.Format("2006-01-02"))

	candidates, err := s.repo.FindOpenThrough(ctx, through)
	if err != nil {
		return 0, AsStorage("find open appointments", err)
	}

	marked := 0
	for _, appt := range candidates {
		end, err := appt.EndsAt(loc)
		if err != nil {
			s.log.Warn().Err(err).Str("appointment_id", appt.ID).Msg("skipping appointment with invalid date")
			continue
		}
		if !end.Add(grace).Before(now) {
			continue
		}

		// the status is compared again at write time; a concurrent cancel wins
		if _, err := s.repo.MarkNoShow(ctx, appt.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			s.log.Error().Err(err).Str("appointment_id", appt.ID).Msg("failed to mark no-show")
			continue
		}

		marked++
		if s.metrics != nil {
			s.metrics.NoShowsMarked.Inc()
		}
		s.logEvent(ctx, appt.ID, EventAppointmentNoShow, map[string]any{
			"from":   appt.Status,
			"reason": "worker",
		})
	}

	return marked, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID string, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Str("appointment_id", appointmentID).Msg("failed to insert event log")
	}
}

func (s *Service) record(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
	}
	s.metrics.StoreWritesTotal.WithLabelValues(op, outcome).Inc()
}
