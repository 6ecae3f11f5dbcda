package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

const (
	pgExclusionViolation = "23P01"
	pgCheckViolation     = "23514"
)

const appointmentColumns = `id::text, patient_id, doctor_id, appt_date, start_minute, duration_minutes,
	status, reason, notes, created_by, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var day time.Time
	var start int

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&day,
		&start,
		&a.Duration,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Date = slot.Date(day.Format("2006-01-02"))
	a.Time = slot.TimeOfDay(start)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// translateWriteError maps constraint violations onto the error taxonomy.
func translateWriteError(a Appointment, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return CandidateFor(a).Conflict(nil)
		case pgCheckViolation:
			return &ValidationError{Fields: []string{pgErr.ConstraintName + " violated"}}
		}
	}
	return err
}

func parseID(id string) (uuid.UUID, bool) {
	u, err := uuid.Parse(id)
	return u, err == nil
}

// Interface methods

func (r *PgRepository) ListAppointments(ctx context.Context, f Filter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.Date != "" {
		add("appt_date = $%d::date", string(f.Date))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := "SELECT " + appointmentColumns + " FROM appointments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY appt_date, start_minute, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, NotFound(id)
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, uid)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFound(id)
	}
	return a, err
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appt_date, start_minute, duration_minutes,
		                          status, reason, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.DoctorID, string(a.Date), int(a.Time), a.Duration,
		string(a.Status), a.Reason, a.Notes, a.CreatedBy)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, translateWriteError(a, err)
	}
	return created, nil
}

func (r *PgRepository) SaveAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	uid, ok := parseID(a.ID)
	if !ok {
		return nil, NotFound(a.ID)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET appt_date = $2::date,
		    start_minute = $3,
		    duration_minutes = $4,
		    status = $5,
		    reason = $6,
		    notes = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		uid, string(a.Date), int(a.Time), a.Duration, string(a.Status), a.Reason, a.Notes)

	saved, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NotFound(a.ID)
		}
		return nil, translateWriteError(a, err)
	}
	return saved, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id string) error {
	uid, ok := parseID(id)
	if !ok {
		return NotFound(id)
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound(id)
	}
	return nil
}

func (r *PgRepository) FindOpenThrough(ctx context.Context, through slot.Date) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND appt_date <= $1::date
		ORDER BY appt_date, start_minute
	`, string(through))
	if err != nil {
		return nil, fmt.Errorf("find open appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) MarkNoShow(ctx context.Context, id string) (*Appointment, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, NotFound(id)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'no-show',
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns, uid)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFound(id)
	}
	return a, err
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if uid, ok := parseID(ev.AppointmentID); ok {
		appID = &uid
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
