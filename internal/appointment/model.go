package appointment

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

// TempIDPrefix marks ids synthesized by a client before the store assigned
// the canonical one.
const TempIDPrefix = "tmp-"

func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

type Appointment struct {
	ID        string         `json:"id"`
	PatientID string         `json:"patient_id"`
	DoctorID  string         `json:"doctor_id"`
	Date      slot.Date      `json:"date"`
	Time      slot.TimeOfDay `json:"time"`
	Duration  int            `json:"duration"`
	Status    Status         `json:"status"`
	Reason    string         `json:"reason"`
	Notes     string         `json:"notes,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	CreatedBy string         `json:"created_by,omitempty"`
}

// Interval returns the half-open [time, time+duration) range of the appointment.
func (a *Appointment) Interval() (slot.Interval, error) {
	return slot.NewInterval(a.Time, a.Duration)
}

// EndsAt is the wall clock end of the appointment in loc.
func (a *Appointment) EndsAt(loc *time.Location) (time.Time, error) {
	day, err := a.Date.In(loc)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(int(a.Time)+a.Duration) * time.Minute), nil
}

// Draft carries the caller supplied fields of a new appointment.
type Draft struct {
	PatientID string         `json:"patient_id"`
	DoctorID  string         `json:"doctor_id"`
	Date      slot.Date      `json:"date"`
	Time      slot.TimeOfDay `json:"time"`
	Duration  int            `json:"duration"`
	Status    Status         `json:"status,omitempty"`
	Reason    string         `json:"reason"`
	Notes     string         `json:"notes,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
}

func (d Draft) Validate() error {
	var fields []string
	if strings.TrimSpace(d.PatientID) == "" {
		fields = append(fields, "patient_id is required")
	}
	if strings.TrimSpace(d.DoctorID) == "" {
		fields = append(fields, "doctor_id is required")
	}
	if !d.Date.Valid() {
		fields = append(fields, "date must be YYYY-MM-DD")
	}
	if !d.Time.Valid() {
		fields = append(fields, "time must be a valid HH:MM time of day")
	}
	if !slot.ValidDuration(d.Duration) {
		fields = append(fields, fmt.Sprintf("duration must be between 1 and %d minutes", slot.MaxDuration))
	}
	if d.Status != "" && !d.Status.Valid() {
		fields = append(fields, fmt.Sprintf("status %q is not a valid status", d.Status))
	}
	if strings.TrimSpace(d.Reason) == "" {
		fields = append(fields, "reason is required")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Appointment builds the record the draft describes. Status defaults to scheduled.
func (d Draft) Appointment(id string, now time.Time) Appointment {
	status := d.Status
	if status == "" {
		status = StatusScheduled
	}
	return Appointment{
		ID:        id,
		PatientID: d.PatientID,
		DoctorID:  d.DoctorID,
		Date:      d.Date,
		Time:      d.Time,
		Duration:  d.Duration,
		Status:    status,
		Reason:    d.Reason,
		Notes:     d.Notes,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: d.CreatedBy,
	}
}

// Patch lists the fields of an update. Nil fields are left untouched.
type Patch struct {
	Date     *slot.Date      `json:"date,omitempty"`
	Time     *slot.TimeOfDay `json:"time,omitempty"`
	Duration *int            `json:"duration,omitempty"`
	Status   *Status         `json:"status,omitempty"`
	Reason   *string         `json:"reason,omitempty"`
	Notes    *string         `json:"notes,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Date == nil && p.Time == nil && p.Duration == nil &&
		p.Status == nil && p.Reason == nil && p.Notes == nil
}

// Reschedules reports whether the patch moves the appointment in time.
func (p Patch) Reschedules() bool {
	return p.Date != nil || p.Time != nil || p.Duration != nil
}

func (p Patch) Validate() error {
	var fields []string
	if p.Empty() {
		fields = append(fields, "at least one field must be updated")
	}
	if p.Date != nil && !p.Date.Valid() {
		fields = append(fields, "date must be YYYY-MM-DD")
	}
	if p.Time != nil && !p.Time.Valid() {
		fields = append(fields, "time must be a valid HH:MM time of day")
	}
	if p.Duration != nil && !slot.ValidDuration(*p.Duration) {
		fields = append(fields, fmt.Sprintf("duration must be between 1 and %d minutes", slot.MaxDuration))
	}
	if p.Status != nil && !p.Status.Valid() {
		fields = append(fields, fmt.Sprintf("status %q is not a valid status", *p.Status))
	}
	if p.Reason != nil && strings.TrimSpace(*p.Reason) == "" {
		fields = append(fields, "reason cannot be blank")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Apply merges the patch into a and bumps UpdatedAt.
func (p Patch) Apply(a *Appointment, now time.Time) {
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.Time != nil {
		a.Time = *p.Time
	}
	if p.Duration != nil {
		a.Duration = *p.Duration
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Reason != nil {
		a.Reason = *p.Reason
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
	a.UpdatedAt = now
}

// StatusPatch is shorthand for a patch that only changes the status.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

func ReschedulePatch(date slot.Date, at slot.TimeOfDay, duration int) Patch {
	return Patch{Date: &date, Time: &at, Duration: &duration}
}

// Filter narrows a List call. Zero fields match everything.
type Filter struct {
	DoctorID  string
	Date      slot.Date
	PatientID string
	Status    Status
}

func ForDoctorDay(doctorID string, date slot.Date) Filter {
	return Filter{DoctorID: doctorID, Date: date}
}

func ForPatient(patientID string) Filter {
	return Filter{PatientID: patientID}
}

func (f Filter) Matches(a Appointment) bool {
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

func (f Filter) Apply(in []Appointment) []Appointment {
	out := make([]Appointment, 0, len(in))
	for _, a := range in {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// SortByStart orders appointments by date, time, then id.
func SortByStart(list []Appointment) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date < list[j].Date
		}
		if list[i].Time != list[j].Time {
			return list[i].Time < list[j].Time
		}
		return list[i].ID < list[j].ID
	})
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID string
	Payload       []byte
	CreatedAt     time.Time
}
