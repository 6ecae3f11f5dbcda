package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

// Checker decides whether a doctor can take a new booking. It is a pre-flight
// check only: two writers may both pass it, and the store must reject the
// loser with a ConflictError.
type Checker struct {
	src Lister
}

func NewChecker(src Lister) *Checker {
	return &Checker{src: src}
}

// Candidate is a proposed slot for one doctor on one day.
type Candidate struct {
	DoctorID  string
	Date      slot.Date
	Start     slot.TimeOfDay
	Duration  int
	ExcludeID string // the appointment being rescheduled, if any
}

func (c Candidate) Validate() error {
	var fields []string
	if strings.TrimSpace(c.DoctorID) == "" {
		fields = append(fields, "doctor_id is required")
	}
	if !c.Date.Valid() {
		fields = append(fields, "date must be YYYY-MM-DD")
	}
	if !c.Start.Valid() {
		fields = append(fields, "time must be a valid HH:MM time of day")
	}
	if !slot.ValidDuration(c.Duration) {
		fields = append(fields, fmt.Sprintf("duration must be between 1 and %d minutes", slot.MaxDuration))
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// CheckAvailability returns true when no slot-blocking appointment of the
// doctor on that date overlaps [start, start+duration).
func (c *Checker) CheckAvailability(ctx context.Context, doctorID string, date slot.Date, start slot.TimeOfDay, duration int, excludeID string) (bool, error) {
	conflict, err := c.FindConflict(ctx, Candidate{
		DoctorID:  doctorID,
		Date:      date,
		Start:     start,
		Duration:  duration,
		ExcludeID: excludeID,
	})
	if err != nil {
		return false, err
	}
	return conflict == nil, nil
}

// FindConflict returns the first existing appointment overlapping the
// candidate, or nil. A failed read is reported, never treated as "free".
func (c *Checker) FindConflict(ctx context.Context, cand Candidate) (*Appointment, error) {
	if err := cand.Validate(); err != nil {
		return nil, err
	}

	existing, err := c.src.List(ctx, ForDoctorDay(cand.DoctorID, cand.Date))
	if err != nil {
		return nil, AsStorage("list", err)
	}

	return FindOverlap(existing, cand)
}

// FindOverlap scans existing for the first appointment that blocks the candidate.
func FindOverlap(existing []Appointment, cand Candidate) (*Appointment, error) {
	want, err := slot.NewInterval(cand.Start, cand.Duration)
	if err != nil {
		return nil, &ValidationError{Fields: []string{err.Error()}}
	}

	for i := range existing {
		a := existing[i]
		if a.DoctorID != cand.DoctorID || a.Date != cand.Date {
			continue
		}
		if cand.ExcludeID != "" && a.ID == cand.ExcludeID {
			continue
		}
		if !a.Status.BlocksSlot() {
			continue
		}
		have, err := a.Interval()
		if err != nil {
			// malformed rows cannot block anything
			continue
		}
		if want.Overlaps(have) {
			return &a, nil
		}
	}
	return nil, nil
}

// Conflict builds the ConflictError describing cand losing to existing.
func (cand Candidate) Conflict(existing *Appointment) *ConflictError {
	ce := &ConflictError{
		DoctorID: cand.DoctorID,
		Date:     cand.Date,
		Time:     cand.Start,
		Duration: cand.Duration,
	}
	if existing != nil {
		ce.ExistingID = existing.ID
	}
	return ce
}

func CandidateFor(a Appointment) Candidate {
	return Candidate{
		DoctorID:  a.DoctorID,
		Date:      a.Date,
		Start:     a.Time,
		Duration:  a.Duration,
		ExcludeID: a.ID,
	}
}
