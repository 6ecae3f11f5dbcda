package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

func validDraft() Draft {
	return Draft{
		PatientID: "P1",
		DoctorID:  "D1",
		Date:      day,
		Time:      slot.MustTime("10:00"),
		Duration:  30,
		Reason:    "annual checkup",
	}
}

func TestDraftValidate(t *testing.T) {
	require.NoError(t, validDraft().Validate())

	d := validDraft()
	d.PatientID = ""
	d.DoctorID = " "
	d.Duration = 0
	d.Reason = ""
	d.Date = "June 1st"
	d.Status = "pending"

	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 6)

	d = validDraft()
	d.Duration = slot.MaxDuration + 1
	assert.ErrorIs(t, d.Validate(), ErrValidation)
	d.Duration = slot.MaxDuration
	assert.NoError(t, d.Validate())
}

func TestDraftAppointmentDefaultsToScheduled(t *testing.T) {
	now := time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)
	a := validDraft().Appointment("x", now)

	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, now, a.CreatedAt)
	assert.Equal(t, now, a.UpdatedAt)
	assert.Equal(t, "x", a.ID)
}

func TestPatchApplyAndValidate(t *testing.T) {
	assert.ErrorIs(t, Patch{}.Validate(), ErrValidation)

	zero := 0
	assert.ErrorIs(t, Patch{Duration: &zero}.Validate(), ErrValidation)
	huge := slot.MaxDuration + 1
	assert.ErrorIs(t, Patch{Duration: &huge}.Validate(), ErrValidation)
	blank := "  "
	assert.ErrorIs(t, Patch{Reason: &blank}.Validate(), ErrValidation)

	a := booked("a", "D1", day, "09:00", 30, StatusScheduled)
	before := a
	now := time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)

	p := ReschedulePatch("2024-06-03", slot.MustTime("11:00"), 45)
	notes := "bring lab results"
	p.Notes = &notes
	require.NoError(t, p.Validate())
	assert.True(t, p.Reschedules())

	p.Apply(&a, now)
	assert.Equal(t, slot.Date("2024-06-03"), a.Date)
	assert.Equal(t, slot.MustTime("11:00"), a.Time)
	assert.Equal(t, 45, a.Duration)
	assert.Equal(t, notes, a.Notes)
	assert.Equal(t, before.Status, a.Status)
	assert.Equal(t, before.Reason, a.Reason)
	assert.Equal(t, now, a.UpdatedAt)

	sp := StatusPatch(StatusConfirmed)
	assert.False(t, sp.Reschedules())
}

func TestEndsAt(t *testing.T) {
	a := booked("a", "D1", day, "23:30", 60, StatusScheduled)
	end, err := a.EndsAt(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 30, 0, 0, time.UTC), end)
}

func TestTemporaryIDs(t *testing.T) {
	id := NewTempID()
	assert.True(t, IsTemporaryID(id))
	assert.False(t, IsTemporaryID("5f0c3a6e-8a58-4c1b-9a3e-2f3b1c6d7e8f"))
}

func TestFilterAndSort(t *testing.T) {
	list := []Appointment{
		booked("c", "D1", "2024-06-02", "08:00", 30, StatusScheduled),
		booked("b", "D1", day, "10:00", 30, StatusCancelled),
		booked("a", "D2", day, "10:00", 30, StatusScheduled),
	}

	SortByStart(list)
	assert.Equal(t, []string{"a", "b", "c"}, ids(list))

	assert.Equal(t, []string{"b"}, ids(ForDoctorDay("D1", day).Apply(list)))
	assert.Equal(t, []string{"a"}, ids(ForPatient("p-a").Apply(list)))
	assert.Equal(t, []string{"b"}, ids(Filter{Status: StatusCancelled}.Apply(list)))
	assert.Len(t, Filter{}.Apply(list), 3)
}

func ids(list []Appointment) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}

func TestKindAndReason(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{&ValidationError{Fields: []string{"reason is required"}}, KindValidation},
		{&ConflictError{DoctorID: "D1", Date: day, Time: slot.MustTime("10:15"), Duration: 30}, KindConflict},
		{fmt.Errorf("load: %w", NotFound("x")), KindNotFound},
		{&StorageError{Op: "list", Err: errors.New("timeout")}, KindStorage},
		{errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, Kind(tt.err), tt.err.Error())
		assert.NotEmpty(t, Reason(tt.err))
	}
	assert.Empty(t, Kind(nil))
	assert.Contains(t, Reason(tests[0].err), "reason is required")
	assert.Contains(t, Reason(tests[1].err), "10:15")
}

func TestAsStorage(t *testing.T) {
	assert.Nil(t, AsStorage("list", nil))

	wrapped := AsStorage("list", errors.New("dial tcp: refused"))
	assert.ErrorIs(t, wrapped, ErrStorage)

	conflict := &ConflictError{DoctorID: "D1"}
	assert.Same(t, conflict, AsStorage("create", conflict))

	assert.ErrorIs(t, AsStorage("list", context.Canceled), context.Canceled)
	assert.NotErrorIs(t, AsStorage("list", context.Canceled), ErrStorage)
}
