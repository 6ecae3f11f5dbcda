package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeInvalidBody     = "invalid_request_body"
	CodeValidation      = "validation_failed"
	CodeConflict        = "slot_conflict"
	CodeNotFound        = "appointment_not_found"
	CodeSlotBeingBooked = "slot_being_booked"
	CodeInternal        = "internal_error"
)

type ListResponse struct {
	Appointments []appointment.Appointment `json:"appointments"`
	Count        int                       `json:"count"`
}

type AvailabilityResponse struct {
	DoctorID   string         `json:"doctor_id"`
	Date       slot.Date      `json:"date"`
	Time       slot.TimeOfDay `json:"time"`
	Duration   int            `json:"duration"`
	Available  bool           `json:"available"`
	ConflictID string         `json:"conflict_id,omitempty"`
}

// ConflictDetail describes the booking that blocked a write.
type ConflictDetail struct {
	DoctorID   string         `json:"doctor_id"`
	Date       slot.Date      `json:"date"`
	Time       slot.TimeOfDay `json:"time"`
	Duration   int            `json:"duration"`
	ExistingID string         `json:"existing_id,omitempty"`
}

type ErrorResponse struct {
	Error    string          `json:"error"`
	Details  string          `json:"details,omitempty"`
	Fields   []string        `json:"fields,omitempty"`
	Conflict *ConflictDetail `json:"conflict,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
