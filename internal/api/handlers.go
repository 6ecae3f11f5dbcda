package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

// AppointmentService is the system of record behind the HTTP surface.
type AppointmentService interface {
	appointment.Store
	Get(ctx context.Context, id string) (*appointment.Appointment, error)
}

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var d appointment.Draft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, "could not parse JSON")
			return
		}

		appt, err := svc.Create(r.Context(), d)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, appt)
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := filterFromQuery(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		list, err := svc.List(r.Context(), f)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if list == nil {
			list = []appointment.Appointment{}
		}

		writeJSON(w, http.StatusOK, ListResponse{Appointments: list, Count: len(list)})
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func updateAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p appointment.Patch
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, "could not parse JSON")
			return
		}

		appt, err := svc.Update(r.Context(), chi.URLParam(r, "id"), p)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func deleteAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func availabilityHandler(checker *appointment.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cand, err := candidateFromQuery(r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		hit, err := checker.FindConflict(r.Context(), cand)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := AvailabilityResponse{
			DoctorID:  cand.DoctorID,
			Date:      cand.Date,
			Time:      cand.Start,
			Duration:  cand.Duration,
			Available: hit == nil,
		}
		if hit != nil {
			resp.ConflictID = hit.ID
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func filterFromQuery(r *http.Request) (appointment.Filter, error) {
	q := r.URL.Query()
	f := appointment.Filter{
		DoctorID:  q.Get("doctor_id"),
		Date:      slot.Date(q.Get("date")),
		PatientID: q.Get("patient_id"),
		Status:    appointment.Status(q.Get("status")),
	}

	var fields []string
	if f.Date != "" && !f.Date.Valid() {
		fields = append(fields, "date must be YYYY-MM-DD")
	}
	if f.Status != "" && !f.Status.Valid() {
		fields = append(fields, "status is not a valid status")
	}
	if len(fields) > 0 {
		return f, &appointment.ValidationError{Fields: fields}
	}
	return f, nil
}

func candidateFromQuery(r *http.Request) (appointment.Candidate, error) {
	q := r.URL.Query()
	cand := appointment.Candidate{
		DoctorID:  q.Get("doctor_id"),
		Date:      slot.Date(q.Get("date")),
		ExcludeID: q.Get("exclude_id"),
	}

	var fields []string
	start, err := slot.ParseTimeOfDay(q.Get("time"))
	if err != nil {
		fields = append(fields, "time must be a valid HH:MM time of day")
	}
	cand.Start = start

	duration, err := strconv.Atoi(q.Get("duration"))
	if err != nil {
		fields = append(fields, "duration must be a whole number of minutes")
	}
	cand.Duration = duration

	if len(fields) > 0 {
		return cand, &appointment.ValidationError{Fields: fields}
	}
	return cand, cand.Validate()
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *appointment.ValidationError
	var ce *appointment.ConflictError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   CodeValidation,
			Details: err.Error(),
			Fields:  ve.Fields,
		})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   CodeConflict,
			Details: err.Error(),
			Conflict: &ConflictDetail{
				DoctorID:   ce.DoctorID,
				Date:       ce.Date,
				Time:       ce.Time,
				Duration:   ce.Duration,
				ExistingID: ce.ExistingID,
			},
		})
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, CodeSlotBeingBooked, "the doctor's day is being booked, please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "the appointment store failed")
	}
}
