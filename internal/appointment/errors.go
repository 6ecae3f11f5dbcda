package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("slot is not available")
	ErrNotFound   = errors.New("appointment not found")
	ErrStorage    = errors.New("appointment store unavailable")
)

// ValidationError lists every field that failed local validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports that the requested slot overlaps an existing booking.
// ExistingID is empty when the store did not say which booking won.
type ConflictError struct {
	DoctorID   string
	Date       slot.Date
	Time       slot.TimeOfDay
	Duration   int
	ExistingID string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("doctor %s is not available on %s at %s for %d minutes",
		e.DoctorID, e.Date, e.Time, e.Duration)
	if e.ExistingID != "" {
		msg += " (overlaps appointment " + e.ExistingID + ")"
	}
	return msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StorageError wraps a transport or backend failure of the store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("appointment store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// AsStorage classifies err as a storage failure unless it already belongs to
// the taxonomy or is a context cancellation.
func AsStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStorage),
		errors.Is(err, context.Canceled):
		return err
	}
	return &StorageError{Op: op, Err: err}
}

const (
	KindValidation = "validation"
	KindConflict   = "conflict"
	KindNotFound   = "not_found"
	KindStorage    = "storage"
	KindUnknown    = "unknown"
)

func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}

// Reason turns err into a sentence suitable for showing to a user.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	var ce *ConflictError
	switch {
	case errors.As(err, &ve):
		return "Please correct the following: " + strings.Join(ve.Fields, "; ") + "."
	case errors.As(err, &ce):
		return fmt.Sprintf("The doctor is already booked on %s around %s. Please choose another time.", ce.Date, ce.Time)
	case errors.Is(err, ErrConflict):
		return "The requested time is no longer available. Please choose another time."
	case errors.Is(err, ErrNotFound):
		return "The appointment no longer exists."
	case errors.Is(err, ErrStorage):
		return "The appointment service is unreachable. Please try again."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled before it completed."
	default:
		return "Something went wrong: " + err.Error()
	}
}
