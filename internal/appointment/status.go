package appointment

import (
	"fmt"
	"strings"
)

// Status lifecycle:
//
//	scheduled ─┬─> confirmed ─┬─> completed
//	           │              ├─> cancelled
//	           │              └─> no-show
//	           ├─> completed
//	           ├─> cancelled
//	           └─> no-show
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no-show"
)

var allStatuses = []Status{StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow}

func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ValidationError{Fields: []string{fmt.Sprintf("status %q is not one of scheduled, confirmed, completed, cancelled, no-show", s)}}
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal statuses are not expected to change again in normal flow.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// BlocksSlot reports whether an appointment in this status occupies its
// doctor's time. Only cancelled appointments free the slot.
func (s Status) BlocksSlot() bool {
	return s != StatusCancelled
}

// TransitionPolicy decides which status changes are accepted.
type TransitionPolicy int

const (
	// PolicyPermissive accepts any member of the enumeration as the next status.
	PolicyPermissive TransitionPolicy = iota
	// PolicyGuarded only lets scheduled and confirmed appointments move, and
	// only forward into confirmed, completed, cancelled or no-show.
	PolicyGuarded
)

func ParsePolicy(s string) (TransitionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permissive":
		return PolicyPermissive, nil
	case "guarded":
		return PolicyGuarded, nil
	}
	return PolicyPermissive, fmt.Errorf("unknown status policy %q", s)
}

func (p TransitionPolicy) String() string {
	if p == PolicyGuarded {
		return "guarded"
	}
	return "permissive"
}

var guardedTransitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
}

// Check returns a *ValidationError when moving from -> to is not accepted.
func (p TransitionPolicy) Check(from, to Status) error {
	if !to.Valid() {
		return &ValidationError{Fields: []string{fmt.Sprintf("status %q is not a valid status", to)}}
	}
	if p == PolicyPermissive {
		return nil
	}

	for _, s := range guardedTransitions[from] {
		if s == to {
			return nil
		}
	}
	return &ValidationError{Fields: []string{fmt.Sprintf("status cannot change from %s to %s", from, to)}}
}
