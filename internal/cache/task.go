package cache

import (
	"context"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

// Hooks observe the stages of one mutation. They run on the mutation's own
// goroutine in the order OnStart, then OnError or OnSuccess, then OnSettled.
// OnSettled runs exactly once for every mutation that was started, after the
// mirror has been reconciled with the store. Hooks must not wait on another
// mutation of the same manager.
type Hooks struct {
	// OnStart receives the speculative record (nil when the mirror did not hold it).
	OnStart func(provisional *appointment.Appointment)
	// OnError receives the store's error; the mirror is already rolled back.
	OnError func(err error)
	// OnSuccess receives the canonical record returned by the store.
	OnSuccess func(result *appointment.Appointment)
	// OnSettled receives the final outcome.
	OnSettled func(result *appointment.Appointment, err error)
}

func (h Hooks) start(a *appointment.Appointment) {
	if h.OnStart != nil {
		h.OnStart(a)
	}
}

func (h Hooks) failed(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Hooks) succeeded(a *appointment.Appointment) {
	if h.OnSuccess != nil {
		h.OnSuccess(a)
	}
}

func (h Hooks) settled(a *appointment.Appointment, err error) {
	if h.OnSettled != nil {
		h.OnSettled(a, err)
	}
}

// Task is the handle of an asynchronous mutation. It completes after the
// settle step, so a finished task implies a reconciled mirror.
type Task struct {
	op     string
	done   chan struct{}
	result *appointment.Appointment
	err    error
}

func newTask(op string) *Task {
	return &Task{op: op, done: make(chan struct{})}
}

func (t *Task) finish(result *appointment.Appointment, err error) {
	t.result = result
	t.err = err
	close(t.done)
}

func (t *Task) Op() string { return t.op }

// Done is closed once the mutation has settled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task settles or ctx ends. Giving up on the wait
// does not stop the mutation; it still settles in the background.
func (t *Task) Wait(ctx context.Context) (*appointment.Appointment, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of a settled task; ok is false while it is running.
func (t *Task) Result() (result *appointment.Appointment, err error, ok bool) {
	select {
	case <-t.done:
		return t.result, t.err, true
	default:
		return nil, nil, false
	}
}

// Rejected returns a settled task for a mutation refused before dispatch.
// The mirror is untouched; OnError and OnSettled run, OnStart does not.
func Rejected(op string, err error, hooks Hooks) *Task {
	hooks.failed(err)
	hooks.settled(nil, err)
	t := newTask(op)
	t.finish(nil, err)
	return t
}
