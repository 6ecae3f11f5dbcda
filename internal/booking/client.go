package booking

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/cache"
	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
	"github.com/hackgods/clinic-appointment-booking/internal/slot"
)

// Client is the caller-facing booking API. Reads come from an optimistic
// mirror of the store; every mutation is pre-checked locally where the data
// is at hand and then run through the cache manager.
//
// Pre-checks run synchronously before the task is returned. A mutation
// refused by them is returned as an already settled task and never reaches
// the store.
type Client struct {
	store   appointment.Store
	cache   *cache.Manager
	checker *appointment.Checker
	policy  appointment.TransitionPolicy
	log     zerolog.Logger
	now     func() time.Time
}

type options struct {
	log           zerolog.Logger
	metrics       *metrics.Collector
	policy        appointment.TransitionPolicy
	settleTimeout time.Duration
	now           func() time.Time
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

func WithPolicy(p appointment.TransitionPolicy) Option {
	return func(o *options) { o.policy = p }
}

func WithSettleTimeout(d time.Duration) Option {
	return func(o *options) { o.settleTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewClient(store appointment.Store, opts ...Option) *Client {
	o := options{
		log:    zerolog.Nop(),
		policy: appointment.PolicyPermissive,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		store: store,
		cache: cache.NewManager(store,
			cache.WithLogger(o.log),
			cache.WithMetrics(o.metrics),
			cache.WithSettleTimeout(o.settleTimeout),
			cache.WithClock(o.now),
		),
		checker: appointment.NewChecker(store),
		policy:  o.policy,
		log:     o.log.With().Str("component", "booking_client").Logger(),
		now:     o.now,
	}
}

// Cache exposes the mirror for callers that render it directly.
func (c *Client) Cache() *cache.Manager { return c.cache }

// CheckAvailability asks the store, not the mirror, whether the doctor is
// free for [start, start+duration). excludeID names an appointment being
// moved so it does not collide with itself.
func (c *Client) CheckAvailability(ctx context.Context, doctorID string, date slot.Date, start slot.TimeOfDay, duration int, excludeID string) (bool, error) {
	return c.checker.CheckAvailability(ctx, doctorID, date, start, duration, excludeID)
}

// CreateAppointment validates d, checks the slot and books it optimistically.
func (c *Client) CreateAppointment(ctx context.Context, d appointment.Draft, hooks cache.Hooks) *cache.Task {
	if err := c.precheckCreate(ctx, d); err != nil {
		c.refused(cache.OpCreate, err)
		return cache.Rejected(cache.OpCreate, err, hooks)
	}
	return c.cache.Create(ctx, d, hooks)
}

func (c *Client) precheckCreate(ctx context.Context, d appointment.Draft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Status != "" && !d.Status.BlocksSlot() {
		return nil
	}

	cand := appointment.CandidateFor(d.Appointment("", c.now()))
	hit, err := c.checker.FindConflict(ctx, cand)
	if err != nil {
		return err
	}
	if hit != nil {
		return cand.Conflict(hit)
	}
	return nil
}

// UpdateAppointment applies p to the appointment. Moves in time and changes
// that make the appointment occupy its slot again are checked against the
// doctor's day first, excluding the appointment itself.
func (c *Client) UpdateAppointment(ctx context.Context, id string, p appointment.Patch, hooks cache.Hooks) *cache.Task {
	if err := c.precheckUpdate(ctx, id, p); err != nil {
		c.refused(cache.OpUpdate, err)
		return cache.Rejected(cache.OpUpdate, err, hooks)
	}
	return c.cache.Update(ctx, id, p, hooks)
}

// RescheduleAppointment moves the appointment to a new date, time and length.
func (c *Client) RescheduleAppointment(ctx context.Context, id string, date slot.Date, start slot.TimeOfDay, duration int, hooks cache.Hooks) *cache.Task {
	return c.UpdateAppointment(ctx, id, appointment.ReschedulePatch(date, start, duration), hooks)
}

// TransitionStatus moves the appointment to status.
func (c *Client) TransitionStatus(ctx context.Context, id string, status appointment.Status, hooks cache.Hooks) *cache.Task {
	return c.UpdateAppointment(ctx, id, appointment.StatusPatch(status), hooks)
}

// CancelAppointment marks the appointment cancelled, which frees its slot.
func (c *Client) CancelAppointment(ctx context.Context, id string, hooks cache.Hooks) *cache.Task {
	return c.TransitionStatus(ctx, id, appointment.StatusCancelled, hooks)
}

// DeleteAppointment removes the appointment from the store for good.
func (c *Client) DeleteAppointment(ctx context.Context, id string, hooks cache.Hooks) *cache.Task {
	if appointment.IsTemporaryID(id) {
		err := appointment.NotFound(id)
		c.refused(cache.OpDelete, err)
		return cache.Rejected(cache.OpDelete, err, hooks)
	}
	return c.cache.Delete(ctx, id, hooks)
}

// ListAppointments answers from the mirror, loading it when needed.
func (c *Client) ListAppointments(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	return c.cache.List(ctx, f)
}

func (c *Client) precheckUpdate(ctx context.Context, id string, p appointment.Patch) error {
	if err := p.Validate(); err != nil {
		return err
	}
	// a provisional record has no canonical id the store could resolve
	if appointment.IsTemporaryID(id) {
		return appointment.NotFound(id)
	}
	if !p.Reschedules() && p.Status == nil {
		return nil
	}

	current, err := c.lookup(ctx, id)
	if err != nil {
		return appointment.AsStorage("list", err)
	}
	if current == nil {
		// unknown here; the store has the final word
		return nil
	}

	if p.Status != nil {
		if err := c.policy.Check(current.Status, *p.Status); err != nil {
			return err
		}
	}

	next := *current
	p.Apply(&next, c.now())
	if !next.Status.BlocksSlot() {
		return nil
	}
	if !p.Reschedules() && current.Status.BlocksSlot() {
		return nil
	}

	cand := appointment.CandidateFor(next)
	hit, err := c.checker.FindConflict(ctx, cand)
	if err != nil {
		return err
	}
	if hit != nil {
		return cand.Conflict(hit)
	}
	return nil
}

// lookup finds id in the mirror, loading it once when it is missing there.
func (c *Client) lookup(ctx context.Context, id string) (*appointment.Appointment, error) {
	if a := find(c.cache.Items(), id); a != nil {
		return a, nil
	}
	list, err := c.cache.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return find(list, id), nil
}

func find(list []appointment.Appointment, id string) *appointment.Appointment {
	for i := range list {
		if list[i].ID == id {
			a := list[i]
			return &a
		}
	}
	return nil
}

func (c *Client) refused(op string, err error) {
	c.log.Info().Str("op", op).Str("kind", appointment.Kind(err)).Err(err).Msg("mutation refused before dispatch")
}
