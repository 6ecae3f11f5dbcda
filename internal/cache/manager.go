package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
)

// ErrReadSuperseded is returned by a collection read whose result was
// discarded because a mutation started while it was in flight.
var ErrReadSuperseded = errors.New("cache: read superseded by a mutation")

const (
	collectionKey = "appointments"

	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Manager keeps a local mirror of the appointment collection and applies
// mutations to it speculatively. Each mutation cancels in-flight collection
// reads, snapshots the mirror, applies its change, dispatches to the store,
// restores the snapshot on failure and finally re-reads the collection.
// Mutations run one at a time in submission order.
type Manager struct {
	store         appointment.Store
	log           zerolog.Logger
	metrics       *metrics.Collector
	now           func() time.Time
	newID         func() string
	settleTimeout time.Duration

	// closed when the most recently submitted mutation has settled
	tail  chan struct{}
	qmu   sync.Mutex
	reads singleflight.Group

	mu         sync.Mutex
	items      []appointment.Appointment
	loaded     bool
	stale      bool
	active     bool
	epoch      uint64
	cancelRead context.CancelFunc
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l.With().Str("component", "cache").Logger() }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTempIDs replaces the generator of provisional ids.
func WithTempIDs(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

func WithSettleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.settleTimeout = d
		}
	}
}

func NewManager(store appointment.Store, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		log:           zerolog.Nop(),
		now:           time.Now,
		newID:         appointment.NewTempID,
		settleTimeout: 10 * time.Second,
		tail:          make(chan struct{}),
	}
	close(m.tail)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a copy of the mirror as it is right now, speculative
// changes included.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{items: cloneList(m.items), loaded: m.loaded, stale: m.stale}
}

// Items returns the mirrored collection in store order, with a provisional
// record at the head while its create is in flight.
func (m *Manager) Items() []appointment.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneList(m.items)
}

// Invalidate marks the mirror stale so the next List reads the store.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.stale = true
	m.mu.Unlock()
}

// List answers from the mirror, reading the store first when the mirror was
// never loaded or has been invalidated.
func (m *Manager) List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	m.mu.Lock()
	fresh := m.loaded && !m.stale
	m.mu.Unlock()

	if !fresh {
		list, err := m.Refresh(ctx)
		switch {
		case err == nil:
			return f.Apply(list), nil
		case errors.Is(err, ErrReadSuperseded):
			// fall through to whatever the mutation left in the mirror
		default:
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil, ErrReadSuperseded
	}
	return f.Apply(m.items), nil
}

// Refresh reads the whole collection from the store. Concurrent callers
// share one read. While a mutation is in flight the result is returned to
// the caller but the mirror keeps the speculative view until it settles.
func (m *Manager) Refresh(ctx context.Context) ([]appointment.Appointment, error) {
	ch := m.reads.DoChan(collectionKey, func() (any, error) {
		return m.fetch(ctx, false)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneList(res.Val.([]appointment.Appointment)), nil
	}
}

func (m *Manager) fetch(ctx context.Context, settling bool) ([]appointment.Appointment, error) {
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.settleTimeout)
	defer cancel()

	m.mu.Lock()
	epoch := m.epoch
	if !settling {
		m.cancelRead = cancel
	}
	m.mu.Unlock()

	list, err := m.store.List(readCtx, appointment.Filter{})

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		if m.metrics != nil {
			m.metrics.CacheReadsSuperseded.Inc()
		}
		m.log.Debug().Bool("settling", settling).Msg("discarding superseded collection read")
		return nil, ErrReadSuperseded
	}
	if !settling {
		m.cancelRead = nil
	}

	if err != nil {
		if !m.active || settling {
			m.stale = true
		}
		return nil, appointment.AsStorage("list", err)
	}

	if m.active && !settling {
		return list, nil
	}

	m.items = cloneList(list)
	m.loaded = true
	m.stale = false
	return list, nil
}

// cancelReadsLocked makes every collection read already in flight discard
// its result. Called with m.mu held.
func (m *Manager) cancelReadsLocked() {
	m.epoch++
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	m.reads.Forget(collectionKey)
}

// Create books d optimistically. The provisional record carries a temporary
// id and appears at the head of the mirror until the store answers.
func (m *Manager) Create(ctx context.Context, d appointment.Draft, hooks Hooks) *Task {
	return m.submit(ctx, mutation{
		op: OpCreate,
		apply: func(items []appointment.Appointment, now time.Time) ([]appointment.Appointment, *appointment.Appointment) {
			provisional := d.Appointment(m.newID(), now)
			next := make([]appointment.Appointment, 0, len(items)+1)
			next = append(next, provisional)
			next = append(next, items...)
			return next, &provisional
		},
		dispatch: func(ctx context.Context) (*appointment.Appointment, error) {
			return m.store.Create(ctx, d)
		},
	}, hooks)
}

// Update merges p into the mirrored record with the given id, if any, and
// sends it to the store.
func (m *Manager) Update(ctx context.Context, id string, p appointment.Patch, hooks Hooks) *Task {
	return m.submit(ctx, mutation{
		op: OpUpdate,
		apply: func(items []appointment.Appointment, now time.Time) ([]appointment.Appointment, *appointment.Appointment) {
			idx := indexOf(items, id)
			if idx < 0 {
				return items, nil
			}
			p.Apply(&items[idx], now)
			provisional := items[idx]
			return items, &provisional
		},
		dispatch: func(ctx context.Context) (*appointment.Appointment, error) {
			return m.store.Update(ctx, id, p)
		},
	}, hooks)
}

// Delete removes the record from the mirror and the store. The task result
// is the record as it was before removal.
func (m *Manager) Delete(ctx context.Context, id string, hooks Hooks) *Task {
	var removed *appointment.Appointment
	return m.submit(ctx, mutation{
		op: OpDelete,
		apply: func(items []appointment.Appointment, _ time.Time) ([]appointment.Appointment, *appointment.Appointment) {
			idx := indexOf(items, id)
			if idx < 0 {
				return items, nil
			}
			gone := items[idx]
			removed = &gone
			return append(items[:idx], items[idx+1:]...), removed
		},
		dispatch: func(ctx context.Context) (*appointment.Appointment, error) {
			if err := m.store.Delete(ctx, id); err != nil {
				return nil, err
			}
			return removed, nil
		},
	}, hooks)
}

type mutation struct {
	op       string
	apply    func(items []appointment.Appointment, now time.Time) ([]appointment.Appointment, *appointment.Appointment)
	dispatch func(ctx context.Context) (*appointment.Appointment, error)
}

func (m *Manager) submit(ctx context.Context, mu mutation, hooks Hooks) *Task {
	t := newTask(mu.op)

	m.qmu.Lock()
	prev, mine := m.tail, make(chan struct{})
	m.tail = mine
	m.qmu.Unlock()

	go m.run(ctx, mu, hooks, t, prev, mine)
	return t
}

func (m *Manager) run(ctx context.Context, mu mutation, hooks Hooks, t *Task, prev <-chan struct{}, mine chan struct{}) {
	select {
	case <-prev:
	case <-ctx.Done():
		// never started: no hooks, but successors still wait for prev
		go func() {
			<-prev
			close(mine)
		}()
		m.count(mu.op, ctx.Err())
		t.finish(nil, ctx.Err())
		return
	}

	m.mu.Lock()
	m.cancelReadsLocked()
	m.active = true
	tx := m.beginLocked()
	next, provisional := mu.apply(cloneList(m.items), m.now())
	m.items = next
	m.mu.Unlock()

	log := m.log.With().Str("op", mu.op).Logger()
	log.Debug().Msg("mutation applied speculatively")
	hooks.start(provisional)

	result, err := mu.dispatch(ctx)
	if err != nil {
		tx.rollback()
		if m.metrics != nil {
			m.metrics.CacheRollbacksTotal.Inc()
		}
		log.Info().Err(err).Str("kind", appointment.Kind(err)).Msg("mutation rejected, rolled back")
		hooks.failed(err)
	} else {
		tx.commit()
		hooks.succeeded(result)
	}

	m.settle(ctx, log)
	m.count(mu.op, err)
	hooks.settled(result, err)

	close(mine)
	t.finish(result, err)
}

// settle invalidates the mirror and reads the store again. It runs whether
// the mutation succeeded or not and survives cancellation of the caller.
func (m *Manager) settle(ctx context.Context, log zerolog.Logger) {
	m.mu.Lock()
	m.cancelReadsLocked()
	m.stale = true
	m.mu.Unlock()

	if _, err := m.fetch(ctx, true); err != nil {
		if m.metrics != nil {
			m.metrics.CacheSettleFailures.Inc()
		}
		log.Warn().Err(err).Msg("settle refresh failed, mirror left stale")
	}

	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

func (m *Manager) count(op string, err error) {
	if m.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = appointment.Kind(err)
	}
	m.metrics.CacheMutationsTotal.WithLabelValues(op, outcome).Inc()
}

func indexOf(items []appointment.Appointment, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
