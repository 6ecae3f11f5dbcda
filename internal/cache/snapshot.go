package cache

import "github.com/hackgods/clinic-appointment-booking/internal/appointment"

// Snapshot is an immutable copy of the mirror.
type Snapshot struct {
	items  []appointment.Appointment
	loaded bool
	stale  bool
}

func (s Snapshot) Items() []appointment.Appointment { return cloneList(s.items) }

func (s Snapshot) Loaded() bool { return s.loaded }

func (s Snapshot) Stale() bool { return s.stale }

func (s Snapshot) Len() int { return len(s.items) }

// txn is the speculative half of a mutation: the mirror as it was before the
// apply, restored wholesale on rollback.
type txn struct {
	m      *Manager
	before Snapshot
	closed bool
}

// beginLocked must be called with m.mu held.
func (m *Manager) beginLocked() *txn {
	return &txn{m: m, before: m.snapshotLocked()}
}

func (t *txn) rollback() {
	if t.closed {
		return
	}
	t.closed = true

	t.m.mu.Lock()
	t.m.items = cloneList(t.before.items)
	t.m.loaded = t.before.loaded
	t.m.stale = t.before.stale
	t.m.mu.Unlock()
}

func (t *txn) commit() {
	t.closed = true
	t.before = Snapshot{}
}

func cloneList(in []appointment.Appointment) []appointment.Appointment {
	if in == nil {
		return nil
	}
	out := make([]appointment.Appointment, len(in))
	copy(out, in)
	return out
}
