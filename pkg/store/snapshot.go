package store

// Snapshot is an opaque token capturing one entry's value, or its absence,
// together with its slot in collection order.
type Snapshot[E any] struct {
	id      string
	value   E
	present bool
	index   int
}

func (s Snapshot[E]) ID() string {
	return s.id
}

// Value returns the captured entity and whether it existed at capture time.
func (s Snapshot[E]) Value() (E, bool) {
	return s.value, s.present
}

// SnapshotOf captures the current value (or absence) of id.
func (s *Store[E]) SnapshotOf(id string) Snapshot[E] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot[E]{id: id, index: -1}
	if e, ok := s.entries[id]; ok {
		snap.value = e.value
		snap.present = true
		snap.index = s.indexLocked(id)
	}
	return snap
}

// Restore puts the entry back exactly as captured: an entry that was removed
// returns to its former slot, an entry that did not exist is removed.
func (s *Store[E]) Restore(snap Snapshot[E]) {
	s.mu.Lock()
	e, exists := s.entries[snap.id]
	switch {
	case snap.present && exists:
		e.value = snap.value
		e.rev = s.nextRevLocked()
	case snap.present:
		s.insertAtLocked(snap.index, snap.id, snap.value)
	case exists:
		s.removeLocked(snap.id)
	default:
		s.mu.Unlock()
		return
	}
	s.dirty = true
	s.mu.Unlock()

	s.notify()
}
