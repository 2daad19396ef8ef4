// Package store holds the in-memory Snapshot Store: an insertion-ordered
// collection of entities keyed by id, with snapshot/restore tokens used to
// undo optimistic mutations exactly.
//
// The store performs no I/O and has no timing behavior. Writes are expected to
// come from a single owner (the mutation controller); readers may run on any
// goroutine.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/storefront/adminsync/pkg/constants"
	"github.com/storefront/adminsync/pkg/models"
)

var errEmptyID = errors.New("entity has no id")

type Op int

const (
	OpInsert Op = iota + 1
	OpReplace
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	default:
		return "invalid"
	}
}

// Mutation is one write applied with Store.Apply.
type Mutation[E models.Entity[E]] struct {
	Op Op
	// ID is the entry the mutation targets. For OpReplace the entity may carry
	// a different id, in which case the entry is re-keyed in place.
	ID     string
	Entity E
}

func Insert[E models.Entity[E]](e E) Mutation[E] {
	return Mutation[E]{Op: OpInsert, ID: e.EntityID(), Entity: e}
}

func Replace[E models.Entity[E]](id string, e E) Mutation[E] {
	return Mutation[E]{Op: OpReplace, ID: id, Entity: e}
}

func Remove[E models.Entity[E]](id string) Mutation[E] {
	return Mutation[E]{Op: OpRemove, ID: id}
}

// View is the read-only face of a Store handed to rendering surfaces.
type View[E models.Entity[E]] interface {
	Get(id string) (E, bool)
	List() []E
	Len() int
	Subscribe(fn func([]E)) (unsubscribe func())
}

type entry[E any] struct {
	value E
	rev   uint64
}

type Store[E models.Entity[E]] struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry[E]
	// rev is the last write stamp handed out. Every write to an entry gives
	// it a fresh stamp, so an unchanged stamp means an untouched entry.
	rev uint64

	// holds counts open Hold calls; notifications are deferred until the
	// last Release.
	holds int
	dirty bool

	subsMu  sync.Mutex
	subs    map[int]func([]E)
	nextSub int
}

var _ View[models.Category] = (*Store[models.Category])(nil)

func New[E models.Entity[E]]() *Store[E] {
	return &Store[E]{
		entries: make(map[string]*entry[E]),
		subs:    make(map[int]func([]E)),
	}
}

func (s *Store[E]) Get(id string) (E, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		var zero E
		return zero, false
	}
	return e.value, true
}

// List returns the entities in collection order.
func (s *Store[E]) List() []E {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked()
}

func (s *Store[E]) listLocked() []E {
	out := make([]E, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].value)
	}
	return out
}

func (s *Store[E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.order)
}

// Revision returns the write stamp of the entry, if present.
func (s *Store[E]) Revision(id string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return e.rev, true
}

// Apply performs a single insert, replace or remove.
func (s *Store[E]) Apply(m Mutation[E]) error {
	s.mu.Lock()
	err := s.applyLocked(m)
	if err == nil {
		s.dirty = true
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("store %s %q: %w", m.Op, m.ID, err)
	}
	s.notify()
	return nil
}

func (s *Store[E]) applyLocked(m Mutation[E]) error {
	switch m.Op {
	case OpInsert:
		id := m.Entity.EntityID()
		if id == "" {
			return errEmptyID
		}
		if _, exists := s.entries[id]; exists {
			return constants.ErrIDInUse
		}
		s.insertAtLocked(len(s.order), id, m.Entity)
		return nil

	case OpReplace:
		e, ok := s.entries[m.ID]
		if !ok {
			return constants.ErrNotFound
		}
		newID := m.Entity.EntityID()
		if newID == "" {
			return errEmptyID
		}
		if newID != m.ID {
			if _, taken := s.entries[newID]; taken {
				return constants.ErrIDInUse
			}
			s.order[s.indexLocked(m.ID)] = newID
			delete(s.entries, m.ID)
			s.entries[newID] = e
		}
		e.value = m.Entity
		e.rev = s.nextRevLocked()
		return nil

	case OpRemove:
		if _, ok := s.entries[m.ID]; !ok {
			return constants.ErrNotFound
		}
		s.removeLocked(m.ID)
		return nil

	default:
		return fmt.Errorf("invalid op %d", int(m.Op))
	}
}

func (s *Store[E]) insertAtLocked(index int, id string, value E) {
	if index > len(s.order) {
		index = len(s.order)
	}
	s.order = append(s.order, "")
	copy(s.order[index+1:], s.order[index:])
	s.order[index] = id
	s.entries[id] = &entry[E]{value: value, rev: s.nextRevLocked()}
}

func (s *Store[E]) removeLocked(id string) {
	i := s.indexLocked(id)
	s.order = append(s.order[:i], s.order[i+1:]...)
	delete(s.entries, id)
	// Removal is a write too: anything holding the old stamp is stale.
	s.nextRevLocked()
}

func (s *Store[E]) indexLocked(id string) int {
	for i, v := range s.order {
		if v == id {
			return i
		}
	}
	return -1
}

func (s *Store[E]) nextRevLocked() uint64 {
	s.rev++
	return s.rev
}

// Load replaces the whole collection with entities, in the given order.
// A later duplicate overwrites the value but keeps the first slot.
func (s *Store[E]) Load(entities []E) {
	s.mu.Lock()
	s.order = s.order[:0]
	s.entries = make(map[string]*entry[E], len(entities))
	for _, e := range entities {
		id := e.EntityID()
		if id == "" {
			continue
		}
		if existing, ok := s.entries[id]; ok {
			existing.value = e
			existing.rev = s.nextRevLocked()
			continue
		}
		s.insertAtLocked(len(s.order), id, e)
	}
	s.dirty = true
	s.mu.Unlock()

	s.notify()
}

// Hold defers subscriber notifications until the matching Release, so that
// a group of writes is observed once and callbacks never run while the
// writer holds its own locks.
func (s *Store[E]) Hold() {
	s.mu.Lock()
	s.holds++
	s.mu.Unlock()
}

func (s *Store[E]) Release() {
	s.mu.Lock()
	if s.holds > 0 {
		s.holds--
	}
	s.mu.Unlock()

	s.notify()
}

// Subscribe registers fn to receive the full ordered collection after every
// change.
func (s *Store[E]) Subscribe(fn func([]E)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store[E]) notify() {
	s.mu.Lock()
	if s.holds > 0 || !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	list := s.listLocked()
	s.mu.Unlock()

	s.subsMu.Lock()
	subs := make([]func([]E), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(list)
	}
}
