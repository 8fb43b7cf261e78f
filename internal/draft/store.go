// Package draft holds per-identifier edit drafts so that concurrently open
// edit sessions for different records never observe each other's changes.
package draft

import (
	"maps"
	"sync"
)

// CreateKey is the reserved identifier for the not-yet-persisted draft.
const CreateKey = "create"

// Fields is the shallow field map backing one draft.
type Fields map[string]any

type entry struct {
	current Fields
	seed    Fields
}

// StoreConfig configures a draft store.
type StoreConfig struct {
	// Fallback is the canonical template returned by Get for identifiers
	// that were never seeded. Every optional field must carry an explicit
	// empty value so consumers never observe absence.
	Fallback Fields
}

// Store maps record identifiers to independent drafts. Writes to one
// identifier never affect another. The zero value is not usable; construct
// with NewStore.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	fallback Fields
}

// NewStore constructs an empty draft store with an explicit lifecycle,
// scoped to one admin session rather than shared process-wide.
func NewStore(cfg StoreConfig) *Store {
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = Fields{}
	}
	return &Store{
		entries:  make(map[string]*entry),
		fallback: cloneFields(fallback),
	}
}

// Seed installs the draft for id, replacing any prior draft, and remembers
// the seed so Reset can restore it.
func (s *Store) Seed(id string, initial Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &entry{
		current: cloneFields(initial),
		seed:    cloneFields(initial),
	}
}

// Get returns a copy of the draft for id, or a copy of the fallback template
// when id was never seeded. Callers always receive every template-defined
// field with a concrete value.
func (s *Store) Get(id string) Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return cloneFields(e.current)
	}
	return cloneFields(s.fallback)
}

// Has reports whether a draft exists for id.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// SetField shallow-merges one field into the draft for id. A field the seed
// does not define is ignored; value shape is the caller's concern. Setting a
// field on an unknown id is a no-op.
func (s *Store) SetField(id, field string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if _, known := e.seed[field]; !known {
		return
	}
	e.current[field] = value
}

// Reset restores the draft for id to its remembered seed, discarding every
// edit for that identifier only. Unknown ids are a no-op.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.current = cloneFields(e.seed)
}

// Clear removes the draft for id entirely, bounding memory across many
// opened and closed sessions.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len reports how many drafts the store currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func cloneFields(fields Fields) Fields {
	cloned := make(Fields, len(fields))
	maps.Copy(cloned, fields)
	return cloned
}
