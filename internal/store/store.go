// Package store holds collected evidence: an ordered, deduplicating
// in-memory set with JSON persistence, plus an optional Postgres archive
// for long-running investigations.
package store

import (
	"encoding/json"
	"sync"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

// Store is an ordered evidence set. Insertion order is preserved; IDs are
// unique. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items []evidence.Evidence
	byID  map[string]int
	onAdd []func(evidence.Evidence)
}

// New creates an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]int)}
}

// OnAdd registers a hook invoked after an item is stored or upgraded.
// Hooks run synchronously on the adding goroutine.
func (s *Store) OnAdd(fn func(evidence.Evidence)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdd = append(s.onAdd, fn)
}

// Add inserts an evidence item. Re-adding an ID is not an error: the
// richer of the two records wins, so re-collecting from a source that now
// returns more detail upgrades the stored copy in place. Returns true
// when the store changed.
func (s *Store) Add(ev evidence.Evidence) bool {
	if err := ev.Validate(); err != nil {
		return false
	}

	s.mu.Lock()
	idx, exists := s.byID[ev.ID()]
	if !exists {
		s.byID[ev.ID()] = len(s.items)
		s.items = append(s.items, ev)
	} else {
		current := s.items[idx]
		if completeness(ev) <= completeness(current) {
			s.mu.Unlock()
			return false
		}
		s.items[idx] = ev
	}
	hooks := make([]func(evidence.Evidence), len(s.onAdd))
	copy(hooks, s.onAdd)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(ev)
	}
	return true
}

// AddAll inserts a batch, returning how many items changed the store.
func (s *Store) AddAll(items []evidence.Evidence) int {
	n := 0
	for _, ev := range items {
		if s.Add(ev) {
			n++
		}
	}
	return n
}

// Get returns the item with the given ID.
func (s *Store) Get(id string) (evidence.Evidence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.items[idx], true
}

// Contains reports whether the ID is present.
func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// All returns the items in insertion order.
func (s *Store) All() []evidence.Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]evidence.Evidence, len(s.items))
	copy(out, s.items)
	return out
}

// completeness scores how much of a record is filled in, by counting
// populated leaves of its JSON form. Two records for the same evidence ID
// describe the same underlying fact; the one that captured more of it is
// the better copy to keep.
func completeness(ev evidence.Evidence) int {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return 0
	}
	return countLeaves(decoded)
}

func countLeaves(v any) int {
	switch val := v.(type) {
	case map[string]any:
		n := 0
		for _, child := range val {
			n += countLeaves(child)
		}
		return n
	case []any:
		n := 0
		for _, child := range val {
			n += countLeaves(child)
		}
		return n
	case string:
		if val == "" {
			return 0
		}
		return 1
	case float64:
		if val == 0 {
			return 0
		}
		return 1
	case bool:
		if !val {
			return 0
		}
		return 1
	case nil:
		return 0
	default:
		return 1
	}
}
