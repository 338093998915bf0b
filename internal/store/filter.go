package store

import (
	"iter"
	"time"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

// Filter selects evidence. All set conditions must hold; the zero Filter
// matches everything.
type Filter struct {
	Kind   string
	Source evidence.Source
	Actor  string
	Repo   string // full name, owner/name
	After  time.Time
	Before time.Time

	// EventsOnly / ObservationsOnly restrict to one side of the model.
	EventsOnly       bool
	ObservationsOnly bool
}

func (f Filter) matches(ev evidence.Evidence) bool {
	if f.Kind != "" && ev.Kind() != f.Kind {
		return false
	}
	if f.Source != "" && ev.Provenance().Source != f.Source {
		return false
	}
	if f.Actor != "" {
		actor := ev.Actor()
		if actor == nil || actor.Login != f.Actor {
			return false
		}
	}
	if f.Repo != "" {
		repo := ev.Repo()
		if repo == nil || repo.FullName != f.Repo {
			return false
		}
	}
	// After is strict: an item stamped exactly at the bound is excluded.
	if !f.After.IsZero() && !ev.Time().After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !ev.Time().Before(f.Before) {
		return false
	}
	if f.EventsOnly && !evidence.IsEvent(ev) {
		return false
	}
	if f.ObservationsOnly && evidence.IsEvent(ev) {
		return false
	}
	return true
}

// Filter yields matching items lazily, in insertion order. The sequence
// iterates over a snapshot, so adding while iterating is safe.
func (s *Store) Filter(f Filter) iter.Seq[evidence.Evidence] {
	snapshot := s.All()
	return func(yield func(evidence.Evidence) bool) {
		for _, ev := range snapshot {
			if !f.matches(ev) {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// FilterSlice collects the matches of f.
func (s *Store) FilterSlice(f Filter) []evidence.Evidence {
	var out []evidence.Evidence
	for ev := range s.Filter(f) {
		out = append(out, ev)
	}
	return out
}
