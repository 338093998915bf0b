package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

// Summary aggregates the store for humans: what is in here, from where,
// and over what span.
type Summary struct {
	Total        int                     `json:"total"`
	Events       int                     `json:"events"`
	Observations int                     `json:"observations"`
	Deleted      int                     `json:"deleted"`
	ByKind       map[string]int          `json:"by_kind"`
	BySource     map[evidence.Source]int `json:"by_source"`
	Earliest     *time.Time              `json:"earliest,omitempty"`
	Latest       *time.Time              `json:"latest,omitempty"`
}

// Summary computes the current aggregate view.
func (s *Store) Summary() Summary {
	sum := Summary{
		ByKind:   make(map[string]int),
		BySource: make(map[evidence.Source]int),
	}
	for _, ev := range s.All() {
		sum.Total++
		sum.ByKind[ev.Kind()]++
		sum.BySource[ev.Provenance().Source]++
		if evidence.IsEvent(ev) {
			sum.Events++
		} else {
			sum.Observations++
		}

		if deleted, ok := isDeleted(ev); ok && deleted {
			sum.Deleted++
		}

		t := evidence.NormTime(ev.Time())
		if sum.Earliest == nil || t.Before(*sum.Earliest) {
			earliest := t
			sum.Earliest = &earliest
		}
		if sum.Latest == nil || t.After(*sum.Latest) {
			latest := t
			sum.Latest = &latest
		}
	}
	return sum
}

func isDeleted(ev evidence.Evidence) (bool, bool) {
	switch obs := ev.(type) {
	case *evidence.CommitObservation:
		return obs.IsDeleted || obs.IsDangling, true
	case *evidence.IssueObservation:
		return obs.IsDeleted, true
	case *evidence.FileObservation:
		return obs.IsDeleted, true
	case *evidence.BranchObservation:
		return obs.IsDeleted, true
	case *evidence.TagObservation:
		return obs.IsDeleted, true
	case *evidence.ReleaseObservation:
		return obs.IsDeleted, true
	case *evidence.ForkObservation:
		return obs.IsDeleted, true
	case *evidence.ForcePushObservation:
		return true, true
	}
	return false, false
}

// String renders the summary as a short report.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d item(s): %d event(s), %d observation(s), %d deleted/rewritten\n",
		s.Total, s.Events, s.Observations, s.Deleted)
	if s.Earliest != nil && s.Latest != nil {
		fmt.Fprintf(&b, "span: %s to %s\n",
			s.Earliest.Format(time.RFC3339), s.Latest.Format(time.RFC3339))
	}

	kinds := make([]string, 0, len(s.ByKind))
	for kind := range s.ByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(&b, "  %-14s %d\n", kind, s.ByKind[kind])
	}
	return b.String()
}
