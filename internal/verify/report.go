package verify

import (
	"time"

	"github.com/google/uuid"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

// Report is the outcome of verifying a batch. Reports get random IDs:
// unlike evidence, two verification runs over the same items are distinct
// occurrences and must not collide.
type Report struct {
	ReportID    string    `json:"report_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Results     []*Result `json:"results"`

	Confirmed           int `json:"confirmed"`
	Mismatched          int `json:"mismatched"`
	Unreachable         int `json:"unreachable"`
	UnreachableExpected int `json:"unreachable_expected"`
	Unverified          int `json:"unverified"`
}

// NewReport tallies a batch of results.
func NewReport(results []*Result, now time.Time) *Report {
	report := &Report{
		ReportID:    uuid.NewString(),
		GeneratedAt: evidence.NormTime(now),
		Results:     results,
	}
	for _, r := range results {
		switch r.Status {
		case StatusConfirmed:
			report.Confirmed++
		case StatusMismatched:
			report.Mismatched++
		case StatusUnreachable:
			if r.Expected {
				report.UnreachableExpected++
			} else {
				report.Unreachable++
			}
		default:
			report.Unverified++
		}
	}
	return report
}

// Clean reports whether nothing in the batch contradicts its source: no
// mismatches and no unexpected disappearances.
func (r *Report) Clean() bool {
	return r.Mismatched == 0 && r.Unreachable == 0
}
