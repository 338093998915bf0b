package verify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

// FieldDiff is one field that disagreed between stored evidence and what
// the source serves now.
type FieldDiff struct {
	Field string `json:"field"`
	Want  string `json:"want"`
	Got   string `json:"got"`
}

func (d FieldDiff) String() string {
	return fmt.Sprintf("%s: stored %q, live %q", d.Field, d.Want, d.Got)
}

// normText collapses whitespace runs. Free-text fields (messages, bodies,
// titles) get edited for formatting without changing their substance;
// identity fields never go through this.
func normText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sameText(a, b string) bool {
	return normText(a) == normText(b)
}

// sameInstant compares at second granularity in UTC. Sources disagree on
// sub-second precision and zone rendering for the same underlying instant.
func sameInstant(a, b time.Time) bool {
	return evidence.NormTime(a).Equal(evidence.NormTime(b))
}

var signatureComparer = cmp.Comparer(func(a, b evidence.CommitAuthor) bool {
	return a.Name == b.Name && a.Email == b.Email && sameInstant(a.Date, b.Date)
})

// diffSignature compares commit author/committer signatures: name and
// email exactly, dates at second granularity.
func diffSignature(field string, want, got evidence.CommitAuthor) *FieldDiff {
	if cmp.Equal(want, got, signatureComparer) {
		return nil
	}
	return &FieldDiff{
		Field: field,
		Want:  fmt.Sprintf("%s <%s> %s", want.Name, want.Email, evidence.NormTime(want.Date).Format(time.RFC3339)),
		Got:   fmt.Sprintf("%s <%s> %s", got.Name, got.Email, evidence.NormTime(got.Date).Format(time.RFC3339)),
	}
}

func diffExact(field, want, got string) *FieldDiff {
	if want == got {
		return nil
	}
	return &FieldDiff{Field: field, Want: want, Got: got}
}

func diffText(field, want, got string) *FieldDiff {
	if sameText(want, got) {
		return nil
	}
	return &FieldDiff{Field: field, Want: normText(want), Got: normText(got)}
}

func appendDiff(diffs []FieldDiff, d *FieldDiff) []FieldDiff {
	if d == nil {
		return diffs
	}
	return append(diffs, *d)
}
