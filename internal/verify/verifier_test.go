package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/source"
	"github.com/harrowsec/ghtrail/internal/source/github"
)

var testClock = func() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

const testSHA = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"

type fakeGitHub struct {
	commit *github.CommitDetail
	issue  *github.IssueDetail
	err    error
}

func (f *fakeGitHub) Commit(context.Context, string, string, string) (*github.CommitDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.commit, nil
}

func (f *fakeGitHub) Issue(context.Context, string, string, int) (*github.IssueDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.issue, nil
}

func (f *fakeGitHub) PullRequest(ctx context.Context, owner, repo string, n int) (*github.IssueDetail, error) {
	return f.Issue(ctx, owner, repo, n)
}

func (f *fakeGitHub) Contents(context.Context, string, string, string, string) (*github.ContentDetail, error) {
	return nil, f.err
}

func (f *fakeGitHub) Branch(context.Context, string, string, string) (*github.BranchDetail, error) {
	return nil, f.err
}

func (f *fakeGitHub) TagRef(context.Context, string, string, string) (*github.TagRefDetail, error) {
	return nil, f.err
}

func (f *fakeGitHub) ReleaseByTag(context.Context, string, string, string) (*github.ReleaseDetail, error) {
	return nil, f.err
}

func (f *fakeGitHub) Forks(context.Context, string, string, int) ([]github.ForkDetail, error) {
	return nil, f.err
}

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	page, ok := f.pages[url]
	if !ok {
		return "", &source.NotFoundError{Source: "fetch", Entity: url}
	}
	return page, nil
}

func storedCommit(observedBy evidence.Source) *evidence.CommitObservation {
	when := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	return &evidence.CommitObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindCommit, "octo/repo", testSHA),
			OriginalWhen: &when,
			ObservedWhen: when.Add(time.Hour),
			ObservedBy:   observedBy,
			Repository:   evidence.NewRepository("octo", "repo"),
			Verification: evidence.Verification{Source: observedBy, URL: "u", QueriedAt: when},
		},
		ObservationType: evidence.KindCommit,
		SHA:             testSHA,
		Message:         "add build hook\n\nDetails here.",
		Author:          evidence.CommitAuthor{Name: "Mallory", Email: "m@example.com", Date: when},
		Committer:       evidence.CommitAuthor{Name: "Mallory", Email: "m@example.com", Date: when},
	}
}

func liveCommit(message string, date time.Time) *github.CommitDetail {
	detail := &github.CommitDetail{SHA: testSHA}
	detail.Commit.Message = message
	detail.Commit.Author = github.Signature{Name: "Mallory", Email: "m@example.com", Date: date}
	detail.Commit.Committer = detail.Commit.Author
	return detail
}

func TestVerify_CommitConfirmed(t *testing.T) {
	stored := storedCommit(evidence.SourceGitHub)
	// Same instant in another zone with sub-second noise, message
	// reflowed: all within tolerance.
	live := liveCommit("add build hook\n\nDetails   here.",
		stored.Author.Date.In(time.FixedZone("X", 3600)).Add(300*time.Millisecond))
	v := New(Deps{GitHub: &fakeGitHub{commit: live}, Clock: testClock})

	r := v.Verify(context.Background(), stored)
	assert.Equal(t, StatusConfirmed, r.Status)
	assert.Empty(t, r.Diffs)
}

func TestVerify_CommitMismatched(t *testing.T) {
	stored := storedCommit(evidence.SourceGitHub)
	live := liveCommit("totally different message", stored.Author.Date)
	v := New(Deps{GitHub: &fakeGitHub{commit: live}, Clock: testClock})

	r := v.Verify(context.Background(), stored)
	require.Equal(t, StatusMismatched, r.Status)
	require.Len(t, r.Diffs, 1)
	assert.Equal(t, "message", r.Diffs[0].Field)
}

func TestVerify_CommitVanished(t *testing.T) {
	stored := storedCommit(evidence.SourceGitHub)
	gh := &fakeGitHub{err: &source.NotFoundError{Source: "github_api", Entity: "commit"}}
	v := New(Deps{GitHub: gh, Clock: testClock})

	r := v.Verify(context.Background(), stored)
	assert.Equal(t, StatusUnreachable, r.Status)
	assert.False(t, r.Expected)
	assert.Equal(t, "unreachable", r.Label())
}

func TestVerify_ArchivalSourceIsExpectedUnreachable(t *testing.T) {
	stored := storedCommit(evidence.SourceGHArchive)
	stored.Verification.Source = evidence.SourceGHArchive
	v := New(Deps{Clock: testClock})

	r := v.Verify(context.Background(), stored)
	assert.Equal(t, StatusUnreachable, r.Status)
	assert.True(t, r.Expected)
	assert.Equal(t, "unreachable (expected)", r.Label())
}

func TestVerify_DanglingCommitIsExpectedUnreachable(t *testing.T) {
	stored := storedCommit(evidence.SourceLocalGit)
	stored.Verification.Source = evidence.SourceLocalGit
	stored.IsDangling = true
	v := New(Deps{Clock: testClock})

	r := v.Verify(context.Background(), stored)
	assert.Equal(t, StatusUnreachable, r.Status)
	assert.True(t, r.Expected)
}

func TestVerify_SourceFailureIsUnreachable(t *testing.T) {
	// Not being able to ask the source is an unreachable outcome, never a
	// verdict on the stored observation.
	for name, err := range map[string]error{
		"unavailable":  &source.SourceUnavailableError{Source: "github_api", Op: "x", Err: context.DeadlineExceeded},
		"rate limited": &source.RateLimitedError{Source: "github_api"},
	} {
		t.Run(name, func(t *testing.T) {
			stored := storedCommit(evidence.SourceGitHub)
			v := New(Deps{GitHub: &fakeGitHub{err: err}, Clock: testClock})

			r := v.Verify(context.Background(), stored)
			assert.Equal(t, StatusUnreachable, r.Status)
			assert.False(t, r.Expected)
			assert.NotEmpty(t, r.Detail)
		})
	}
}

func TestVerify_MissingRepositoryLeavesUnverified(t *testing.T) {
	// A repository is optional on an observation, so a commit stored
	// without one is valid but cannot be re-fetched.
	stored := storedCommit(evidence.SourceGitHub)
	stored.Repository = nil
	require.NoError(t, stored.Validate())

	v := New(Deps{GitHub: &fakeGitHub{commit: liveCommit(stored.Message, stored.Author.Date)}, Clock: testClock})
	r := v.Verify(context.Background(), stored)
	assert.Equal(t, StatusUnverified, r.Status)
	assert.Contains(t, r.Detail, "no repository recorded")
}

func TestVerify_IOCReSubstantiated(t *testing.T) {
	ioc := &evidence.IOC{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindIOC, "domain", "evil.example"),
			ObservedWhen: testClock(),
			ObservedBy:   evidence.SourceGitHub,
			Verification: evidence.Verification{Source: evidence.SourceGitHub, URL: "https://page.test", QueriedAt: testClock()},
		},
		ObservationType: evidence.KindIOC,
		IOCType:         evidence.IOCDomain,
		Value:           "evil.example",
	}
	fetcher := &fakeFetcher{pages: map[string]string{"https://page.test": "traffic to evil.example observed"}}
	v := New(Deps{Fetcher: fetcher, Clock: testClock})

	r := v.Verify(context.Background(), ioc)
	assert.Equal(t, StatusConfirmed, r.Status)

	fetcher.pages["https://page.test"] = "the page was edited"
	r = v.Verify(context.Background(), ioc)
	require.Equal(t, StatusMismatched, r.Status)
	assert.Equal(t, "value", r.Diffs[0].Field)
}

func TestVerify_VendorIOCStillChecked(t *testing.T) {
	ioc := &evidence.IOC{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindIOC, "domain", "evil.example"),
			ObservedWhen: testClock(),
			ObservedBy:   evidence.SourceVendor,
			Verification: evidence.Verification{Source: evidence.SourceVendor, URL: "https://advisory.test", QueriedAt: testClock()},
		},
		ObservationType: evidence.KindIOC,
		IOCType:         evidence.IOCDomain,
		Value:           "evil.example",
	}
	fetcher := &fakeFetcher{pages: map[string]string{"https://advisory.test": "C2 at evil.example"}}
	v := New(Deps{Fetcher: fetcher, Clock: testClock})

	// Vendor provenance does not exempt an indicator from re-substantiation.
	r := v.Verify(context.Background(), ioc)
	assert.Equal(t, StatusConfirmed, r.Status)

	// A vendor page taken down is the expected end state of a citation.
	delete(fetcher.pages, "https://advisory.test")
	r = v.Verify(context.Background(), ioc)
	require.Equal(t, StatusUnreachable, r.Status)
	assert.True(t, r.Expected)
	assert.Equal(t, "unreachable (expected)", r.Label())
}

func TestVerifyAll_NoShortCircuit(t *testing.T) {
	confirmed := storedCommit(evidence.SourceGitHub)
	mismatched := storedCommit(evidence.SourceGitHub)
	mismatched.Message = "this will not match the live commit"
	archival := storedCommit(evidence.SourceGHArchive)

	gh := &fakeGitHub{commit: liveCommit(confirmed.Message, confirmed.Author.Date)}
	v := New(Deps{GitHub: gh, Clock: testClock, Concurrency: 2})

	results := v.VerifyAll(context.Background(), []evidence.Evidence{confirmed, mismatched, archival})
	require.Len(t, results, 3)
	assert.Equal(t, confirmed.ID(), results[0].EvidenceID)
	assert.Equal(t, StatusConfirmed, results[0].Status)
	assert.Equal(t, StatusMismatched, results[1].Status)
	assert.Equal(t, StatusUnreachable, results[2].Status)
	assert.True(t, results[2].Expected)
}

func TestReportTallies(t *testing.T) {
	results := []*Result{
		{Status: StatusConfirmed},
		{Status: StatusConfirmed},
		{Status: StatusMismatched},
		{Status: StatusUnreachable, Expected: true},
		{Status: StatusUnreachable},
		{Status: StatusUnverified},
	}
	report := NewReport(results, testClock())
	assert.NotEmpty(t, report.ReportID)
	assert.Equal(t, 2, report.Confirmed)
	assert.Equal(t, 1, report.Mismatched)
	assert.Equal(t, 1, report.Unreachable)
	assert.Equal(t, 1, report.UnreachableExpected)
	assert.Equal(t, 1, report.Unverified)
	assert.False(t, report.Clean())

	clean := NewReport([]*Result{{Status: StatusConfirmed}, {Status: StatusUnreachable, Expected: true}}, testClock())
	assert.True(t, clean.Clean())
}
