// Package verify re-derives stored evidence from its recorded provenance
// and reports whether the source still agrees. Verification never mutates
// evidence; it only produces results.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harrowsec/ghtrail/internal/collect"
	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/logging"
	"github.com/harrowsec/ghtrail/internal/source"
)

// Status is the verification state of one evidence item.
type Status string

const (
	StatusUnverified  Status = "unverified"
	StatusVerifying   Status = "verifying"
	StatusConfirmed   Status = "confirmed"
	StatusMismatched  Status = "mismatched"
	StatusUnreachable Status = "unreachable"
)

// Result is the outcome of verifying one evidence item.
type Result struct {
	EvidenceID string      `json:"evidence_id"`
	Kind       string      `json:"kind"`
	Status     Status      `json:"status"`
	Expected   bool        `json:"expected,omitempty"`
	Diffs      []FieldDiff `json:"diffs,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Label renders the status for humans, distinguishing the unreachable
// case that means "working as intended" from the one that means
// "evidence vanished".
func (r *Result) Label() string {
	if r.Status == StatusUnreachable && r.Expected {
		return string(StatusUnreachable) + " (expected)"
	}
	return string(r.Status)
}

// Deps are the verifier's source clients. A nil member makes evidence
// needing that source come back unverified.
type Deps struct {
	GitHub      collect.GitHubAPI
	Fetcher     collect.ContentFetcher
	OpenRepo    func(path string) (collect.GitRepo, error)
	Clock       func() time.Time
	Logger      *logging.Logger
	Concurrency int
}

// Verifier checks stored evidence against its sources.
type Verifier struct {
	github      collect.GitHubAPI
	fetcher     collect.ContentFetcher
	openRepo    func(path string) (collect.GitRepo, error)
	clock       func() time.Time
	log         *logging.Logger
	concurrency int
}

// New creates a Verifier.
func New(deps Deps) *Verifier {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Fetcher == nil {
		deps.Fetcher = collect.NewHTTPFetcher(0)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 4
	}
	return &Verifier{
		github:      deps.GitHub,
		fetcher:     deps.Fetcher,
		openRepo:    deps.OpenRepo,
		clock:       deps.Clock,
		log:         deps.Logger,
		concurrency: deps.Concurrency,
	}
}

// expectedAbsent reports whether finding nothing at the live location is
// the anticipated outcome: archival sources describe the past, and
// deleted or dangling entities were collected precisely because they are
// gone from the live site.
func expectedAbsent(ev evidence.Evidence) bool {
	switch ev.(type) {
	case *evidence.IOC, *evidence.ArticleObservation:
		// Always re-checkable: the cited URL either still carries the
		// claim or it does not, whoever made it.
		return false
	}
	if ev.Provenance().Source.Archival() {
		return true
	}
	switch obs := ev.(type) {
	case *evidence.CommitObservation:
		return obs.IsDeleted || obs.IsDangling
	case *evidence.IssueObservation:
		return obs.IsDeleted
	case *evidence.FileObservation:
		return obs.IsDeleted
	case *evidence.BranchObservation:
		return obs.IsDeleted
	case *evidence.TagObservation:
		return obs.IsDeleted
	case *evidence.ReleaseObservation:
		return obs.IsDeleted
	case *evidence.ForkObservation:
		return obs.IsDeleted
	}
	return false
}

func (v *Verifier) result(ev evidence.Evidence, status Status) *Result {
	return &Result{
		EvidenceID: ev.ID(),
		Kind:       ev.Kind(),
		Status:     status,
		CheckedAt:  evidence.NormTime(v.clock()),
	}
}

// Verify checks one evidence item against its source. Any source failure
// makes the item unreachable rather than mismatched: not being able to
// ask is not the same as the source disagreeing, and it never implies the
// stored observation was false. Unverified is reserved for items the
// verifier is not equipped to check at all.
func (v *Verifier) Verify(ctx context.Context, ev evidence.Evidence) *Result {
	if expectedAbsent(ev) {
		r := v.result(ev, StatusUnreachable)
		r.Expected = true
		r.Detail = fmt.Sprintf("source %s is archival or the entity was collected as absent", ev.Provenance().Source)
		return r
	}

	r, err := v.dispatch(ctx, ev)
	if err != nil {
		if sourceFailure(err) {
			r = v.result(ev, StatusUnreachable)
			// A vendor page or archived capture that has since vanished
			// is the anticipated fate of archival citations.
			r.Expected = ev.Provenance().Source.Archival()
			r.Detail = err.Error()
			var nf *source.NotFoundError
			if errors.As(err, &nf) && !r.Expected {
				v.log.WarnContext(ctx, "evidence vanished from source", "evidence_id", ev.ID(), "kind", ev.Kind())
			}
			return r
		}
		r = v.result(ev, StatusUnverified)
		r.Detail = err.Error()
		return r
	}
	return r
}

// sourceFailure reports whether err came from asking the source, as
// opposed to the verifier lacking a client or coordinates to ask with.
func sourceFailure(err error) bool {
	var (
		nf          *source.NotFoundError
		unavailable *source.SourceUnavailableError
		limited     *source.RateLimitedError
	)
	return errors.As(err, &nf) || errors.As(err, &unavailable) || errors.As(err, &limited)
}

// repoCoords extracts the owner and name a live refetch needs. A stored
// observation is free to omit its repository, so a missing one is a
// cannot-check condition, never a panic.
func repoCoords(rep *evidence.Repository) (string, string, error) {
	if rep == nil || rep.Owner == "" || rep.Name == "" {
		return "", "", fmt.Errorf("no repository recorded to re-fetch from")
	}
	return rep.Owner, rep.Name, nil
}

func (v *Verifier) dispatch(ctx context.Context, ev evidence.Evidence) (*Result, error) {
	switch obs := ev.(type) {
	case *evidence.CommitObservation:
		if obs.ObservedBy == evidence.SourceLocalGit {
			return v.verifyLocalCommit(obs)
		}
		return v.verifyCommit(ctx, obs)
	case *evidence.IssueObservation:
		return v.verifyIssue(ctx, obs)
	case *evidence.FileObservation:
		return v.verifyFile(ctx, obs)
	case *evidence.BranchObservation:
		return v.verifyBranch(ctx, obs)
	case *evidence.TagObservation:
		return v.verifyTag(ctx, obs)
	case *evidence.ReleaseObservation:
		return v.verifyRelease(ctx, obs)
	case *evidence.ForkObservation:
		return v.verifyFork(ctx, obs)
	case *evidence.IOC:
		return v.verifyIOC(ctx, obs)
	case *evidence.ArticleObservation:
		return v.verifyArticle(ctx, obs)
	default:
		// Anything else is only producible from archival sources and is
		// handled by the expectedAbsent gate before dispatch.
		r := v.result(ev, StatusUnverified)
		r.Detail = fmt.Sprintf("kind %s has no live source to check against", ev.Kind())
		return r, nil
	}
}

func (v *Verifier) finish(ev evidence.Evidence, diffs []FieldDiff) *Result {
	if len(diffs) > 0 {
		r := v.result(ev, StatusMismatched)
		r.Diffs = diffs
		return r
	}
	return v.result(ev, StatusConfirmed)
}

func (v *Verifier) verifyCommit(ctx context.Context, obs *evidence.CommitObservation) (*Result, error) {
	if v.github == nil {
		return nil, fmt.Errorf("no github client configured")
	}
	owner, name, err := repoCoords(obs.Repository)
	if err != nil {
		return nil, err
	}
	live, err := v.github.Commit(ctx, owner, name, obs.SHA)
	if err != nil {
		return nil, err
	}

	var diffs []FieldDiff
	diffs = appendDiff(diffs, diffExact("sha", obs.SHA, live.SHA))
	diffs = appendDiff(diffs, diffText("message", obs.Message, live.Commit.Message))
	diffs = appendDiff(diffs, diffSignature("author", obs.Author, evidence.CommitAuthor{
		Name: live.Commit.Author.Name, Email: live.Commit.Author.Email, Date: live.Commit.Author.Date,
	}))
	diffs = appendDiff(diffs, diffSignature("committer", obs.Committer, evidence.CommitAuthor{
		Name: live.Commit.Committer.Name, Email: live.Commit.Committer.Email, Date: live.Commit.Committer.Date,
	}))
	return v.finish(obs, diffs), nil
}

func (v *Verifier) verifyLocalCommit(obs *evidence.CommitObservation) (*Result, error) {
	if v.openRepo == nil {
		return nil, fmt.Errorf("no local repository opener configured")
	}
	repo, err := v.openRepo(obs.Verification.URL)
	if err != nil {
		return nil, err
	}
	live, err := repo.Commit(obs.SHA)
	if err != nil {
		return nil, err
	}

	var diffs []FieldDiff
	diffs = appendDiff(diffs, diffExact("sha", obs.SHA, live.SHA))
	diffs = appendDiff(diffs, diffText("message", obs.Message, live.Message))
	diffs = appendDiff(diffs, diffSignature("author", obs.Author, evidence.CommitAuthor{
		Name: live.AuthorName, Email: live.AuthorEmail, Date: live.AuthorDate,
	}))
	return v.finish(obs, diffs), nil
}

func (v *Verifier) verifyIssue(ctx context.Context, obs *evidence.IssueObservation) (*Result, error) {
	if v.github == nil {
		return nil, fmt.Errorf("no github client configured")
	}
	owner, name, err := repoCoords(obs.Repository)
	if err != nil {
		return nil, err
	}
	live, err := v.github.Issue(ctx, owner, name, obs.IssueNumber)
	if err != nil {
		return nil, err
	}

	var diffs []FieldDiff
	diffs = appendDiff(diffs, diffExact("issue_number", fmt.Sprint(obs.IssueNumber), fmt.Sprint(live.Number)))
	diffs = appendDiff(diffs, diffText("title", obs.Title, live.Title))
	diffs = appendDiff(diffs, diffText("body", obs.Body, live.Body))
	if obs.State != "" {
		diffs = appendDiff(diffs, diffExact("state", obs.State, live.State))
	}
	return v.finish(obs, diffs), nil
}

func (v *Verifier) verifyFile(ctx context.Context, obs *evidence.FileObservation) (*Result, error) {
	if v.github == nil {
		return nil, fmt.Errorf("no github client configured")
	}
	owner, name, err := repoCoords(obs.Repository)
	if err != nil {
		return nil, err
	}
	live, err := v.github.Contents(ctx, owner, name, obs.FilePath, obs.Ref)
	if err != nil {
		return nil, err
	}

	content := live.Content
	if live.Encoding == "base64" {
		if decoded, err := base64.StdEncoding.DecodeString(content); err == nil {
			content = string(decoded)
		}
	}

	var diffs []FieldDiff
	if obs.ContentHash != "" {
		sum := sha256.Sum256([]byte(content))
		diffs = appendDiff(diffs, diffExact("content_hash", obs.ContentHash, hex.EncodeToString(sum[:])))
	} else {
		diffs = appendDiff(diffs, diffText("content", obs.Content, content))
	}
	return v.finish(obs, diffs), nil
}

func (v *Verifier) verifyBranch(ctx context.Context, obs *evidence.BranchObservation) (*Result, error) {
	if v.github == nil {
		return nil, fmt.Errorf("no github client configured")
	}
	owner, name, err := repoCoords(obs.Repository)
	if err != nil {
		return nil, err
	}
	live, err := v.github.Branch(ctx, owner, name, obs.BranchName)
	if err != nil {
		return nil, err
	}

	var diffs []FieldDiff
	diffs = appendDiff(diffs, diffExact("branch_name", obs.BranchName, live.Name))
	if obs.HeadSHA != "" {
		diffs = appendDiff(diffs, diffExact("head_sha", obs.HeadSHA, live.Commit.SHA))
	}
	return v.finish(obs, diffs), nil
}

func (v *Verifier) verifyTag(ctx context.Context, obs *evidence.TagObservation) (*Result, error) {
	if v.github == nil {
		return nil, fmt.Errorf("no github client configured")
	}
	owner, name, err := repoCoords(obs.Repository)
	if err != nil {
		return nil, err
	}
	live, err := v.github.TagRef(ctx, owner, name, obs.TagName)
	if err != nil {
		return nil, err
	}

	var diffs []FieldDiff
	if obs.TargetSHA != "" {
		diffs = appendDiff(diffs, diffExact("target_sha", obs.TargetSHA, live.Object.SHA))
	}
	return v.finish(obs, diffs), nil
}

func (v *Verifier) verifyRelease(ctx context.Context, obs *evidence.ReleaseObservation) (*Result, error) {
	if v.github == nil {
		return nil, fmt.Errorf("no github client configured")
	}
	owner, name, err := repoCoords(obs.Repository)
	if err != nil {
		return nil, err
	}
	live, err := v.github.ReleaseByTag(ctx, owner, name, obs.TagName)
	if err != nil {
		return nil, err
	}

	var diffs []FieldDiff
	diffs = appendDiff(diffs, diffExact("tag_name", obs.TagName, live.TagName))
	diffs = appendDiff(diffs, diffText("release_name", obs.ReleaseName, live.Name))
	diffs = appendDiff(diffs, diffText("release_body", obs.ReleaseBody, live.Body))
	return v.finish(obs, diffs), nil
}

func (v *Verifier) verifyFork(ctx context.Context, obs *evidence.ForkObservation) (*Result, error) {
	if v.github == nil {
		return nil, fmt.Errorf("no github client configured")
	}
	owner, name, err := repoCoords(obs.Repository)
	if err != nil {
		return nil, err
	}
	forks, err := v.github.Forks(ctx, owner, name, 100)
	if err != nil {
		return nil, err
	}
	for _, fork := range forks {
		if fork.FullName == obs.ForkFullName {
			return v.result(obs, StatusConfirmed), nil
		}
	}
	r := v.result(obs, StatusUnreachable)
	r.Detail = fmt.Sprintf("fork %s no longer listed under %s", obs.ForkFullName, obs.Repository.FullName)
	return r, nil
}

// verifyIOC re-substantiates the indicator: the value must still occur in
// the content at the cited URL, under the same case-sensitive containment
// rule the factory applied at construction.
func (v *Verifier) verifyIOC(ctx context.Context, obs *evidence.IOC) (*Result, error) {
	content, err := v.fetcher.Fetch(ctx, obs.Verification.URL)
	if err != nil {
		return nil, err
	}
	if strings.Contains(content, obs.Value) {
		return v.result(obs, StatusConfirmed), nil
	}
	r := v.result(obs, StatusMismatched)
	r.Diffs = []FieldDiff{{Field: "value", Want: obs.Value, Got: "absent from " + obs.Verification.URL}}
	return r, nil
}

func (v *Verifier) verifyArticle(ctx context.Context, obs *evidence.ArticleObservation) (*Result, error) {
	if _, err := v.fetcher.Fetch(ctx, obs.URL); err != nil {
		return nil, err
	}
	return v.result(obs, StatusConfirmed), nil
}

// VerifyAll verifies a batch concurrently. Every item gets a result; one
// item failing never short-circuits the rest. Results come back in input
// order.
func (v *Verifier) VerifyAll(ctx context.Context, items []evidence.Evidence) []*Result {
	results := make([]*Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, ev := range items {
		g.Go(func() error {
			v.log.DebugContext(gctx, "verifying evidence",
				"evidence_id", ev.ID(), "kind", ev.Kind(), "status", StatusVerifying)
			results[i] = v.Verify(gctx, ev)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
	return results
}
