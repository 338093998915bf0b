// Package collect turns source records into evidence. The Factory is the
// only construction path for evidence objects: it stamps deterministic IDs
// and provenance at build time, normalizes every timestamp, and refuses to
// mint IOCs whose value cannot be found at the cited source.
package collect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/logging"
	"github.com/harrowsec/ghtrail/internal/source"
	"github.com/harrowsec/ghtrail/internal/source/gharchive"
	"github.com/harrowsec/ghtrail/internal/source/github"
	"github.com/harrowsec/ghtrail/internal/source/gitlocal"
	"github.com/harrowsec/ghtrail/internal/source/wayback"
)

// GitHubAPI is the slice of the GitHub client the collectors need.
type GitHubAPI interface {
	Commit(ctx context.Context, owner, repo, sha string) (*github.CommitDetail, error)
	Issue(ctx context.Context, owner, repo string, number int) (*github.IssueDetail, error)
	PullRequest(ctx context.Context, owner, repo string, number int) (*github.IssueDetail, error)
	Contents(ctx context.Context, owner, repo, path, ref string) (*github.ContentDetail, error)
	Branch(ctx context.Context, owner, repo, branch string) (*github.BranchDetail, error)
	TagRef(ctx context.Context, owner, repo, tag string) (*github.TagRefDetail, error)
	ReleaseByTag(ctx context.Context, owner, repo, tag string) (*github.ReleaseDetail, error)
	Forks(ctx context.Context, owner, repo string, perPage int) ([]github.ForkDetail, error)
}

// ArchiveAPI is the slice of the GH Archive client the collectors need.
type ArchiveAPI interface {
	QueryEvents(ctx context.Context, q gharchive.EventQuery) ([]gharchive.Row, error)
}

// WaybackAPI is the slice of the Wayback client the collectors need.
type WaybackAPI interface {
	Search(ctx context.Context, target, from, to string, limit int) ([]wayback.Capture, error)
	Snapshot(ctx context.Context, target, timestamp string) (string, error)
}

// GitRepo is the slice of the local git client the collectors need.
type GitRepo interface {
	Path() string
	Commit(rev string) (*gitlocal.Commit, error)
	DanglingCommits() ([]*gitlocal.Commit, error)
}

// ContentFetcher retrieves page content for IOC substantiation.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher is the default ContentFetcher.
type HTTPFetcher struct {
	http *http.Client
}

// NewHTTPFetcher creates a fetcher with the given timeout (30s when zero).
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{http: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &source.SourceUnavailableError{Source: "fetch", Op: url, Err: err}
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", &source.SourceUnavailableError{Source: "fetch", Op: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", &source.NotFoundError{Source: "fetch", Entity: url}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &source.SourceUnavailableError{
			Source: "fetch", Op: url, Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &source.SourceUnavailableError{Source: "fetch", Op: url, Err: err}
	}
	return string(body), nil
}

// Deps are the factory's source clients. Nil members disable the
// corresponding collectors.
type Deps struct {
	GitHub  GitHubAPI
	Archive ArchiveAPI
	Wayback WaybackAPI
	Fetcher ContentFetcher
	Clock   func() time.Time
	Logger  *logging.Logger
}

// Factory builds evidence from source records.
type Factory struct {
	github  GitHubAPI
	archive ArchiveAPI
	wayback WaybackAPI
	fetcher ContentFetcher
	clock   func() time.Time
	log     *logging.Logger
}

// New creates a Factory.
func New(deps Deps) *Factory {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Fetcher == nil {
		deps.Fetcher = NewHTTPFetcher(0)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &Factory{
		github:  deps.GitHub,
		archive: deps.Archive,
		wayback: deps.Wayback,
		fetcher: deps.Fetcher,
		clock:   deps.Clock,
		log:     deps.Logger,
	}
}

// now is the observation timestamp, already normalized.
func (f *Factory) now() time.Time {
	return evidence.NormTime(f.clock())
}

// IOCParams describe an indicator to mint. Content, when non-empty, is
// used for substantiation instead of fetching URL.
type IOCParams struct {
	Type          evidence.IOCType
	Value         string
	URL           string
	Content       string
	ObservedBy    evidence.Source
	Repository    *evidence.Repository
	FirstSeen     time.Time
	LastSeen      time.Time
	ExtractedFrom string
	Context       string
}

// IOC mints an indicator of compromise. The value must occur, byte for
// byte and case sensitively, in the content at p.URL; otherwise the call
// fails with *source.ProvenanceError and nothing is built. A value that
// would be altered by substantiation (trimming, case folding) is a
// different value and must be re-cited.
func (f *Factory) IOC(ctx context.Context, p IOCParams) (*evidence.IOC, error) {
	if p.URL == "" {
		return nil, fmt.Errorf("ioc %q: no source url to substantiate against", p.Value)
	}
	content := p.Content
	if content == "" {
		fetched, err := f.fetcher.Fetch(ctx, p.URL)
		if err != nil {
			return nil, err
		}
		content = fetched
	}
	if !strings.Contains(content, p.Value) {
		return nil, &source.ProvenanceError{Value: p.Value, URL: p.URL}
	}

	observedBy := p.ObservedBy
	if observedBy == "" {
		observedBy = evidence.SourceVendor
	}
	ioc := &evidence.IOC{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindIOC, string(p.Type), p.Value),
			ObservedWhen: f.now(),
			ObservedBy:   observedBy,
			ObservedWhat: p.Context,
			Repository:   p.Repository,
			Verification: evidence.Verification{
				Source:    observedBy,
				URL:       p.URL,
				QueriedAt: f.now(),
			},
		},
		ObservationType: evidence.KindIOC,
		IOCType:         p.Type,
		Value:           p.Value,
		FirstSeen:       evidence.NormTimePtr(p.FirstSeen),
		LastSeen:        evidence.NormTimePtr(p.LastSeen),
		ExtractedFrom:   p.ExtractedFrom,
	}
	if err := ioc.Validate(); err != nil {
		return nil, err
	}
	return ioc, nil
}
