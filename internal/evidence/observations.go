package evidence

import (
	"fmt"
	"regexp"
	"time"
)

// Observation kinds. These double as the observation_type JSON discriminator.
const (
	KindCommit    = "commit"
	KindIssue     = "issue"
	KindFile      = "file"
	KindBranch    = "branch"
	KindTag       = "tag"
	KindRelease   = "release"
	KindFork      = "fork"
	KindSnapshot  = "snapshot"
	KindArticle   = "article"
	KindIOC       = "ioc"
	KindForcePush = "force_push"
)

// ObservationBase carries the fields common to every observation. An
// observation keeps two perspectives apart: the original fact as best we
// know it (all optional), and how and when the collector found it
// (required). You cannot observe something before it happened, so
// ObservedWhen is never earlier than OriginalWhen.
type ObservationBase struct {
	EvidenceID string `json:"evidence_id"`

	OriginalWhen *time.Time `json:"original_when,omitempty"`
	OriginalWho  *Actor     `json:"original_who,omitempty"`
	OriginalWhat string     `json:"original_what,omitempty"`

	ObservedWhen time.Time `json:"observed_when"`
	ObservedBy   Source    `json:"observed_by"`
	ObservedWhat string    `json:"observed_what"`

	Repository   *Repository  `json:"repository,omitempty"`
	Verification Verification `json:"verification"`

	// IsDeleted is true when the underlying entity is confirmed absent
	// from its canonical live location.
	IsDeleted bool `json:"is_deleted,omitempty"`
}

func (o *ObservationBase) ID() string               { return o.EvidenceID }
func (o *ObservationBase) Provenance() Verification { return o.Verification }
func (o *ObservationBase) Actor() *Actor            { return o.OriginalWho }
func (o *ObservationBase) Repo() *Repository        { return o.Repository }
func (o *ObservationBase) evidence()                {}

func (o *ObservationBase) Time() time.Time {
	if o.OriginalWhen != nil && !o.OriginalWhen.IsZero() {
		return *o.OriginalWhen
	}
	return o.ObservedWhen
}

func (o *ObservationBase) validateBase() error {
	if o.EvidenceID == "" {
		return fmt.Errorf("observation: missing evidence_id")
	}
	if o.ObservedWhen.IsZero() {
		return fmt.Errorf("observation %s: missing observed_when", o.EvidenceID)
	}
	if !o.ObservedBy.Valid() {
		return fmt.Errorf("observation %s: unknown source %q", o.EvidenceID, o.ObservedBy)
	}
	if o.OriginalWhen != nil && o.ObservedWhen.Before(*o.OriginalWhen) {
		return fmt.Errorf("observation %s: observed_when %s precedes original_when %s",
			o.EvidenceID, o.ObservedWhen.Format(time.RFC3339), o.OriginalWhen.Format(time.RFC3339))
	}
	return nil
}

var shaRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// CommitObservation is a full commit as found at a source. IsDangling
// marks commits present in the object store but unreachable from any ref.
type CommitObservation struct {
	ObservationBase
	ObservationType string       `json:"observation_type"`
	SHA             string       `json:"sha"`
	Message         string       `json:"message"`
	Author          CommitAuthor `json:"author"`
	Committer       CommitAuthor `json:"committer"`
	Parents         []string     `json:"parents,omitempty"`
	Files           []FileChange `json:"files,omitempty"`
	IsDangling      bool         `json:"is_dangling,omitempty"`
}

func (o *CommitObservation) Kind() string { return KindCommit }

func (o *CommitObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if !shaRe.MatchString(o.SHA) {
		return fmt.Errorf("commit %s: sha %q is not 40 hex chars", o.EvidenceID, o.SHA)
	}
	return nil
}

// IssueObservation is an issue or pull request as found at a source.
type IssueObservation struct {
	ObservationBase
	ObservationType string `json:"observation_type"`
	IssueNumber     int    `json:"issue_number"`
	IsPullRequest   bool   `json:"is_pull_request,omitempty"`
	Title           string `json:"title,omitempty"`
	Body            string `json:"body,omitempty"`
	State           string `json:"state,omitempty"` // open, closed, merged
}

func (o *IssueObservation) Kind() string { return KindIssue }

func (o *IssueObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.IssueNumber <= 0 {
		return fmt.Errorf("issue %s: missing issue_number", o.EvidenceID)
	}
	return nil
}

// FileObservation is file content at a ref.
type FileObservation struct {
	ObservationBase
	ObservationType string `json:"observation_type"`
	FilePath        string `json:"file_path"`
	Ref             string `json:"ref,omitempty"`
	Content         string `json:"content,omitempty"`
	ContentHash     string `json:"content_hash,omitempty"` // SHA-256 of content
	SizeBytes       int64  `json:"size_bytes,omitempty"`
}

func (o *FileObservation) Kind() string { return KindFile }

func (o *FileObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.FilePath == "" {
		return fmt.Errorf("file %s: missing file_path", o.EvidenceID)
	}
	return nil
}

// BranchObservation is a branch head as found at a source.
type BranchObservation struct {
	ObservationBase
	ObservationType string `json:"observation_type"`
	BranchName      string `json:"branch_name"`
	HeadSHA         string `json:"head_sha,omitempty"`
	Protected       bool   `json:"protected,omitempty"`
}

func (o *BranchObservation) Kind() string { return KindBranch }

func (o *BranchObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.BranchName == "" {
		return fmt.Errorf("branch %s: missing branch_name", o.EvidenceID)
	}
	return nil
}

// TagObservation is a tag as found at a source.
type TagObservation struct {
	ObservationBase
	ObservationType string `json:"observation_type"`
	TagName         string `json:"tag_name"`
	TargetSHA       string `json:"target_sha,omitempty"`
}

func (o *TagObservation) Kind() string { return KindTag }

func (o *TagObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.TagName == "" {
		return fmt.Errorf("tag %s: missing tag_name", o.EvidenceID)
	}
	return nil
}

// ReleaseObservation is a release as found at a source.
type ReleaseObservation struct {
	ObservationBase
	ObservationType string     `json:"observation_type"`
	TagName         string     `json:"tag_name"`
	ReleaseName     string     `json:"release_name,omitempty"`
	ReleaseBody     string     `json:"release_body,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	IsPrerelease    bool       `json:"is_prerelease,omitempty"`
	IsDraft         bool       `json:"is_draft,omitempty"`
}

func (o *ReleaseObservation) Kind() string { return KindRelease }

func (o *ReleaseObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.TagName == "" {
		return fmt.Errorf("release %s: missing tag_name", o.EvidenceID)
	}
	return nil
}

// ForkObservation is a fork relationship as found at a source.
type ForkObservation struct {
	ObservationBase
	ObservationType string     `json:"observation_type"`
	ForkFullName    string     `json:"fork_full_name"`
	ParentFullName  string     `json:"parent_full_name,omitempty"`
	ForkedAt        *time.Time `json:"forked_at,omitempty"`
}

func (o *ForkObservation) Kind() string { return KindFork }

func (o *ForkObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.ForkFullName == "" {
		return fmt.Errorf("fork %s: missing fork_full_name", o.EvidenceID)
	}
	return nil
}

// Snapshot is a single Wayback Machine capture as returned by the CDX API.
type Snapshot struct {
	Timestamp  string `json:"timestamp"` // YYYYMMDDHHMMSS
	Original   string `json:"original"`
	Digest     string `json:"digest,omitempty"`
	MimeType   string `json:"mimetype,omitempty"`
	StatusCode string `json:"statuscode,omitempty"`
	Length     string `json:"length,omitempty"`
}

// SnapshotObservation is the set of Wayback captures found for a URL.
type SnapshotObservation struct {
	ObservationBase
	ObservationType string     `json:"observation_type"`
	OriginalURL     string     `json:"original_url"`
	Snapshots       []Snapshot `json:"snapshots"`
	TotalSnapshots  int        `json:"total_snapshots"`
}

func (o *SnapshotObservation) Kind() string { return KindSnapshot }

func (o *SnapshotObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.OriginalURL == "" {
		return fmt.Errorf("snapshot %s: missing original_url", o.EvidenceID)
	}
	return nil
}

// ArticleObservation is an external article documenting an incident:
// a vendor advisory, blog post or news piece. EvidenceIDs cross-references
// evidence items the article documents.
type ArticleObservation struct {
	ObservationBase
	ObservationType string     `json:"observation_type"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	Author          string     `json:"author,omitempty"`
	PublishedDate   *time.Time `json:"published_date,omitempty"`
	SourceName      string     `json:"source_name,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	EvidenceIDs     []string   `json:"evidence_ids,omitempty"`
}

func (o *ArticleObservation) Kind() string { return KindArticle }

func (o *ArticleObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.URL == "" {
		return fmt.Errorf("article %s: missing url", o.EvidenceID)
	}
	return nil
}

// IOC is an Indicator of Compromise: an observation whose value was shown,
// at construction time, to actually occur in the content at its
// verification URL. The factory refuses to build one otherwise.
type IOC struct {
	ObservationBase
	ObservationType string     `json:"observation_type"`
	IOCType         IOCType    `json:"ioc_type"`
	Value           string     `json:"value"`
	FirstSeen       *time.Time `json:"first_seen,omitempty"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	ExtractedFrom   string     `json:"extracted_from,omitempty"` // evidence ID
}

func (o *IOC) Kind() string { return KindIOC }

func (o *IOC) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if !o.IOCType.Valid() {
		return fmt.Errorf("ioc %s: unknown ioc_type %q", o.EvidenceID, o.IOCType)
	}
	if o.Value == "" {
		return fmt.Errorf("ioc %s: missing value", o.EvidenceID)
	}
	if o.Verification.URL == "" {
		return fmt.Errorf("ioc %s: missing verification url", o.EvidenceID)
	}
	return nil
}

// ForcePushObservation records a commit overwritten by a force push, as
// reconstructed from archived push events. DeletedSHA is the head that was
// discarded; ReplacedBySHA is what overwrote it.
type ForcePushObservation struct {
	ObservationBase
	ObservationType string `json:"observation_type"`
	Branch          string `json:"branch"`
	DeletedSHA      string `json:"deleted_sha"`
	ReplacedBySHA   string `json:"replaced_by_sha"`
	Pusher          Actor  `json:"pusher"`
}

func (o *ForcePushObservation) Kind() string { return KindForcePush }

func (o *ForcePushObservation) Validate() error {
	if err := o.validateBase(); err != nil {
		return err
	}
	if o.DeletedSHA == "" || o.ReplacedBySHA == "" {
		return fmt.Errorf("force_push %s: missing before/after sha", o.EvidenceID)
	}
	return nil
}
