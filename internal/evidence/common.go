// Package evidence defines the typed forensic evidence model: Events
// (something happened, asserted with authority), Observations (something
// we found, which may describe a past reality) and IOCs (observations
// whose value was substantiated against the cited source).
//
// Evidence objects are immutable once constructed. The only legitimate
// construction paths are the collect.Factory and JSON deserialization of
// previously produced evidence; nothing else should hand-build these
// structs.
package evidence

import "time"

// Source identifies where a piece of evidence was obtained from.
type Source string

const (
	SourceGitHub    Source = "github_api"
	SourceGHArchive Source = "gharchive"
	SourceWayback   Source = "wayback"
	SourceLocalGit  Source = "git_local"
	SourceVendor    Source = "vendor"
)

// Valid reports whether s is a known evidence source.
func (s Source) Valid() bool {
	switch s {
	case SourceGitHub, SourceGHArchive, SourceWayback, SourceLocalGit, SourceVendor:
		return true
	}
	return false
}

// Archival reports whether the source is archival by nature: its records
// describe the past and are expected to be absent from the live location.
func (s Source) Archival() bool {
	switch s {
	case SourceGHArchive, SourceWayback, SourceVendor:
		return true
	}
	return false
}

// Actor is a GitHub user or bot.
type Actor struct {
	Login string `json:"login"`
	ID    int64  `json:"id,omitempty"`
	IsBot bool   `json:"is_bot,omitempty"`
}

// Repository references a GitHub repository.
type Repository struct {
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	ID       int64  `json:"id,omitempty"`
}

// NewRepository builds a Repository reference from owner and name.
func NewRepository(owner, name string) *Repository {
	return &Repository{Owner: owner, Name: name, FullName: owner + "/" + name}
}

// Verification records exactly how a piece of evidence was obtained and
// therefore how to re-derive it later. It is stamped at construction and
// never synthesized after the fact.
type Verification struct {
	Source        Source    `json:"source"`
	URL           string    `json:"url,omitempty"`
	Query         string    `json:"query,omitempty"`
	BigQueryTable string    `json:"bigquery_table,omitempty"`
	QueriedAt     time.Time `json:"queried_at"`
}

// IOCType enumerates the indicator kinds an IOC may carry.
type IOCType string

const (
	IOCCommitSHA    IOCType = "commit_sha"
	IOCFilePath     IOCType = "file_path"
	IOCFileHash     IOCType = "file_hash"
	IOCCodeSnippet  IOCType = "code_snippet"
	IOCEmail        IOCType = "email"
	IOCUsername     IOCType = "username"
	IOCRepository   IOCType = "repository"
	IOCTagName      IOCType = "tag_name"
	IOCBranchName   IOCType = "branch_name"
	IOCWorkflowName IOCType = "workflow_name"
	IOCIPAddress    IOCType = "ip_address"
	IOCDomain       IOCType = "domain"
	IOCURL          IOCType = "url"
	IOCAPIKey       IOCType = "api_key"
	IOCSecret       IOCType = "secret"
)

// Valid reports whether t is a known IOC type.
func (t IOCType) Valid() bool {
	switch t {
	case IOCCommitSHA, IOCFilePath, IOCFileHash, IOCCodeSnippet, IOCEmail,
		IOCUsername, IOCRepository, IOCTagName, IOCBranchName,
		IOCWorkflowName, IOCIPAddress, IOCDomain, IOCURL, IOCAPIKey, IOCSecret:
		return true
	}
	return false
}

// Evidence is the closed set of evidence variants. The unexported marker
// keeps the set sealed to this package; dispatch happens on Kind, which is
// also the JSON discriminator.
type Evidence interface {
	// ID returns the deterministic evidence identifier.
	ID() string
	// Kind returns the discriminator value ("push", "commit", "ioc", ...).
	Kind() string
	// Time returns the primary timestamp: when an event happened, or the
	// original time of an observation when known, else when it was observed.
	Time() time.Time
	// Provenance returns the verification descriptor stamped at construction.
	Provenance() Verification
	// Actor returns the acting (event) or originating (observation) actor,
	// nil when unknown.
	Actor() *Actor
	// Repo returns the subject repository, nil when not repository-scoped.
	Repo() *Repository
	// Validate checks structural invariants. Called by the factory and the
	// JSON decoder; an Evidence value that fails Validate must never escape.
	Validate() error

	evidence()
}

// CommitAuthor is a name/email/date signature on a commit.
type CommitAuthor struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// FileChange describes one file touched by a commit.
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"` // added, modified, removed, renamed
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
	Patch     string `json:"patch,omitempty"`
}
