package evidence

import (
	"fmt"
	"time"
)

// Event kinds. These double as the event_type JSON discriminator.
const (
	KindPush         = "push"
	KindPullRequest  = "pull_request"
	KindIssueEvent   = "issue_event"
	KindIssueComment = "issue_comment"
	KindCreate       = "create"
	KindDelete       = "delete"
	KindForkEvent    = "fork_event"
	KindWorkflowRun  = "workflow_run"
	KindReleaseEvent = "release_event"
	KindWatch        = "watch"
	KindMember       = "member"
	KindPublic       = "public"
)

// EventBase carries the fields common to every event: something that
// happened, asserted with authority. Who is required; an action without a
// known actor is not an event, it is at best an observation.
//
// Events originate only from tamper-resistant logs (GH Archive, local git
// history), never from a source that can be edited after the fact.
type EventBase struct {
	EvidenceID   string       `json:"evidence_id"`
	When         time.Time    `json:"when"`
	Who          Actor        `json:"who"`
	What         string       `json:"what"`
	Repository   *Repository  `json:"repository,omitempty"`
	Verification Verification `json:"verification"`
}

func (e *EventBase) ID() string               { return e.EvidenceID }
func (e *EventBase) Time() time.Time          { return e.When }
func (e *EventBase) Provenance() Verification { return e.Verification }
func (e *EventBase) Actor() *Actor            { return &e.Who }
func (e *EventBase) Repo() *Repository        { return e.Repository }
func (e *EventBase) evidence()                {}

func (e *EventBase) validateBase() error {
	if e.EvidenceID == "" {
		return fmt.Errorf("event: missing evidence_id")
	}
	if e.When.IsZero() {
		return fmt.Errorf("event %s: missing when", e.EvidenceID)
	}
	if e.Who.Login == "" {
		return fmt.Errorf("event %s: missing actor", e.EvidenceID)
	}
	switch e.Verification.Source {
	case SourceGHArchive, SourceLocalGit:
	default:
		return fmt.Errorf("event %s: source %q is not an authoritative log", e.EvidenceID, e.Verification.Source)
	}
	return nil
}

// CommitInPush is a commit embedded in a push event payload.
type CommitInPush struct {
	SHA         string `json:"sha"`
	Message     string `json:"message"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
}

// PushEvent records that someone pushed commits to a ref.
type PushEvent struct {
	EventBase
	EventType   string         `json:"event_type"`
	Ref         string         `json:"ref"`
	BeforeSHA   string         `json:"before_sha"`
	AfterSHA    string         `json:"after_sha"`
	Size        int            `json:"size"`
	Commits     []CommitInPush `json:"commits,omitempty"`
	IsForcePush bool           `json:"is_force_push,omitempty"`
}

func (e *PushEvent) Kind() string { return KindPush }

func (e *PushEvent) Validate() error {
	if err := e.validateBase(); err != nil {
		return err
	}
	if e.Ref == "" {
		return fmt.Errorf("push %s: missing ref", e.EvidenceID)
	}
	return nil
}

// PullRequestEvent records a pull request action.
type PullRequestEvent struct {
	EventBase
	EventType string `json:"event_type"`
	Action    string `json:"action"` // opened, closed, reopened, merged
	PRNumber  int    `json:"pr_number"`
	PRTitle   string `json:"pr_title"`
	PRBody    string `json:"pr_body,omitempty"`
	HeadSHA   string `json:"head_sha,omitempty"`
	Merged    bool   `json:"merged,omitempty"`
}

func (e *PullRequestEvent) Kind() string { return KindPullRequest }

func (e *PullRequestEvent) Validate() error {
	if err := e.validateBase(); err != nil {
		return err
	}
	if e.PRNumber <= 0 {
		return fmt.Errorf("pull_request %s: missing pr_number", e.EvidenceID)
	}
	return nil
}

// IssueEvent records an issue action.
type IssueEvent struct {
	EventBase
	EventType   string `json:"event_type"`
	Action      string `json:"action"` // opened, closed, reopened, deleted
	IssueNumber int    `json:"issue_number"`
	IssueTitle  string `json:"issue_title"`
	IssueBody   string `json:"issue_body,omitempty"`
}

func (e *IssueEvent) Kind() string { return KindIssueEvent }

func (e *IssueEvent) Validate() error {
	if err := e.validateBase(); err != nil {
		return err
	}
	if e.IssueNumber <= 0 {
		return fmt.Errorf("issue_event %s: missing issue_number", e.EvidenceID)
	}
	return nil
}

// IssueCommentEvent records a comment on an issue or PR.
type IssueCommentEvent struct {
	EventBase
	EventType   string `json:"event_type"`
	Action      string `json:"action"` // created, edited, deleted
	IssueNumber int    `json:"issue_number"`
	CommentID   int64  `json:"comment_id"`
	CommentBody string `json:"comment_body"`
}

func (e *IssueCommentEvent) Kind() string { return KindIssueComment }

func (e *IssueCommentEvent) Validate() error { return e.validateBase() }

// CreateEvent records a branch, tag or repository being created.
type CreateEvent struct {
	EventBase
	EventType string `json:"event_type"`
	RefType   string `json:"ref_type"` // branch, tag, repository
	RefName   string `json:"ref_name,omitempty"`
}

func (e *CreateEvent) Kind() string { return KindCreate }

func (e *CreateEvent) Validate() error { return e.validateBase() }

// DeleteEvent records a branch or tag being deleted.
type DeleteEvent struct {
	EventBase
	EventType string `json:"event_type"`
	RefType   string `json:"ref_type"`
	RefName   string `json:"ref_name"`
}

func (e *DeleteEvent) Kind() string { return KindDelete }

func (e *DeleteEvent) Validate() error {
	if err := e.validateBase(); err != nil {
		return err
	}
	if e.RefName == "" {
		return fmt.Errorf("delete %s: missing ref_name", e.EvidenceID)
	}
	return nil
}

// ForkEvent records the repository being forked.
type ForkEvent struct {
	EventBase
	EventType    string `json:"event_type"`
	ForkFullName string `json:"fork_full_name"`
}

func (e *ForkEvent) Kind() string { return KindForkEvent }

func (e *ForkEvent) Validate() error { return e.validateBase() }

// WorkflowRunEvent records a GitHub Actions run. The absence of a run
// around a commit is itself forensically interesting: pushes made through
// the API do not trigger workflows the way UI pushes do.
type WorkflowRunEvent struct {
	EventBase
	EventType    string `json:"event_type"`
	Action       string `json:"action"` // requested, in_progress, completed
	WorkflowName string `json:"workflow_name"`
	HeadSHA      string `json:"head_sha"`
	Conclusion   string `json:"conclusion,omitempty"` // success, failure, cancelled
}

func (e *WorkflowRunEvent) Kind() string { return KindWorkflowRun }

func (e *WorkflowRunEvent) Validate() error { return e.validateBase() }

// ReleaseEvent records a release action.
type ReleaseEvent struct {
	EventBase
	EventType   string `json:"event_type"`
	Action      string `json:"action"` // published, created, deleted
	TagName     string `json:"tag_name"`
	ReleaseName string `json:"release_name,omitempty"`
	ReleaseBody string `json:"release_body,omitempty"`
}

func (e *ReleaseEvent) Kind() string { return KindReleaseEvent }

func (e *ReleaseEvent) Validate() error { return e.validateBase() }

// WatchEvent records the repository being starred.
type WatchEvent struct {
	EventBase
	EventType string `json:"event_type"`
}

func (e *WatchEvent) Kind() string { return KindWatch }

func (e *WatchEvent) Validate() error { return e.validateBase() }

// MemberEvent records a collaborator being added or removed.
type MemberEvent struct {
	EventBase
	EventType string `json:"event_type"`
	Action    string `json:"action"` // added, removed
	Member    Actor  `json:"member"`
}

func (e *MemberEvent) Kind() string { return KindMember }

func (e *MemberEvent) Validate() error { return e.validateBase() }

// PublicEvent records the repository being made public.
type PublicEvent struct {
	EventBase
	EventType string `json:"event_type"`
}

func (e *PublicEvent) Kind() string { return KindPublic }

func (e *PublicEvent) Validate() error { return e.validateBase() }
