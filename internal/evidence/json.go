package evidence

import (
	"encoding/json"
	"time"

	"github.com/harrowsec/ghtrail/internal/source"
)

// NormTime normalizes a timestamp to UTC at second granularity. Every
// timestamp stamped onto evidence goes through this so that a save/load
// round trip reproduces field-for-field equal objects.
func NormTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// NormTimePtr is NormTime for optional timestamps.
func NormTimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	n := NormTime(t)
	return &n
}

// Marshal serializes an evidence item to its tagged JSON form.
func Marshal(ev Evidence) ([]byte, error) {
	return json.Marshal(ev)
}

type discriminator struct {
	EventType       string `json:"event_type"`
	ObservationType string `json:"observation_type"`
}

// Unmarshal decodes one tagged evidence record, dispatching on the
// event_type / observation_type discriminator. Unknown discriminators are
// a *source.SchemaError, never silently coerced; the decoded value is
// validated before it is returned.
func Unmarshal(data []byte) (Evidence, error) {
	var disc discriminator
	if err := json.Unmarshal(data, &disc); err != nil {
		return nil, &source.SchemaError{Detail: err.Error()}
	}

	var ev Evidence
	switch {
	case disc.EventType != "":
		ev = newEvent(disc.EventType)
		if ev == nil {
			return nil, &source.SchemaError{Discriminator: disc.EventType, Detail: "not a known event_type"}
		}
	case disc.ObservationType != "":
		ev = newObservation(disc.ObservationType)
		if ev == nil {
			return nil, &source.SchemaError{Discriminator: disc.ObservationType, Detail: "not a known observation_type"}
		}
	default:
		return nil, &source.SchemaError{Detail: "record has neither event_type nor observation_type"}
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, &source.SchemaError{Discriminator: ev.Kind(), Detail: err.Error()}
	}
	if err := ev.Validate(); err != nil {
		return nil, &source.SchemaError{Discriminator: ev.Kind(), Detail: err.Error()}
	}
	return ev, nil
}

func newEvent(kind string) Evidence {
	switch kind {
	case KindPush:
		return &PushEvent{EventType: kind}
	case KindPullRequest:
		return &PullRequestEvent{EventType: kind}
	case KindIssueEvent:
		return &IssueEvent{EventType: kind}
	case KindIssueComment:
		return &IssueCommentEvent{EventType: kind}
	case KindCreate:
		return &CreateEvent{EventType: kind}
	case KindDelete:
		return &DeleteEvent{EventType: kind}
	case KindForkEvent:
		return &ForkEvent{EventType: kind}
	case KindWorkflowRun:
		return &WorkflowRunEvent{EventType: kind}
	case KindReleaseEvent:
		return &ReleaseEvent{EventType: kind}
	case KindWatch:
		return &WatchEvent{EventType: kind}
	case KindMember:
		return &MemberEvent{EventType: kind}
	case KindPublic:
		return &PublicEvent{EventType: kind}
	}
	return nil
}

func newObservation(kind string) Evidence {
	switch kind {
	case KindCommit:
		return &CommitObservation{ObservationType: kind}
	case KindIssue:
		return &IssueObservation{ObservationType: kind}
	case KindFile:
		return &FileObservation{ObservationType: kind}
	case KindBranch:
		return &BranchObservation{ObservationType: kind}
	case KindTag:
		return &TagObservation{ObservationType: kind}
	case KindRelease:
		return &ReleaseObservation{ObservationType: kind}
	case KindFork:
		return &ForkObservation{ObservationType: kind}
	case KindSnapshot:
		return &SnapshotObservation{ObservationType: kind}
	case KindArticle:
		return &ArticleObservation{ObservationType: kind}
	case KindIOC:
		return &IOC{ObservationType: kind}
	case KindForcePush:
		return &ForcePushObservation{ObservationType: kind}
	}
	return nil
}

// IsEvent reports whether ev is an event variant (as opposed to an
// observation).
func IsEvent(ev Evidence) bool {
	switch ev.Kind() {
	case KindPush, KindPullRequest, KindIssueEvent, KindIssueComment,
		KindCreate, KindDelete, KindForkEvent, KindWorkflowRun,
		KindReleaseEvent, KindWatch, KindMember, KindPublic:
		return true
	}
	return false
}
