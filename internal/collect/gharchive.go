package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/source"
	"github.com/harrowsec/ghtrail/internal/source/gharchive"
)

// RecoveryWindow bounds archive queries around a deletion: wide enough to
// catch clock skew between GitHub and the archive batches, narrow enough
// to keep the scan cheap.
const RecoveryWindow = 30 * time.Minute

// archiveQueryString renders the exact predicate a query ran with, in a
// form that can be parsed back and re-run during verification.
func archiveQueryString(q gharchive.EventQuery) string {
	s := fmt.Sprintf("repo=%s type=%s from=%s to=%s",
		q.Repo, q.EventType,
		q.From.UTC().Format(time.RFC3339), q.To.UTC().Format(time.RFC3339))
	if q.Actor != "" {
		s += " actor=" + q.Actor
	}
	return s
}

func (f *Factory) archiveVerification(q gharchive.EventQuery) evidence.Verification {
	tables := gharchive.Tables(q.From, q.To)
	table := ""
	if len(tables) > 0 {
		table = tables[0]
	}
	return evidence.Verification{
		Source:        evidence.SourceGHArchive,
		Query:         archiveQueryString(q),
		BigQueryTable: table,
		QueriedAt:     f.now(),
	}
}

// CollectArchivedEvents queries GH Archive and maps every row onto a typed
// event. Rows whose type has no mapping are skipped, not errors: the
// archive stream carries event types this model does not track.
func (f *Factory) CollectArchivedEvents(ctx context.Context, q gharchive.EventQuery) ([]evidence.Evidence, error) {
	rows, err := f.archive.QueryEvents(ctx, q)
	if err != nil {
		return nil, err
	}

	verification := f.archiveVerification(q)
	var events []evidence.Evidence
	for _, row := range rows {
		ev, err := f.eventFromRow(row, verification)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			f.log.DebugContext(ctx, "skipping unmapped archive event", "type", row.Type)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Archive payload fragments. GH Archive stores payloads as JSON strings
// whose shape varies by event type.
type archivePush struct {
	Ref     string `json:"ref"`
	Head    string `json:"head"`
	Before  string `json:"before"`
	Size    int    `json:"size"`
	Commits []struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
		Author  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
	} `json:"commits"`
}

type archiveIssueLike struct {
	Action string `json:"action"`
	Number int    `json:"number"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	PullRequest struct {
		Title  string `json:"title"`
		Body   string `json:"body"`
		Merged bool   `json:"merged"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Comment struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	} `json:"comment"`
	RefType string `json:"ref_type"`
	Ref     string `json:"ref"`
	Forkee  struct {
		FullName string `json:"full_name"`
	} `json:"forkee"`
	WorkflowRun struct {
		Name       string `json:"name"`
		HeadSHA    string `json:"head_sha"`
		Conclusion string `json:"conclusion"`
	} `json:"workflow_run"`
	Release struct {
		TagName string `json:"tag_name"`
		Name    string `json:"name"`
		Body    string `json:"body"`
	} `json:"release"`
	Member struct {
		Login string `json:"login"`
		ID    int64  `json:"id"`
	} `json:"member"`
}

func splitFullName(fullName string) (string, string) {
	for i := range fullName {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:]
		}
	}
	return "", fullName
}

func repoFromRow(row gharchive.Row) *evidence.Repository {
	owner, name := splitFullName(row.RepoName)
	rep := evidence.NewRepository(owner, name)
	rep.ID = row.RepoID
	return rep
}

func (f *Factory) eventBase(row gharchive.Row, verification evidence.Verification, what string, extraKeys ...string) evidence.EventBase {
	when := evidence.NormTime(row.CreatedAt)
	keys := append([]string{row.RepoName, row.Type, when.Format(time.RFC3339), row.ActorLogin}, extraKeys...)
	return evidence.EventBase{
		EvidenceID:   evidence.ComputeID(kindForArchiveType(row.Type), keys...),
		When:         when,
		Who:          evidence.Actor{Login: row.ActorLogin, ID: row.ActorID},
		What:         what,
		Repository:   repoFromRow(row),
		Verification: verification,
	}
}

func kindForArchiveType(archiveType string) string {
	switch archiveType {
	case "PushEvent":
		return evidence.KindPush
	case "PullRequestEvent":
		return evidence.KindPullRequest
	case "IssuesEvent":
		return evidence.KindIssueEvent
	case "IssueCommentEvent":
		return evidence.KindIssueComment
	case "CreateEvent":
		return evidence.KindCreate
	case "DeleteEvent":
		return evidence.KindDelete
	case "ForkEvent":
		return evidence.KindForkEvent
	case "WorkflowRunEvent":
		return evidence.KindWorkflowRun
	case "ReleaseEvent":
		return evidence.KindReleaseEvent
	case "WatchEvent":
		return evidence.KindWatch
	case "MemberEvent":
		return evidence.KindMember
	case "PublicEvent":
		return evidence.KindPublic
	}
	return ""
}

// eventFromRow maps one archive row onto a typed event. A nil, nil return
// means the row's type is not tracked.
func (f *Factory) eventFromRow(row gharchive.Row, verification evidence.Verification) (evidence.Evidence, error) {
	kind := kindForArchiveType(row.Type)
	if kind == "" {
		return nil, nil
	}

	var ev evidence.Evidence
	switch kind {
	case evidence.KindPush:
		var p archivePush
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		push := &evidence.PushEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s pushed %d commit(s) to %s", row.ActorLogin, p.Size, p.Ref), p.Head),
			EventType: kind,
			Ref:       p.Ref,
			BeforeSHA: p.Before,
			AfterSHA:  p.Head,
			Size:      p.Size,
		}
		for _, c := range p.Commits {
			push.Commits = append(push.Commits, evidence.CommitInPush{
				SHA:         c.SHA,
				Message:     c.Message,
				AuthorName:  c.Author.Name,
				AuthorEmail: c.Author.Email,
			})
		}
		ev = push

	case evidence.KindPullRequest:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.PullRequestEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s %s pull request #%d", row.ActorLogin, p.Action, p.Number),
				strconv.Itoa(p.Number), p.Action),
			EventType: kind,
			Action:    p.Action,
			PRNumber:  p.Number,
			PRTitle:   p.PullRequest.Title,
			PRBody:    p.PullRequest.Body,
			HeadSHA:   p.PullRequest.Head.SHA,
			Merged:    p.PullRequest.Merged,
		}

	case evidence.KindIssueEvent:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.IssueEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s %s issue #%d", row.ActorLogin, p.Action, p.Issue.Number),
				strconv.Itoa(p.Issue.Number), p.Action),
			EventType:   kind,
			Action:      p.Action,
			IssueNumber: p.Issue.Number,
			IssueTitle:  p.Issue.Title,
			IssueBody:   p.Issue.Body,
		}

	case evidence.KindIssueComment:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.IssueCommentEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s commented on #%d", row.ActorLogin, p.Issue.Number),
				strconv.FormatInt(p.Comment.ID, 10)),
			EventType:   kind,
			Action:      p.Action,
			IssueNumber: p.Issue.Number,
			CommentID:   p.Comment.ID,
			CommentBody: p.Comment.Body,
		}

	case evidence.KindCreate:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.CreateEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s created %s %s", row.ActorLogin, p.RefType, p.Ref), p.RefType, p.Ref),
			EventType: kind,
			RefType:   p.RefType,
			RefName:   p.Ref,
		}

	case evidence.KindDelete:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.DeleteEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s deleted %s %s", row.ActorLogin, p.RefType, p.Ref), p.RefType, p.Ref),
			EventType: kind,
			RefType:   p.RefType,
			RefName:   p.Ref,
		}

	case evidence.KindForkEvent:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.ForkEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s forked %s to %s", row.ActorLogin, row.RepoName, p.Forkee.FullName),
				p.Forkee.FullName),
			EventType:    kind,
			ForkFullName: p.Forkee.FullName,
		}

	case evidence.KindWorkflowRun:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.WorkflowRunEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("workflow %q %s for %s", p.WorkflowRun.Name, p.Action, p.WorkflowRun.HeadSHA),
				p.WorkflowRun.HeadSHA, p.Action),
			EventType:    kind,
			Action:       p.Action,
			WorkflowName: p.WorkflowRun.Name,
			HeadSHA:      p.WorkflowRun.HeadSHA,
			Conclusion:   p.WorkflowRun.Conclusion,
		}

	case evidence.KindReleaseEvent:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.ReleaseEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s %s release %s", row.ActorLogin, p.Action, p.Release.TagName),
				p.Release.TagName, p.Action),
			EventType:   kind,
			Action:      p.Action,
			TagName:     p.Release.TagName,
			ReleaseName: p.Release.Name,
			ReleaseBody: p.Release.Body,
		}

	case evidence.KindWatch:
		ev = &evidence.WatchEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s starred %s", row.ActorLogin, row.RepoName)),
			EventType: kind,
		}

	case evidence.KindMember:
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			return nil, &source.SchemaError{Discriminator: row.Type, Detail: err.Error()}
		}
		ev = &evidence.MemberEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s %s collaborator %s", row.ActorLogin, p.Action, p.Member.Login),
				p.Member.Login, p.Action),
			EventType: kind,
			Action:    p.Action,
			Member:    evidence.Actor{Login: p.Member.Login, ID: p.Member.ID},
		}

	case evidence.KindPublic:
		ev = &evidence.PublicEvent{
			EventBase: f.eventBase(row, verification,
				fmt.Sprintf("%s made %s public", row.ActorLogin, row.RepoName)),
			EventType: kind,
		}
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// RecoverIssue reconstructs a deleted issue from archived IssuesEvent
// records around its creation time. The result is marked deleted and its
// provenance records the exact window queried, so the recovery can be
// re-run later against the same slice of the archive.
func (f *Factory) RecoverIssue(ctx context.Context, owner, repo string, number int, around time.Time) (*evidence.IssueObservation, error) {
	fullName := owner + "/" + repo
	q := gharchive.EventQuery{
		From:      around.Add(-RecoveryWindow),
		To:        around.Add(RecoveryWindow),
		Repo:      fullName,
		EventType: "IssuesEvent",
	}
	rows, err := f.archive.QueryEvents(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			continue
		}
		if p.Issue.Number != number {
			continue
		}
		obs := &evidence.IssueObservation{
			ObservationBase: evidence.ObservationBase{
				EvidenceID:   evidence.ComputeID(evidence.KindIssue, fullName, strconv.Itoa(number)),
				OriginalWhen: evidence.NormTimePtr(row.CreatedAt),
				OriginalWho:  &evidence.Actor{Login: row.ActorLogin, ID: row.ActorID},
				OriginalWhat: p.Issue.Title,
				ObservedWhen: f.now(),
				ObservedBy:   evidence.SourceGHArchive,
				ObservedWhat: fmt.Sprintf("issue #%d in %s, recovered from archived %s event", number, fullName, p.Action),
				Repository:   repoFromRow(row),
				Verification: f.archiveVerification(q),
				IsDeleted:    true,
			},
			ObservationType: evidence.KindIssue,
			IssueNumber:     number,
			Title:           p.Issue.Title,
			Body:            p.Issue.Body,
		}
		if err := obs.Validate(); err != nil {
			return nil, err
		}
		return obs, nil
	}
	return nil, &source.NotFoundError{
		Source: "gharchive",
		Entity: fmt.Sprintf("issue %s#%d in %s", fullName, number, archiveQueryString(q)),
	}
}

// RecoverPullRequest reconstructs a deleted pull request from archived
// PullRequestEvent records around its creation time.
func (f *Factory) RecoverPullRequest(ctx context.Context, owner, repo string, number int, around time.Time) (*evidence.IssueObservation, error) {
	fullName := owner + "/" + repo
	q := gharchive.EventQuery{
		From:      around.Add(-RecoveryWindow),
		To:        around.Add(RecoveryWindow),
		Repo:      fullName,
		EventType: "PullRequestEvent",
	}
	rows, err := f.archive.QueryEvents(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		var p archiveIssueLike
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			continue
		}
		if p.Number != number {
			continue
		}
		obs := &evidence.IssueObservation{
			ObservationBase: evidence.ObservationBase{
				EvidenceID:   evidence.ComputeID(evidence.KindIssue, fullName, strconv.Itoa(number)),
				OriginalWhen: evidence.NormTimePtr(row.CreatedAt),
				OriginalWho:  &evidence.Actor{Login: row.ActorLogin, ID: row.ActorID},
				OriginalWhat: p.PullRequest.Title,
				ObservedWhen: f.now(),
				ObservedBy:   evidence.SourceGHArchive,
				ObservedWhat: fmt.Sprintf("pull request #%d in %s, recovered from archived %s event", number, fullName, p.Action),
				Repository:   repoFromRow(row),
				Verification: f.archiveVerification(q),
				IsDeleted:    true,
			},
			ObservationType: evidence.KindIssue,
			IssueNumber:     number,
			IsPullRequest:   true,
			Title:           p.PullRequest.Title,
			Body:            p.PullRequest.Body,
		}
		if err := obs.Validate(); err != nil {
			return nil, err
		}
		return obs, nil
	}
	return nil, &source.NotFoundError{
		Source: "gharchive",
		Entity: fmt.Sprintf("pull request %s#%d in %s", fullName, number, archiveQueryString(q)),
	}
}

// RecoverCommit reconstructs a commit that GitHub no longer serves from
// the push event that carried it into the archive. Only what the push
// payload recorded survives: sha, message and author signature.
func (f *Factory) RecoverCommit(ctx context.Context, owner, repo, sha string, around time.Time) (*evidence.CommitObservation, error) {
	fullName := owner + "/" + repo
	q := gharchive.EventQuery{
		From:      around.Add(-RecoveryWindow),
		To:        around.Add(RecoveryWindow),
		Repo:      fullName,
		EventType: "PushEvent",
	}
	rows, err := f.archive.QueryEvents(ctx, q)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		var p archivePush
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			continue
		}
		for _, c := range p.Commits {
			if c.SHA != sha {
				continue
			}
			when := evidence.NormTime(row.CreatedAt)
			obs := &evidence.CommitObservation{
				ObservationBase: evidence.ObservationBase{
					EvidenceID:   evidence.ComputeID(evidence.KindCommit, fullName, sha),
					OriginalWhen: &when,
					OriginalWho:  &evidence.Actor{Login: row.ActorLogin, ID: row.ActorID},
					OriginalWhat: c.Message,
					ObservedWhen: f.now(),
					ObservedBy:   evidence.SourceGHArchive,
					ObservedWhat: fmt.Sprintf("commit %s in %s, recovered from archived push to %s", sha, fullName, p.Ref),
					Repository:   repoFromRow(row),
					Verification: f.archiveVerification(q),
					IsDeleted:    true,
				},
				ObservationType: evidence.KindCommit,
				SHA:             sha,
				Message:         c.Message,
				Author: evidence.CommitAuthor{
					Name:  c.Author.Name,
					Email: c.Author.Email,
					Date:  when,
				},
				Committer: evidence.CommitAuthor{
					Name:  c.Author.Name,
					Email: c.Author.Email,
					Date:  when,
				},
			}
			if err := obs.Validate(); err != nil {
				return nil, err
			}
			return obs, nil
		}
	}
	return nil, &source.NotFoundError{
		Source: "gharchive",
		Entity: fmt.Sprintf("commit %s in %s", sha, archiveQueryString(q)),
	}
}

// DetectForcePushes finds rewritten history in a window of archived push
// events: when a later push's before-SHA disagrees with the previous
// push's head on the same ref, the previous head was discarded.
func (f *Factory) DetectForcePushes(ctx context.Context, owner, repo string, from, to time.Time) ([]*evidence.ForcePushObservation, error) {
	fullName := owner + "/" + repo
	q := gharchive.EventQuery{
		From:      from,
		To:        to,
		Repo:      fullName,
		EventType: "PushEvent",
	}
	rows, err := f.archive.QueryEvents(ctx, q)
	if err != nil {
		return nil, err
	}

	type pushRecord struct {
		row  gharchive.Row
		push archivePush
	}
	byRef := map[string][]pushRecord{}
	for _, row := range rows {
		var p archivePush
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			continue
		}
		byRef[p.Ref] = append(byRef[p.Ref], pushRecord{row: row, push: p})
	}

	var found []*evidence.ForcePushObservation
	for ref, pushes := range byRef {
		// Rows arrive in chronological order from the archive query.
		for i := 1; i < len(pushes); i++ {
			prev, cur := pushes[i-1], pushes[i]
			if cur.push.Before == prev.push.Head || prev.push.Head == "" {
				continue
			}
			when := evidence.NormTime(cur.row.CreatedAt)
			obs := &evidence.ForcePushObservation{
				ObservationBase: evidence.ObservationBase{
					EvidenceID:   evidence.ComputeID(evidence.KindForcePush, fullName, prev.push.Head),
					OriginalWhen: &when,
					OriginalWho:  &evidence.Actor{Login: cur.row.ActorLogin, ID: cur.row.ActorID},
					ObservedWhen: f.now(),
					ObservedBy:   evidence.SourceGHArchive,
					ObservedWhat: fmt.Sprintf("force push on %s in %s discarded %s", ref, fullName, prev.push.Head),
					Repository:   repoFromRow(cur.row),
					Verification: f.archiveVerification(q),
				},
				ObservationType: evidence.KindForcePush,
				Branch:          ref,
				DeletedSHA:      prev.push.Head,
				ReplacedBySHA:   cur.push.Head,
				Pusher:          evidence.Actor{Login: cur.row.ActorLogin, ID: cur.row.ActorID},
			}
			if err := obs.Validate(); err != nil {
				return nil, err
			}
			found = append(found, obs)
		}
	}
	return found, nil
}
