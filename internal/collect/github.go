package collect

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

func apiURL(parts ...any) string {
	u := "https://api.github.com"
	for _, p := range parts {
		u += "/" + fmt.Sprint(p)
	}
	return u
}

func (f *Factory) liveVerification(url string) evidence.Verification {
	return evidence.Verification{
		Source:    evidence.SourceGitHub,
		URL:       url,
		QueriedAt: f.now(),
	}
}

// CollectCommit fetches a commit from the live API and builds a commit
// observation around it.
func (f *Factory) CollectCommit(ctx context.Context, owner, repo, sha string) (*evidence.CommitObservation, error) {
	detail, err := f.github.Commit(ctx, owner, repo, sha)
	if err != nil {
		return nil, err
	}

	rep := evidence.NewRepository(owner, repo)
	obs := &evidence.CommitObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindCommit, rep.FullName, detail.SHA),
			OriginalWhen: evidence.NormTimePtr(detail.Commit.Author.Date),
			OriginalWhat: detail.Commit.Message,
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceGitHub,
			ObservedWhat: fmt.Sprintf("commit %s in %s", detail.SHA, rep.FullName),
			Repository:   rep,
			Verification: f.liveVerification(apiURL("repos", owner, repo, "commits", detail.SHA)),
		},
		ObservationType: evidence.KindCommit,
		SHA:             detail.SHA,
		Message:         detail.Commit.Message,
		Author: evidence.CommitAuthor{
			Name:  detail.Commit.Author.Name,
			Email: detail.Commit.Author.Email,
			Date:  evidence.NormTime(detail.Commit.Author.Date),
		},
		Committer: evidence.CommitAuthor{
			Name:  detail.Commit.Committer.Name,
			Email: detail.Commit.Committer.Email,
			Date:  evidence.NormTime(detail.Commit.Committer.Date),
		},
	}
	if detail.Author != nil {
		obs.OriginalWho = &evidence.Actor{Login: detail.Author.Login, ID: detail.Author.ID}
	}
	for _, p := range detail.Parents {
		obs.Parents = append(obs.Parents, p.SHA)
	}
	for _, file := range detail.Files {
		obs.Files = append(obs.Files, evidence.FileChange{
			Filename:  file.Filename,
			Status:    file.Status,
			Additions: file.Additions,
			Deletions: file.Deletions,
			Patch:     file.Patch,
		})
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CollectIssue fetches an issue or pull request from the live API.
func (f *Factory) CollectIssue(ctx context.Context, owner, repo string, number int) (*evidence.IssueObservation, error) {
	detail, err := f.github.Issue(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	rep := evidence.NewRepository(owner, repo)
	obs := &evidence.IssueObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindIssue, rep.FullName, strconv.Itoa(detail.Number)),
			OriginalWhen: evidence.NormTimePtr(detail.CreatedAt),
			OriginalWho:  &evidence.Actor{Login: detail.User.Login, ID: detail.User.ID},
			OriginalWhat: detail.Title,
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceGitHub,
			ObservedWhat: fmt.Sprintf("issue #%d in %s", detail.Number, rep.FullName),
			Repository:   rep,
			Verification: f.liveVerification(apiURL("repos", owner, repo, "issues", detail.Number)),
		},
		ObservationType: evidence.KindIssue,
		IssueNumber:     detail.Number,
		IsPullRequest:   detail.PullRequest != nil,
		Title:           detail.Title,
		Body:            detail.Body,
		State:           detail.State,
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CollectPullRequest fetches a pull request from the live API. Pull
// requests share the issue number space, so the observation lands in the
// same ID space as CollectIssue and a later merge keeps the richer of the
// two records.
func (f *Factory) CollectPullRequest(ctx context.Context, owner, repo string, number int) (*evidence.IssueObservation, error) {
	detail, err := f.github.PullRequest(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	rep := evidence.NewRepository(owner, repo)
	obs := &evidence.IssueObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindIssue, rep.FullName, strconv.Itoa(detail.Number)),
			OriginalWhen: evidence.NormTimePtr(detail.CreatedAt),
			OriginalWho:  &evidence.Actor{Login: detail.User.Login, ID: detail.User.ID},
			OriginalWhat: detail.Title,
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceGitHub,
			ObservedWhat: fmt.Sprintf("pull request #%d in %s", detail.Number, rep.FullName),
			Repository:   rep,
			Verification: f.liveVerification(apiURL("repos", owner, repo, "pulls", detail.Number)),
		},
		ObservationType: evidence.KindIssue,
		IssueNumber:     detail.Number,
		IsPullRequest:   true,
		Title:           detail.Title,
		Body:            detail.Body,
		State:           detail.State,
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CollectFile fetches file content at a ref. Content arrives base64
// encoded; the stored observation carries the decoded text plus a SHA-256
// of it so later tampering with the stored copy is detectable.
func (f *Factory) CollectFile(ctx context.Context, owner, repo, path, ref string) (*evidence.FileObservation, error) {
	detail, err := f.github.Contents(ctx, owner, repo, path, ref)
	if err != nil {
		return nil, err
	}

	content := detail.Content
	if detail.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err == nil {
			content = string(decoded)
		}
	}
	sum := sha256.Sum256([]byte(content))

	rep := evidence.NewRepository(owner, repo)
	obs := &evidence.FileObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindFile, rep.FullName, path, ref),
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceGitHub,
			ObservedWhat: fmt.Sprintf("file %s@%s in %s", path, ref, rep.FullName),
			Repository:   rep,
			Verification: f.liveVerification(apiURL("repos", owner, repo, "contents", path)),
		},
		ObservationType: evidence.KindFile,
		FilePath:        path,
		Ref:             ref,
		Content:         content,
		ContentHash:     hex.EncodeToString(sum[:]),
		SizeBytes:       detail.Size,
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CollectBranch fetches a branch head from the live API.
func (f *Factory) CollectBranch(ctx context.Context, owner, repo, branch string) (*evidence.BranchObservation, error) {
	detail, err := f.github.Branch(ctx, owner, repo, branch)
	if err != nil {
		return nil, err
	}

	rep := evidence.NewRepository(owner, repo)
	obs := &evidence.BranchObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindBranch, rep.FullName, detail.Name),
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceGitHub,
			ObservedWhat: fmt.Sprintf("branch %s at %s in %s", detail.Name, detail.Commit.SHA, rep.FullName),
			Repository:   rep,
			Verification: f.liveVerification(apiURL("repos", owner, repo, "branches", branch)),
		},
		ObservationType: evidence.KindBranch,
		BranchName:      detail.Name,
		HeadSHA:         detail.Commit.SHA,
		Protected:       detail.Protected,
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CollectTag fetches a tag ref from the live API.
func (f *Factory) CollectTag(ctx context.Context, owner, repo, tag string) (*evidence.TagObservation, error) {
	detail, err := f.github.TagRef(ctx, owner, repo, tag)
	if err != nil {
		return nil, err
	}

	rep := evidence.NewRepository(owner, repo)
	obs := &evidence.TagObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindTag, rep.FullName, tag),
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceGitHub,
			ObservedWhat: fmt.Sprintf("tag %s at %s in %s", tag, detail.Object.SHA, rep.FullName),
			Repository:   rep,
			Verification: f.liveVerification(apiURL("repos", owner, repo, "git/refs/tags", tag)),
		},
		ObservationType: evidence.KindTag,
		TagName:         tag,
		TargetSHA:       detail.Object.SHA,
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CollectRelease fetches a release by tag from the live API.
func (f *Factory) CollectRelease(ctx context.Context, owner, repo, tag string) (*evidence.ReleaseObservation, error) {
	detail, err := f.github.ReleaseByTag(ctx, owner, repo, tag)
	if err != nil {
		return nil, err
	}

	rep := evidence.NewRepository(owner, repo)
	obs := &evidence.ReleaseObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindRelease, rep.FullName, detail.TagName),
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceGitHub,
			ObservedWhat: fmt.Sprintf("release %s in %s", detail.TagName, rep.FullName),
			Repository:   rep,
			Verification: f.liveVerification(apiURL("repos", owner, repo, "releases/tags", tag)),
		},
		ObservationType: evidence.KindRelease,
		TagName:         detail.TagName,
		ReleaseName:     detail.Name,
		ReleaseBody:     detail.Body,
		IsPrerelease:    detail.Prerelease,
		IsDraft:         detail.Draft,
	}
	if detail.CreatedAt != nil {
		obs.CreatedAt = evidence.NormTimePtr(*detail.CreatedAt)
		obs.OriginalWhen = obs.CreatedAt
	}
	if detail.PublishedAt != nil {
		obs.PublishedAt = evidence.NormTimePtr(*detail.PublishedAt)
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CollectForks lists forks of a repository. Forks matter forensically:
// malicious commits are often staged in a fork, and a fork keeps commits
// alive after the parent deletes them.
func (f *Factory) CollectForks(ctx context.Context, owner, repo string, limit int) ([]*evidence.ForkObservation, error) {
	details, err := f.github.Forks(ctx, owner, repo, limit)
	if err != nil {
		return nil, err
	}

	rep := evidence.NewRepository(owner, repo)
	out := make([]*evidence.ForkObservation, 0, len(details))
	for _, detail := range details {
		obs := &evidence.ForkObservation{
			ObservationBase: evidence.ObservationBase{
				EvidenceID:   evidence.ComputeID(evidence.KindFork, detail.FullName),
				OriginalWhen: evidence.NormTimePtr(detail.CreatedAt),
				OriginalWho:  &evidence.Actor{Login: detail.Owner.Login, ID: detail.Owner.ID},
				ObservedWhen: f.now(),
				ObservedBy:   evidence.SourceGitHub,
				ObservedWhat: fmt.Sprintf("fork %s of %s", detail.FullName, rep.FullName),
				Repository:   rep,
				Verification: f.liveVerification(apiURL("repos", owner, repo, "forks")),
			},
			ObservationType: evidence.KindFork,
			ForkFullName:    detail.FullName,
			ParentFullName:  rep.FullName,
			ForkedAt:        evidence.NormTimePtr(detail.CreatedAt),
		}
		if err := obs.Validate(); err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}
