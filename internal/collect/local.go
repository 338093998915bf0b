package collect

import (
	"fmt"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/source/gitlocal"
)

func (f *Factory) localCommitObservation(repo GitRepo, c *gitlocal.Commit, dangling bool) *evidence.CommitObservation {
	what := fmt.Sprintf("commit %s in clone %s", c.SHA, repo.Path())
	if dangling {
		what = fmt.Sprintf("dangling commit %s in clone %s, unreachable from any ref", c.SHA, repo.Path())
	}
	obs := &evidence.CommitObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindCommit, repo.Path(), c.SHA),
			OriginalWhen: evidence.NormTimePtr(c.AuthorDate),
			OriginalWhat: c.Message,
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceLocalGit,
			ObservedWhat: what,
			Verification: evidence.Verification{
				Source:    evidence.SourceLocalGit,
				URL:       repo.Path(),
				Query:     "rev=" + c.SHA,
				QueriedAt: f.now(),
			},
		},
		ObservationType: evidence.KindCommit,
		SHA:             c.SHA,
		Message:         c.Message,
		Author: evidence.CommitAuthor{
			Name:  c.AuthorName,
			Email: c.AuthorEmail,
			Date:  evidence.NormTime(c.AuthorDate),
		},
		Committer: evidence.CommitAuthor{
			Name:  c.CommitterName,
			Email: c.CommitterEmail,
			Date:  evidence.NormTime(c.CommitterDate),
		},
		Parents:    c.Parents,
		IsDangling: dangling,
	}
	for _, file := range c.Files {
		obs.Files = append(obs.Files, evidence.FileChange{
			Filename:  file.Name,
			Status:    "modified",
			Additions: file.Additions,
			Deletions: file.Deletions,
		})
	}
	return obs
}

// CollectLocalCommit reads one commit out of a local clone by ref name or
// SHA.
func (f *Factory) CollectLocalCommit(repo GitRepo, rev string) (*evidence.CommitObservation, error) {
	c, err := repo.Commit(rev)
	if err != nil {
		return nil, err
	}
	obs := f.localCommitObservation(repo, c, false)
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// CollectDanglingCommits enumerates commits surviving only in the local
// object store. Each comes back marked dangling; these are frequently the
// only remaining copy of force-pushed-away history.
func (f *Factory) CollectDanglingCommits(repo GitRepo) ([]*evidence.CommitObservation, error) {
	commits, err := repo.DanglingCommits()
	if err != nil {
		return nil, err
	}
	out := make([]*evidence.CommitObservation, 0, len(commits))
	for _, c := range commits {
		obs := f.localCommitObservation(repo, c, true)
		if err := obs.Validate(); err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}
