// Package gitlocal reads evidence out of a local git clone. It is the one
// source permitted to touch uncontrolled local storage: object stores keep
// commits that no ref points at anymore, and those dangling commits are
// often the only surviving copy of rewritten history.
package gitlocal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/harrowsec/ghtrail/internal/source"
)

const sourceName = "git_local"

// Client reads a local repository. All operations are read-only.
type Client struct {
	path string
	repo *git.Repository
}

// Commit is a commit as read from the local object store.
type Commit struct {
	SHA            string
	Message        string
	AuthorName     string
	AuthorEmail    string
	AuthorDate     time.Time
	CommitterName  string
	CommitterEmail string
	CommitterDate  time.Time
	Parents        []string
	Files          []FileStat
}

// FileStat is one file touched by a commit.
type FileStat struct {
	Name      string
	Additions int
	Deletions int
}

// Open opens an existing clone at path.
func Open(path string) (*Client, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, &source.NotFoundError{Source: sourceName, Entity: path}
		}
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: "open " + path, Err: err}
	}
	return &Client{path: path, repo: repo}, nil
}

// Path returns the repository path the client was opened with.
func (c *Client) Path() string { return c.path }

// Commit looks a commit up by ref name or SHA.
func (c *Client) Commit(rev string) (*Commit, error) {
	hash, err := c.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, &source.NotFoundError{Source: sourceName, Entity: rev}
	}
	commit, err := c.repo.CommitObject(*hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, &source.NotFoundError{Source: sourceName, Entity: rev}
		}
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: "read " + rev, Err: err}
	}
	return c.convert(commit), nil
}

// HasObject reports whether the object store holds a commit with the
// given SHA, reachable or not.
func (c *Client) HasObject(sha string) bool {
	_, err := c.repo.CommitObject(plumbing.NewHash(sha))
	return err == nil
}

// DanglingCommits enumerates commits present in the object store but
// unreachable from any named ref. Candidates come from walking every
// commit object (which covers reflog-only commits as well); reachability
// roots are the named refs only, so a commit that survives purely in the
// reflog still counts as dangling.
func (c *Client) DanglingCommits() ([]*Commit, error) {
	reachable, err := c.reachableSet()
	if err != nil {
		return nil, err
	}

	var dangling []*Commit
	iter, err := c.repo.Storer.IterEncodedObjects(plumbing.CommitObject)
	if err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: "iterate objects", Err: err}
	}
	err = iter.ForEach(func(obj plumbing.EncodedObject) error {
		if reachable[obj.Hash()] {
			return nil
		}
		commit, err := c.repo.CommitObject(obj.Hash())
		if err != nil {
			return nil // corrupt or partial object, skip
		}
		dangling = append(dangling, c.convert(commit))
		return nil
	})
	if err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: "walk objects", Err: err}
	}

	sort.Slice(dangling, func(i, j int) bool {
		if !dangling[i].CommitterDate.Equal(dangling[j].CommitterDate) {
			return dangling[i].CommitterDate.Before(dangling[j].CommitterDate)
		}
		return dangling[i].SHA < dangling[j].SHA
	})
	return dangling, nil
}

// reachableSet walks the commit graph from every named ref, following
// annotated tags to their targets.
func (c *Client) reachableSet() (map[plumbing.Hash]bool, error) {
	reachable := make(map[plumbing.Hash]bool)

	refs, err := c.repo.References()
	if err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: "list refs", Err: err}
	}

	var roots []plumbing.Hash
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		roots = append(roots, ref.Hash())
		return nil
	})
	if err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: "walk refs", Err: err}
	}

	stack := make([]plumbing.Hash, 0, len(roots))
	for _, root := range roots {
		stack = append(stack, c.peel(root))
	}

	for len(stack) > 0 {
		hash := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[hash] {
			continue
		}
		commit, err := c.repo.CommitObject(hash)
		if err != nil {
			continue // ref to a non-commit (tree, blob) or missing object
		}
		reachable[hash] = true
		stack = append(stack, commit.ParentHashes...)
	}
	return reachable, nil
}

// peel resolves an annotated tag to the commit it points at.
func (c *Client) peel(hash plumbing.Hash) plumbing.Hash {
	tag, err := c.repo.TagObject(hash)
	if err != nil {
		return hash
	}
	commit, err := tag.Commit()
	if err != nil {
		return hash
	}
	return commit.Hash
}

func (c *Client) convert(commit *object.Commit) *Commit {
	out := &Commit{
		SHA:            commit.Hash.String(),
		Message:        commit.Message,
		AuthorName:     commit.Author.Name,
		AuthorEmail:    commit.Author.Email,
		AuthorDate:     commit.Author.When,
		CommitterName:  commit.Committer.Name,
		CommitterEmail: commit.Committer.Email,
		CommitterDate:  commit.Committer.When,
	}
	for _, parent := range commit.ParentHashes {
		out.Parents = append(out.Parents, parent.String())
	}
	if stats, err := commit.Stats(); err == nil {
		for _, stat := range stats {
			out.Files = append(out.Files, FileStat{
				Name:      stat.Name,
				Additions: stat.Addition,
				Deletions: stat.Deletion,
			})
		}
	}
	return out
}

// Describe returns a short human description of the clone for logs.
func (c *Client) Describe() string {
	head, err := c.repo.Head()
	if err != nil {
		return c.path
	}
	return fmt.Sprintf("%s (%s)", c.path, head.Name().Short())
}
