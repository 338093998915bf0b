// Package github is a read-only client for the GitHub REST API. It tracks
// its own request budget so that collections fail fast with a typed
// RateLimitedError instead of burning the last requests of the hour on
// doomed retries.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/harrowsec/ghtrail/internal/logging"
	"github.com/harrowsec/ghtrail/internal/source"
)

const (
	sourceName = "github_api"

	// Unauthenticated ceiling per hour. A token raises it.
	defaultBudget       = 60
	authenticatedBudget = 5000
)

// Cache is an optional response cache keyed by request URL. With 60
// unauthenticated requests per hour, not refetching what we already have
// is the difference between finishing an investigation and stalling it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Config holds client configuration. Zero values get sensible defaults.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	Budget     int
	MaxRetries int
	Cache      Cache
	Logger     *logging.Logger
}

// Client is a rate-budgeted GitHub REST client.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	cache      Cache
	log        *logging.Logger
	maxRetries int

	mu        sync.Mutex
	budget    int
	remaining int
	resetAt   time.Time
}

// New creates a Client. The budget defaults to GitHub's unauthenticated
// ceiling (60/hour) and rises to 5000/hour when a token is configured.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Budget == 0 {
		cfg.Budget = defaultBudget
		if cfg.Token != "" {
			cfg.Budget = authenticatedBudget
		}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		http:       &http.Client{Timeout: cfg.Timeout},
		cache:      cfg.Cache,
		log:        cfg.Logger,
		maxRetries: cfg.MaxRetries,
		budget:     cfg.Budget,
		remaining:  cfg.Budget,
		resetAt:    time.Now().Add(time.Hour),
	}
}

// RateRemaining returns the remaining request budget in this window.
func (c *Client) RateRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// takeBudget reserves one request, failing fast without any network I/O
// when the window is exhausted.
func (c *Client) takeBudget() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.After(c.resetAt) {
		c.remaining = c.budget
		c.resetAt = now.Add(time.Hour)
	}
	if c.remaining <= 0 {
		return &source.RateLimitedError{Source: sourceName, ResetAt: c.resetAt}
	}
	c.remaining--
	source.GitHubRateRemaining.Set(float64(c.remaining))
	return nil
}

// syncBudget folds the server's rate-limit headers into the local window.
func (c *Client) syncBudget(h http.Header) {
	rem, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = rem
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		c.resetAt = time.Unix(reset, 0)
	}
	source.GitHubRateRemaining.Set(float64(c.remaining))
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	key := c.baseURL + path
	if len(params) > 0 {
		key += "?" + params.Encode()
	}

	if c.cache != nil {
		if body, ok := c.cache.Get(ctx, key); ok {
			return json.Unmarshal(body, out)
		}
	}

	if err := c.takeBudget(); err != nil {
		source.Requests.WithLabelValues(sourceName, source.OutcomeRateLimited).Inc()
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &source.SourceUnavailableError{Source: sourceName, Op: path, Err: ctx.Err()}
			}
			c.log.DebugContext(ctx, "retrying github request", "path", path, "attempt", attempt)
		}

		body, err := c.do(ctx, key)
		if err == nil {
			if c.cache != nil {
				c.cache.Set(ctx, key, body)
			}
			source.Requests.WithLabelValues(sourceName, source.OutcomeOK).Inc()
			return json.Unmarshal(body, out)
		}
		if !source.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	source.Requests.WithLabelValues(sourceName, source.OutcomeError).Inc()
	return lastErr
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: rawURL, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: rawURL, Err: err}
	}
	defer resp.Body.Close()

	c.syncBudget(resp.Header)

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &source.SourceUnavailableError{Source: sourceName, Op: rawURL, Err: err}
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		source.Requests.WithLabelValues(sourceName, source.OutcomeNotFound).Inc()
		return nil, &source.NotFoundError{Source: sourceName, Entity: rawURL}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		rlErr := &source.RateLimitedError{Source: sourceName}
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			rlErr.ResetAt = time.Unix(reset, 0)
		}
		source.Requests.WithLabelValues(sourceName, source.OutcomeRateLimited).Inc()
		return nil, rlErr
	case resp.StatusCode >= 500:
		return nil, &source.SourceUnavailableError{
			Source: sourceName, Op: rawURL,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	default:
		source.Requests.WithLabelValues(sourceName, source.OutcomeError).Inc()
		return nil, &source.SourceUnavailableError{
			Source: sourceName, Op: rawURL,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
}

// Signature is a git author/committer signature as the API returns it.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// User is the minimal user object embedded in API responses.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Type  string `json:"type"`
}

// CommitDetail is the response of GET /repos/{owner}/{repo}/commits/{sha}.
type CommitDetail struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message   string    `json:"message"`
		Author    Signature `json:"author"`
		Committer Signature `json:"committer"`
	} `json:"commit"`
	Author  *User `json:"author"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
	Files []struct {
		Filename  string `json:"filename"`
		Status    string `json:"status"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
		Patch     string `json:"patch"`
	} `json:"files"`
}

// IssueDetail covers both issues and pull requests.
type IssueDetail struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"`
	Merged      bool       `json:"merged"`
	User        User       `json:"user"`
	CreatedAt   time.Time  `json:"created_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

// ContentDetail is the response of GET /repos/{owner}/{repo}/contents/{path}.
type ContentDetail struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// BranchDetail is the response of GET /repos/{owner}/{repo}/branches/{branch}.
type BranchDetail struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
	Protected bool `json:"protected"`
}

// TagRefDetail is the response of GET /repos/{owner}/{repo}/git/refs/tags/{tag}.
type TagRefDetail struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	} `json:"object"`
}

// ReleaseDetail is the response of GET /repos/{owner}/{repo}/releases/tags/{tag}.
type ReleaseDetail struct {
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	Body        string     `json:"body"`
	CreatedAt   *time.Time `json:"created_at"`
	PublishedAt *time.Time `json:"published_at"`
	Prerelease  bool       `json:"prerelease"`
	Draft       bool       `json:"draft"`
}

// ForkDetail is one element of GET /repos/{owner}/{repo}/forks.
type ForkDetail struct {
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	Owner     User      `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Client) Commit(ctx context.Context, owner, repo, sha string) (*CommitDetail, error) {
	var out CommitDetail
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/commits/%s", owner, repo, sha), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Issue(ctx context.Context, owner, repo string, number int) (*IssueDetail, error) {
	var out IssueDetail
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*IssueDetail, error) {
	var out IssueDetail
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Contents(ctx context.Context, owner, repo, path, ref string) (*ContentDetail, error) {
	params := url.Values{}
	if ref != "" {
		params.Set("ref", ref)
	}
	var out ContentDetail
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), params, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Branch(ctx context.Context, owner, repo, branch string) (*BranchDetail, error) {
	var out BranchDetail
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, branch), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TagRef(ctx context.Context, owner, repo, tag string) (*TagRefDetail, error) {
	var out TagRefDetail
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/git/refs/tags/%s", owner, repo, tag), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReleaseByTag(ctx context.Context, owner, repo, tag string) (*ReleaseDetail, error) {
	var out ReleaseDetail
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/releases/tags/%s", owner, repo, tag), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Forks(ctx context.Context, owner, repo string, perPage int) ([]ForkDetail, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}
	params := url.Values{"per_page": {strconv.Itoa(perPage)}}
	var out []ForkDetail
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/forks", owner, repo), params, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}
