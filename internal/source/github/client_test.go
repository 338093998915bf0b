package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowsec/ghtrail/internal/source"
)

const commitBody = `{
	"sha": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	"commit": {
		"message": "add build script",
		"author": {"name": "Mallory", "email": "m@example.com", "date": "2024-03-10T08:00:00Z"},
		"committer": {"name": "Mallory", "email": "m@example.com", "date": "2024-03-10T08:00:00Z"}
	},
	"author": {"login": "mallory", "id": 42},
	"parents": [{"sha": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}],
	"files": [{"filename": "build.sh", "status": "added", "additions": 10, "deletions": 0}]
}`

func TestCommit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/repo/commits/aaa", r.URL.Path)
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		fmt.Fprint(w, commitBody)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	got, err := c.Commit(context.Background(), "octo", "repo", "aaa")
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", got.SHA)
	assert.Equal(t, "add build script", got.Commit.Message)
	assert.Equal(t, "mallory", got.Author.Login)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "build.sh", got.Files[0].Filename)
}

func TestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Issue(context.Background(), "octo", "repo", 404)
	var nf *source.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestBudgetFailFast(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"name": "main", "commit": {"sha": "abc"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Budget: 60})
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		_, err := c.Branch(ctx, "octo", "repo", "main")
		require.NoError(t, err)
	}
	require.EqualValues(t, 60, hits.Load())

	// The 61st call fails immediately and performs no network call.
	_, err := c.Branch(ctx, "octo", "repo", "main")
	var rl *source.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.False(t, rl.ResetAt.IsZero())
	assert.EqualValues(t, 60, hits.Load())
}

func TestServerRateLimitHeaders(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Commit(context.Background(), "octo", "repo", "aaa")
	var rl *source.RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, reset, rl.ResetAt.Unix())
	assert.Equal(t, 0, c.RateRemaining())
}

func TestRetryOnTransient(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"name": "main", "commit": {"sha": "abc"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3})
	got, err := c.Branch(context.Background(), "octo", "repo", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Commit.SHA)
	assert.EqualValues(t, 3, hits.Load())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3})
	_, err := c.Commit(context.Background(), "octo", "repo", "gone")
	var nf *source.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.EqualValues(t, 1, hits.Load())
}

func TestRedisCacheAvoidsSecondFetch(t *testing.T) {
	mr := miniredis.RunT(t)

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, commitBody)
	}))
	defer srv.Close()

	cache := NewRedisCache(mr.Addr(), "", 0, time.Hour)
	defer cache.Close()

	c := New(Config{BaseURL: srv.URL, Cache: cache, Budget: 2})
	ctx := context.Background()

	first, err := c.Commit(ctx, "octo", "repo", "aaa")
	require.NoError(t, err)
	second, err := c.Commit(ctx, "octo", "repo", "aaa")
	require.NoError(t, err)

	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, first, second)
	// Cache hits do not consume budget.
	assert.Equal(t, 1, c.budget-c.RateRemaining())
}
