package wayback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowsec/ghtrail/internal/source"
)

const cdxBody = `[
	["urlkey","timestamp","original","mimetype","statuscode","digest","length"],
	["com,github)/octo/repo","20240310120000","https://github.com/octo/repo","text/html","200","ABCDEF1234","51234"],
	["com,github)/octo/repo","20240501083000","https://github.com/octo/repo","text/html","200","FEDCBA4321","50991"]
]`

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://github.com/octo/repo", r.URL.Query().Get("url"))
		assert.Equal(t, "json", r.URL.Query().Get("output"))
		assert.Equal(t, "20240101", r.URL.Query().Get("from"))
		fmt.Fprint(w, cdxBody)
	}))
	defer srv.Close()

	c := New(Config{CDXURL: srv.URL})
	got, err := c.Search(context.Background(), "https://github.com/octo/repo", "20240101", "", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "20240310120000", got[0].Timestamp)
	assert.Equal(t, "ABCDEF1234", got[0].Digest)
	assert.Equal(t, "200", got[1].StatusCode)
}

func TestSearch_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[["urlkey","timestamp","original"]]`)
	}))
	defer srv.Close()

	c := New(Config{CDXURL: srv.URL})
	got, err := c.Search(context.Background(), "https://example.com/nothing", "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/20240310120000/")
		fmt.Fprint(w, "<html>archived page</html>")
	}))
	defer srv.Close()

	c := New(Config{ArchiveURL: srv.URL})
	got, err := c.Snapshot(context.Background(), "https://github.com/octo/repo", "20240310120000")
	require.NoError(t, err)
	assert.Contains(t, got, "archived page")
}

func TestSnapshot_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{ArchiveURL: srv.URL})
	_, err := c.Snapshot(context.Background(), "https://example.com", "19990101000000")
	var nf *source.NotFoundError
	require.True(t, errors.As(err, &nf))
}
