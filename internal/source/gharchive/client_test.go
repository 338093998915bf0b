package gharchive

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/harrowsec/ghtrail/internal/source"
)

func TestTables_SingleDay(t *testing.T) {
	from := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"githubarchive.day.20240310"}, Tables(from, to))
}

func TestTables_WindowSpansMidnight(t *testing.T) {
	// A recovery window around 23:50 straddles two daily tables.
	from := time.Date(2024, 3, 10, 23, 20, 0, 0, time.UTC)
	to := time.Date(2024, 3, 11, 0, 20, 0, 0, time.UTC)
	assert.Equal(t, []string{
		"githubarchive.day.20240310",
		"githubarchive.day.20240311",
	}, Tables(from, to))
}

func TestBuildQuery(t *testing.T) {
	q := EventQuery{
		From:      time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
		To:        time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
		Repo:      "octo/repo",
		Actor:     "mallory",
		EventType: "PushEvent",
	}
	sql, params := BuildQuery(q)

	assert.Contains(t, sql, "`githubarchive.day.20240310`")
	assert.Contains(t, sql, "repo.name = @repo")
	assert.Contains(t, sql, "actor.login = @actor")
	assert.Contains(t, sql, "type = @event_type")
	assert.Contains(t, sql, "ORDER BY created_at")
	assert.Contains(t, sql, "LIMIT 1000")

	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"from", "to", "repo", "actor", "event_type"}, names)
}

func TestBuildQuery_WindowSpansMidnight(t *testing.T) {
	q := EventQuery{
		From: time.Date(2024, 3, 10, 23, 20, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 11, 0, 20, 0, 0, time.UTC),
		Repo: "octo/repo",
	}
	sql, _ := BuildQuery(q)

	require.Contains(t, sql, "`githubarchive.day.20240310`")
	require.Contains(t, sql, "`githubarchive.day.20240311`")

	// The predicate must govern every daily table. A WHERE appended
	// straight after the union would bind to the last SELECT only, so
	// the union has to be a subquery with the filter outside it.
	assert.True(t, strings.HasPrefix(sql, "SELECT *\nFROM ("), "union is not wrapped in a subquery")
	closing := strings.LastIndex(sql, ")")
	where := strings.Index(sql, "WHERE created_at BETWEEN @from AND @to AND repo.name = @repo")
	require.NotEqual(t, -1, where)
	assert.Greater(t, where, closing, "filter must sit outside the wrapped union")
	inner := sql[strings.Index(sql, "(")+1 : closing]
	for i, branch := range strings.Split(inner, "UNION ALL") {
		assert.NotContains(t, branch, "WHERE", "branch %d carries its own partial filter", i)
	}
}

func TestBuildQuery_NoOptionalFilters(t *testing.T) {
	q := EventQuery{
		From:  time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
		To:    time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC),
		Limit: 50,
	}
	sql, params := BuildQuery(q)
	assert.NotContains(t, sql, "@repo")
	assert.Contains(t, sql, "LIMIT 50")
	assert.Len(t, params, 2)
}

func TestMapError_Quota(t *testing.T) {
	c := &Client{maxBytesBilled: DefaultMaxBytesBilled}
	gerr := &googleapi.Error{
		Code:   400,
		Errors: []googleapi.ErrorItem{{Reason: "bytesBilledLimitExceeded"}},
	}
	err := c.mapError(gerr)
	var quota *source.QuotaExceededError
	require.True(t, errors.As(err, &quota))
	assert.Equal(t, DefaultMaxBytesBilled, quota.CapBytes)
}

func TestMapError_NotFound(t *testing.T) {
	c := &Client{}
	err := c.mapError(&googleapi.Error{Code: 404, Message: "table not found"})
	var nf *source.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestMapError_Transient(t *testing.T) {
	c := &Client{}
	err := c.mapError(errors.New("connection reset"))
	assert.True(t, source.IsTransient(err))
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(t.Context(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}
