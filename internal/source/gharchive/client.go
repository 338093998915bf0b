// Package gharchive queries GH Archive's public BigQuery dataset
// (githubarchive.day.*). GH Archive is an append-only record of the public
// GitHub event stream, which makes it the authoritative log this module
// leans on when live GitHub history has been deleted or rewritten.
package gharchive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/harrowsec/ghtrail/internal/source"
)

const sourceName = "gharchive"

// DefaultMaxBytesBilled caps a single query at 10 GiB scanned. The daily
// tables run to hundreds of GiB; an unbounded query is a billing incident.
const DefaultMaxBytesBilled = int64(10) << 30

// Credentials are explicit service-account credentials. Exactly one of
// File or JSON should be set. The boundary layer translates whatever
// ambient state it has (env vars, secret stores) into this before
// constructing the client; the core never reads the environment itself.
type Credentials struct {
	File      string
	JSON      []byte
	ProjectID string
}

// Config holds client configuration.
type Config struct {
	Credentials    Credentials
	MaxBytesBilled int64
}

// Client runs parameterized queries against githubarchive tables.
type Client struct {
	bq             *bigquery.Client
	maxBytesBilled int64
}

// EventQuery selects archived events. From/To bound the window; Repo,
// Actor and EventType are optional conjunctive filters.
type EventQuery struct {
	From      time.Time
	To        time.Time
	Repo      string
	Actor     string
	EventType string
	Limit     int
}

// Row is one archived event.
type Row struct {
	Type       string    `bigquery:"type"`
	CreatedAt  time.Time `bigquery:"created_at"`
	ActorLogin string    `bigquery:"actor_login"`
	ActorID    int64     `bigquery:"actor_id"`
	RepoName   string    `bigquery:"repo_name"`
	RepoID     int64     `bigquery:"repo_id"`
	Payload    string    `bigquery:"payload"`
}

// New creates a Client with explicit credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case len(cfg.Credentials.JSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.Credentials.JSON))
	case cfg.Credentials.File != "":
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials.File))
	default:
		return nil, fmt.Errorf("gharchive: no credentials configured")
	}

	project := cfg.Credentials.ProjectID
	if project == "" {
		project = bigquery.DetectProjectID
	}

	bq, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: "connect", Err: err}
	}

	max := cfg.MaxBytesBilled
	if max <= 0 {
		max = DefaultMaxBytesBilled
	}
	return &Client{bq: bq, maxBytesBilled: max}, nil
}

// Close releases the underlying BigQuery client.
func (c *Client) Close() error { return c.bq.Close() }

// Tables returns the daily table names covering [from, to].
func Tables(from, to time.Time) []string {
	from, to = from.UTC(), to.UTC()
	var tables []string
	for day := from.Truncate(24 * time.Hour); !day.After(to); day = day.AddDate(0, 0, 1) {
		tables = append(tables, "githubarchive.day."+day.Format("20060102"))
	}
	return tables
}

// BuildQuery renders q as SQL plus bound parameters. Table names cannot
// be parameterized; they are derived from the window alone.
func BuildQuery(q EventQuery) (string, []bigquery.QueryParameter) {
	var selects []string
	for _, table := range Tables(q.From, q.To) {
		selects = append(selects, fmt.Sprintf(`SELECT
  type,
  created_at,
  actor.login AS actor_login,
  actor.id AS actor_id,
  repo.name AS repo_name,
  repo.id AS repo_id,
  payload
FROM `+"`%s`", table))
	}

	clauses := []string{"created_at BETWEEN @from AND @to"}
	params := []bigquery.QueryParameter{
		{Name: "from", Value: q.From.UTC()},
		{Name: "to", Value: q.To.UTC()},
	}
	if q.Repo != "" {
		clauses = append(clauses, "repo.name = @repo")
		params = append(params, bigquery.QueryParameter{Name: "repo", Value: q.Repo})
	}
	if q.Actor != "" {
		clauses = append(clauses, "actor.login = @actor")
		params = append(params, bigquery.QueryParameter{Name: "actor", Value: q.Actor})
	}
	if q.EventType != "" {
		clauses = append(clauses, "type = @event_type")
		params = append(params, bigquery.QueryParameter{Name: "event_type", Value: q.EventType})
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}

	// The union must be wrapped before filtering: a trailing WHERE would
	// bind to the last SELECT only, leaving every earlier daily table
	// unfiltered.
	sql := fmt.Sprintf("SELECT *\nFROM (\n%s\n)\nWHERE %s\nORDER BY created_at\nLIMIT %d",
		strings.Join(selects, "\nUNION ALL\n"),
		strings.Join(clauses, " AND "),
		limit)
	return sql, params
}

// QueryEvents runs q and returns the matching rows in chronological order.
func (c *Client) QueryEvents(ctx context.Context, q EventQuery) ([]Row, error) {
	sql, params := BuildQuery(q)

	job := c.bq.Query(sql)
	job.Parameters = params
	job.MaxBytesBilled = c.maxBytesBilled

	j, err := job.Run(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}
	status, err := j.Wait(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}
	if err := status.Err(); err != nil {
		return nil, c.mapError(err)
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		source.BigQueryBytesBilled.Add(float64(qs.TotalBytesBilled))
	}

	it, err := j.Read(ctx)
	if err != nil {
		return nil, c.mapError(err)
	}

	var rows []Row
	for {
		var row Row
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, c.mapError(err)
		}
		rows = append(rows, row)
	}
	source.Requests.WithLabelValues(sourceName, source.OutcomeOK).Inc()
	return rows, nil
}

func (c *Client) mapError(err error) error {
	if isQuotaError(err) {
		source.Requests.WithLabelValues(sourceName, source.OutcomeError).Inc()
		return &source.QuotaExceededError{Source: sourceName, CapBytes: c.maxBytesBilled}
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 404:
			source.Requests.WithLabelValues(sourceName, source.OutcomeNotFound).Inc()
			return &source.NotFoundError{Source: sourceName, Entity: gerr.Message}
		case 429:
			source.Requests.WithLabelValues(sourceName, source.OutcomeRateLimited).Inc()
			return &source.RateLimitedError{Source: sourceName}
		}
	}
	source.Requests.WithLabelValues(sourceName, source.OutcomeError).Inc()
	return &source.SourceUnavailableError{Source: sourceName, Op: "query", Err: err}
}

func isQuotaError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if item.Reason == "bytesBilledLimitExceeded" || item.Reason == "quotaExceeded" {
				return true
			}
		}
	}
	return strings.Contains(err.Error(), "bytesBilledLimitExceeded")
}
