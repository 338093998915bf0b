// Package wayback is a client for the Internet Archive's CDX API and
// snapshot replay endpoint.
package wayback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"encoding/json"

	"github.com/harrowsec/ghtrail/internal/source"
)

const sourceName = "wayback"

// Config holds client configuration. Zero values get sensible defaults.
type Config struct {
	CDXURL     string
	ArchiveURL string
	Timeout    time.Duration
}

// Client queries the Wayback Machine.
type Client struct {
	cdxURL     string
	archiveURL string
	http       *http.Client
}

// Capture is one CDX result row.
type Capture struct {
	Timestamp  string // YYYYMMDDHHMMSS
	Original   string
	Digest     string
	MimeType   string
	StatusCode string
	Length     string
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.CDXURL == "" {
		cfg.CDXURL = "https://web.archive.org/cdx/search/cdx"
	}
	if cfg.ArchiveURL == "" {
		cfg.ArchiveURL = "https://web.archive.org/web"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cdxURL:     cfg.CDXURL,
		archiveURL: cfg.ArchiveURL,
		http:       &http.Client{Timeout: cfg.Timeout},
	}
}

// Search lists archived captures of target, newest constraints first
// honored via from/to (YYYYMMDD). Only 200-status captures are returned.
func (c *Client) Search(ctx context.Context, target, from, to string, limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = 1000
	}
	params := url.Values{
		"url":       {target},
		"output":    {"json"},
		"matchType": {"exact"},
		"filter":    {"statuscode:200"},
		"limit":     {strconv.Itoa(limit)},
	}
	if from != "" {
		params.Set("from", from)
	}
	if to != "" {
		params.Set("to", to)
	}

	body, err := c.get(ctx, c.cdxURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	// CDX json output is a row-oriented array; the first row is headers.
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: "cdx", Err: err}
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	idx := map[string]int{}
	for i, name := range rows[0] {
		idx[name] = i
	}
	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	captures := make([]Capture, 0, len(rows)-1)
	for _, row := range rows[1:] {
		captures = append(captures, Capture{
			Timestamp:  field(row, "timestamp"),
			Original:   field(row, "original"),
			Digest:     field(row, "digest"),
			MimeType:   field(row, "mimetype"),
			StatusCode: field(row, "statuscode"),
			Length:     field(row, "length"),
		})
	}
	source.Requests.WithLabelValues(sourceName, source.OutcomeOK).Inc()
	return captures, nil
}

// Snapshot fetches the archived content of target at the exact capture
// timestamp (YYYYMMDDHHMMSS).
func (c *Client) Snapshot(ctx context.Context, target, timestamp string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/%s/%s", c.archiveURL, timestamp, target))
	if err != nil {
		return "", err
	}
	source.Requests.WithLabelValues(sourceName, source.OutcomeOK).Inc()
	return string(body), nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: rawURL, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		source.Requests.WithLabelValues(sourceName, source.OutcomeError).Inc()
		return nil, &source.SourceUnavailableError{Source: sourceName, Op: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &source.SourceUnavailableError{Source: sourceName, Op: rawURL, Err: err}
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		source.Requests.WithLabelValues(sourceName, source.OutcomeNotFound).Inc()
		return nil, &source.NotFoundError{Source: sourceName, Entity: rawURL}
	case resp.StatusCode == http.StatusTooManyRequests:
		source.Requests.WithLabelValues(sourceName, source.OutcomeRateLimited).Inc()
		return nil, &source.RateLimitedError{Source: sourceName}
	default:
		source.Requests.WithLabelValues(sourceName, source.OutcomeError).Inc()
		return nil, &source.SourceUnavailableError{
			Source: sourceName, Op: rawURL,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}
}
