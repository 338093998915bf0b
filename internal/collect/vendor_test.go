package collect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/source"
)

const reportYAML = `source_name: ExampleSec
url: https://examplesec.test/advisory/2024-001
title: Supply chain compromise of octo/repo
author: Jo Analyst
published: 2024-03-12T00:00:00Z
summary: Build script replaced with a downloader.
repository: octo/repo
content: |
  The attacker, operating as mallory-dev, replaced build.sh so that it
  fetched a stage-two payload from evil.example during CI runs.
iocs:
  - type: username
    value: mallory-dev
    context: account that pushed the malicious commit
  - type: domain
    value: evil.example
    context: payload host
`

func writeReport(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCollectVendorReport(t *testing.T) {
	report, err := LoadVendorReport(writeReport(t, reportYAML))
	require.NoError(t, err)

	f := New(Deps{Fetcher: &fakeFetcher{}, Clock: testClock})
	items, err := f.CollectVendorReport(context.Background(), report)
	require.NoError(t, err)
	require.Len(t, items, 3)

	article, ok := items[0].(*evidence.ArticleObservation)
	require.True(t, ok)
	assert.Equal(t, "Supply chain compromise of octo/repo", article.Title)
	assert.Equal(t, "ExampleSec", article.SourceName)
	assert.Equal(t, evidence.SourceVendor, article.ObservedBy)
	assert.Len(t, article.EvidenceIDs, 2, "article cross-references its indicators")

	ioc, ok := items[1].(*evidence.IOC)
	require.True(t, ok)
	assert.Equal(t, evidence.IOCUsername, ioc.IOCType)
	assert.Equal(t, "mallory-dev", ioc.Value)
	assert.Equal(t, article.ID(), ioc.ExtractedFrom)
	assert.Equal(t, report.URL, ioc.Verification.URL)
}

func TestCollectVendorReport_UnsubstantiatedIOCFailsAll(t *testing.T) {
	body := reportYAML + `  - type: ip_address
    value: 203.0.113.50
    context: never actually mentioned in the article
`
	report, err := LoadVendorReport(writeReport(t, body))
	require.NoError(t, err)

	f := New(Deps{Fetcher: &fakeFetcher{}, Clock: testClock})
	_, err = f.CollectVendorReport(context.Background(), report)
	var pe *source.ProvenanceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "203.0.113.50", pe.Value)
}

func TestLoadVendorReport_MissingURL(t *testing.T) {
	_, err := LoadVendorReport(writeReport(t, "title: no url here\n"))
	var se *source.SchemaError
	require.True(t, errors.As(err, &se))
}
