package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outbound request metrics, labeled by source and outcome. The GitHub
// budget gauge makes exhaustion of the 60/hour unauthenticated ceiling
// visible before collections start failing.
var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghtrail_source_requests_total",
		Help: "Outbound requests per evidence source and outcome.",
	}, []string{"source", "outcome"})

	GitHubRateRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghtrail_github_rate_remaining",
		Help: "Remaining GitHub API request budget in the current window.",
	})

	BigQueryBytesBilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghtrail_bigquery_bytes_billed_total",
		Help: "Total BigQuery bytes billed by GH Archive queries.",
	})
)

const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)
