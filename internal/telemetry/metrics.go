package telemetry

// Prometheus run metrics.
//
// All metrics are registered against the default registry and served on the
// optional side-channel listener started by cmd/reports when
// telemetry.metrics.enabled is true. Report runs over large trees take many
// minutes, so a scrape during the run shows live progress; after the run the
// process exits and the series go stale.
//
// Label cardinality: the endpoint label on APIRequestsTotal is the first path
// segment of the native API route (dataverses, datasets, admin, sword), never
// a raw URL, so node identifiers cannot blow up the series count.

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts native API and SWORD requests by endpoint
	// group and HTTP status code ("error" for transport failures).
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataverse_api_requests_total",
			Help: "Total number of Dataverse API requests, by endpoint group and status code.",
		},
		[]string{"endpoint", "status"},
	)

	// RecordsTotal counts flat report records produced, by report kind
	// (dataverse, dataset, user).
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_records_total",
			Help: "Total number of flat report records produced, by report kind.",
		},
		[]string{"kind"},
	)

	// DownloadCountLookups counts download-count queries against the
	// Dataverse database.
	DownloadCountLookups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "download_count_lookups_total",
			Help: "Total number of download-count lookups against the Dataverse database.",
		},
	)

	// ReportDuration observes wall-clock seconds per generated report table,
	// by report kind.
	ReportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_duration_seconds",
			Help:    "Histogram of report generation durations, by report kind.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind"},
	)
)
