package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherfeed_refresh_total",
			Help: "Total number of refresh attempts per provider and result",
		},
		[]string{"provider", "result"},
	)

	RefreshDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherfeed_refresh_duration_seconds",
			Help:    "Provider round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	SnapshotVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weatherfeed_snapshot_version",
			Help: "Version of the current snapshot per feed",
		},
		[]string{"feed"},
	)

	SnapshotTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weatherfeed_snapshot_timestamp_seconds",
			Help: "Unix timestamp of the current snapshot per feed",
		},
		[]string{"feed"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherfeed_http_requests_total",
			Help: "Total number of HTTP requests per route and status code",
		},
		[]string{"route", "code"},
	)
)

// Refresh results.
const (
	ResultOK        = "ok"
	ResultRetrieval = "retrieval_error"
	ResultParse     = "parse_error"
)

func ObserveRefresh(provider, result string, startedAt time.Time) {
	RefreshTotal.WithLabelValues(provider, result).Inc()
	RefreshDurationSeconds.WithLabelValues(provider).Observe(time.Since(startedAt).Seconds())
}

func UpdateSnapshot(feed string, version uint64, fetchedAt time.Time) {
	SnapshotVersion.WithLabelValues(feed).Set(float64(version))
	SnapshotTimestamp.WithLabelValues(feed).Set(float64(fetchedAt.Unix()))
}

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weatherfeed_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "weatherfeed_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherfeed_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
