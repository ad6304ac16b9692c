package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xwatch_runs_total",
		Help: "Total delivery pipeline runs",
	})
	RunErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xwatch_run_errors_total",
		Help: "Runs that ended with an error",
	})
	RunsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xwatch_runs_skipped_total",
		Help: "Triggers dropped because a run was already active",
	})
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xwatch_run_duration_seconds",
		Help:    "Pipeline run duration seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	RecordsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xwatch_records_fetched_total",
		Help: "Records fetched by source",
	}, []string{"source"})
	FetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xwatch_fetch_attempts_total",
		Help: "Strategy attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})
	Delivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xwatch_delivered_total",
		Help: "Records delivered to the notification sink",
	})
	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xwatch_delivery_failures_total",
		Help: "Failed sink calls by destination and kind",
	}, []string{"destination", "kind"})
	PersistenceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xwatch_persistence_failures_total",
		Help: "markDelivered write failures",
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xwatch_api_retries_total",
		Help: "Total HTTP retry attempts",
	}, []string{"endpoint"})
	RateLimitWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xwatch_ratelimit_wait_seconds",
		Help:    "Time spent waiting for rate limit capacity",
		Buckets: prometheus.DefBuckets,
	}, []string{"destination"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xwatch_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xwatch_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(RunsTotal, RunErrors, RunsSkipped, RunDuration, RecordsFetched, FetchAttempts,
		Delivered, DeliveryFailures, PersistenceFailures, APIRetries, RateLimitWait, CommandRuns, CommandErrors)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveRunDuration records a run duration
func ObserveRunDuration(start time.Time) {
	RunDuration.Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func IncFetched(source string, n int) {
	if n > 0 {
		RecordsFetched.WithLabelValues(source).Add(float64(n))
	}
}

func IncFetchAttempt(strategy, outcome string) { FetchAttempts.WithLabelValues(strategy, outcome).Inc() }

func IncDeliveryFailure(destination, kind string) {
	DeliveryFailures.WithLabelValues(destination, kind).Inc()
}

func ObserveRateLimitWait(destination string, d time.Duration) {
	RateLimitWait.WithLabelValues(destination).Observe(d.Seconds())
}

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
