package metrics

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitment_ingest",
		Name:      "stage_transitions_total",
		Help:      "Pipeline stage status changes by stage and status.",
	}, []string{"stage", "status"})
	DiscardedResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitment_ingest",
		Name:      "discarded_results_total",
		Help:      "Stage results dropped before commit, by reason.",
	}, []string{"reason"})
	Polls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitment_ingest",
		Name:      "job_polls_total",
		Help:      "Job collection polls attempted by the reconciler.",
	})
	PollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitment_ingest",
		Name:      "job_poll_failures_total",
		Help:      "Job collection polls that failed and were swallowed.",
	})
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitment_ingest",
		Name:      "notifications_total",
		Help:      "Job transition notifications delivered, by terminal status.",
	}, []string{"status"})
	CoalescedRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitment_ingest",
		Name:      "coalesced_requests_total",
		Help:      "API requests served from an identical in-flight request.",
	})
	ApprovedRows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitment_ingest",
		Name:      "approved_rows_total",
		Help:      "Rows approved through the approval ledger.",
	})
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fitment_ingest",
		Name:      "api_request_duration_seconds",
		Help:      "Latency of calls to the ingestion service.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "code"})
	ConsoleRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fitment_ingest",
		Name:      "console_request_duration_seconds",
		Help:      "Latency of console API requests by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
)

// Init registers collectors; call once from main.
func Init() {
	prometheus.MustRegister(StageTransitions, DiscardedResults, Polls, PollFailures,
		Notifications, CoalescedRequests, ApprovedRows, RequestDuration, ConsoleRequests)
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). Non-blocking when run in goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// AddrFromEnv returns listen address from METRICS_ADDR or default ":9090".
func AddrFromEnv() string {
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		return v
	}
	return ":9090"
}
