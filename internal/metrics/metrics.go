package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	IndexBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_index_builds_total",
		Help: "Session index builds by result.",
	}, []string{"result"})

	IndexBuildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchat_index_build_seconds",
		Help:    "Duration of session index builds.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_queries_total",
		Help: "Retrieval-augmented queries by result.",
	}, []string{"result"})

	HistoryWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docchat_history_write_failures_total",
		Help: "Chat turns that could not be recorded.",
	})
)

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
