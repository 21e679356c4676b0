// Package metrics exposes Prometheus counters for the dispatch runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herald",
		Name:      "turns_total",
		Help:      "Turns handled, by routing mode and decision source.",
	}, []string{"mode", "source"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herald",
		Name:      "jobs_total",
		Help:      "Tool jobs executed, by tool and status.",
	}, []string{"tool", "status"})

	JobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "herald",
		Name:      "job_errors_total",
		Help:      "Failed tool jobs, by error code.",
	}, []string{"err_code"})

	InterruptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "herald",
		Name:      "interrupts_total",
		Help:      "Barge-in interrupts processed.",
	})

	StaleDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "herald",
		Name:      "stale_drops_total",
		Help:      "Results and replies discarded for carrying an old generation.",
	})

	RoutingConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "herald",
		Name:      "routing_confidence",
		Help:      "Confidence of accepted deterministic routing decisions.",
		Buckets:   []float64{0.70, 0.75, 0.80, 0.85, 0.90, 0.95, 1.0},
	})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "herald",
		Name:      "job_duration_seconds",
		Help:      "Wall time of tool jobs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	PoolPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "herald",
		Name:      "pool_pending_jobs",
		Help:      "Jobs submitted to the pool and not yet resolved.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
