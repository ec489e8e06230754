package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricviz_tasks_submitted_total",
			Help: "Remote generation tasks submitted, by outcome.",
		},
		[]string{"outcome"}, // "ok", "error", "insufficient_credits"
	)
	TaskPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricviz_task_polls_total",
			Help: "Remote task status lookups, by resulting state.",
		},
		[]string{"state"}, // "success", "pending", "fail", "error"
	)
	ImagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabricviz_images_created_total",
		Help: "Images materialized by reconciliation.",
	})
	RehostFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabricviz_rehost_fallbacks_total",
		Help: "Results served from the vendor url because re-hosting failed.",
	})
	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricviz_job_transitions_total",
			Help: "Job state transitions, by target status.",
		},
		[]string{"status"},
	)
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fabricviz_reconcile_duration_seconds",
		Help:    "Duration of a reconciliation pass that polled the vendor.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabricviz_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
