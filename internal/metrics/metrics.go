// Package metrics exposes Prometheus collectors for the research workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_runs_completed_total",
			Help: "Total number of research runs completed",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quill_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	// Stage metrics
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Loop metrics
	LoopIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_loop_iterations_total",
			Help: "Total loop-back edges taken per counter",
		},
		[]string{"loop"},
	)

	ForcedForward = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_forced_forward_total",
			Help: "Total forced-forward fallback edges taken when a loop ceiling was hit",
		},
		[]string{"stage"},
	)

	// Collaborator metrics
	CollaboratorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_collaborator_retries_total",
			Help: "Total retried collaborator calls",
		},
		[]string{"collaborator"},
	)

	SourcesCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_sources_collected_total",
			Help: "Total sources merged into run state",
		},
	)
)
