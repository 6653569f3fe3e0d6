package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_task_runs_total",
			Help: "Scheduled task executions by outcome",
		},
		[]string{"task", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_task_duration_seconds",
			Help:    "Scheduled task execution time",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"task"},
	)
)
