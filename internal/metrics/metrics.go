package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automation_executions_started_total",
		Help: "Rule executions created from matching trigger events.",
	})

	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_executions_finished_total",
		Help: "Rule executions reaching a terminal status.",
	}, []string{"status"})

	ActionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_action_attempts_total",
		Help: "Action executions by action type and outcome.",
	}, []string{"action", "outcome"})

	ActionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_action_latency_seconds",
		Help:    "Latency of a single action execution, network call included.",
		Buckets: prometheus.DefBuckets,
	})

	DueBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "automation_due_batch_size",
		Help: "Number of executions claimed in the most recent poll.",
	})
)
