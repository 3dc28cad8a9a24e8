// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WizardTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_transitions_total",
			Help: "Total number of wizard step transitions",
		},
		[]string{"direction", "kind"},
	)

	WizardEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wizard_events_total",
			Help: "Total number of wizard events emitted",
		},
		[]string{"event"},
	)

	WizardSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wizard_sessions_active",
			Help: "Number of wizard sessions held in memory",
		},
	)

	AutosaveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questionnaire_autosave_writes_total",
			Help: "Total number of local cache writes",
		},
		[]string{"status"},
	)

	CheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questionnaire_checkpoints_total",
			Help: "Total number of checkpoint saves by outcome",
		},
		[]string{"mode", "status"},
	)

	CheckpointDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "questionnaire_checkpoint_duration_seconds",
			Help: "Duration of checkpoint saves in seconds",
		},
		[]string{"status"},
	)

	SnapshotLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questionnaire_snapshot_loads_total",
			Help: "Total number of snapshot loads by resulting source",
		},
		[]string{"source"},
	)
)
