package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const namespace = "obsingest"

// PrometheusSink exports ingest metrics. Collectors that fail to register are
// logged and still updated, so callers never see the failure.
type PrometheusSink struct {
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	schedulesPublished *prometheus.CounterVec
	tapPhases          *prometheus.CounterVec
	rowsSkipped        *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Total number of task runs by outcome.",
		}, []string{"task", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_run_duration_seconds",
			Help:      "Duration of each task run in seconds, TAP wait included.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60, 120},
		}, []string{"task"}),
		schedulesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_published_total",
			Help:      "Schedules submitted to the aggregation server by result.",
		}, []string{"task", "result"}),
		tapPhases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tap_job_phases_total",
			Help:      "UWS phase observed after the single TAP poll.",
		}, []string{"phase"}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Source rows skipped because they could not be mapped to an observation.",
		}, []string{"task"}),
	}

	s.register(reg, s.runsTotal, "task_runs_total")
	s.register(reg, s.runDuration, "task_run_duration_seconds")
	s.register(reg, s.schedulesPublished, "schedules_published_total")
	s.register(reg, s.tapPhases, "tap_job_phases_total")
	s.register(reg, s.rowsSkipped, "rows_skipped_total")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
	}
}

func (s *PrometheusSink) RunCompleted(task, outcome string, duration time.Duration) {
	s.runsTotal.WithLabelValues(task, outcome).Inc()
	s.runDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func (s *PrometheusSink) SchedulePublished(task, result string) {
	s.schedulesPublished.WithLabelValues(task, result).Inc()
}

func (s *PrometheusSink) TAPPhase(phase string) {
	s.tapPhases.WithLabelValues(strings.ToUpper(phase)).Inc()
}

func (s *PrometheusSink) RowSkipped(task string) {
	s.rowsSkipped.WithLabelValues(task).Inc()
}
