package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exposition is an optional ambient concern: the atomic
// counters in runtime.go are the source of truth the core reads/increments;
// these gauges are refreshed from a snapshot by Sync, called on a
// ticker by cmd/boxlite when --metrics-addr is set, and
// ObservePipelineStage is called directly from the init pipeline's
// Executor for per-stage duration histograms.
var (
	boxesCreatedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxlite_boxes_created_total",
		Help: "Total number of boxes created since process start.",
	})
	boxesFailedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxlite_boxes_failed_total",
		Help: "Total number of boxes whose initialization failed and were rolled back.",
	})
	boxesRemovedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxlite_boxes_removed_total",
		Help: "Total number of boxes removed.",
	})
	commandsExecutedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxlite_commands_executed_total",
		Help: "Total number of guest commands executed across all boxes.",
	})
	execErrorsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boxlite_exec_errors_total",
		Help: "Total number of guest command execution errors across all boxes.",
	})

	pipelineStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boxlite_pipeline_stage_duration_seconds",
		Help:    "Init pipeline stage duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(
		boxesCreatedTotal,
		boxesFailedTotal,
		boxesRemovedTotal,
		commandsExecutedTotal,
		execErrorsTotal,
		pipelineStageDuration,
	)
}

// Handler returns the Prometheus HTTP exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Sync pushes a RuntimeMetrics snapshot into the registered gauges. A
// caller that exposes /metrics should call this on a short interval or
// right before serving a scrape.
func Sync(snap RuntimeSnapshot) {
	boxesCreatedTotal.Set(float64(snap.BoxesCreated))
	boxesFailedTotal.Set(float64(snap.BoxesFailed))
	boxesRemovedTotal.Set(float64(snap.BoxesRemoved))
	commandsExecutedTotal.Set(float64(snap.TotalCommands))
	execErrorsTotal.Set(float64(snap.TotalExecErrors))
}

// ObservePipelineStage records a completed pipeline stage's duration.
func ObservePipelineStage(stage string, t Timer) {
	pipelineStageDuration.WithLabelValues(stage).Observe(t.Elapsed().Seconds())
}
