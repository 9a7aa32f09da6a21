package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"opnxt/pkg/logx"
)

func logger() *logx.Logger {
	return logx.NewLogger("metrics")
}

// Process outcomes.
const (
	OutcomeSuccess          = "success"
	OutcomeValidationFailed = "validation_failed"
	OutcomeUnavailable      = "generator_unavailable"
	OutcomeCancelled        = "cancelled"
	OutcomeReplayed         = "replayed"
	OutcomeError            = "error"
)

// Recorder observes orchestrator pipeline events.
type Recorder interface {
	ObserveProcess(phase, outcome string, duration time.Duration)
	IncPatchPlan(changeType, severity, status string)
	IncCompression(phase string)
	IncTransition(from, to string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

// Nop returns a recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveProcess(string, string, time.Duration) {}
func (NoopRecorder) IncPatchPlan(string, string, string)          {}
func (NoopRecorder) IncCompression(string)                        {}
func (NoopRecorder) IncTransition(string, string)                 {}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	processTotal     *prometheus.CounterVec
	processDuration  *prometheus.HistogramVec
	patchPlansTotal  *prometheus.CounterVec
	compressionTotal *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder registers pipeline metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		processTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opnxt_process_total",
				Help: "Process calls by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		processDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opnxt_process_duration_seconds",
				Help:    "End-to-end duration of Process calls",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"phase"},
		),
		patchPlansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opnxt_patch_plans_total",
				Help: "Patch plans by change type, severity and status",
			},
			[]string{"change_type", "severity", "status"},
		),
		compressionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opnxt_history_compressions_total",
				Help: "Conversation history compressions by phase",
			},
			[]string{"phase"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opnxt_phase_transitions_total",
				Help: "Phase transitions by source and target",
			},
			[]string{"from", "to"},
		),
	}
}

func (p *PrometheusRecorder) ObserveProcess(phase, outcome string, duration time.Duration) {
	p.processTotal.WithLabelValues(phase, outcome).Inc()
	p.processDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncPatchPlan(changeType, severity, status string) {
	p.patchPlansTotal.WithLabelValues(changeType, severity, status).Inc()
}

func (p *PrometheusRecorder) IncCompression(phase string) {
	p.compressionTotal.WithLabelValues(phase).Inc()
}

func (p *PrometheusRecorder) IncTransition(from, to string) {
	p.transitionsTotal.WithLabelValues(from, to).Inc()
}
