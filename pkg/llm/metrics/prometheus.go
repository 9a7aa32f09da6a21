package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	queueWaitTime   *prometheus.HistogramVec
	failoverTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder registers generator metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opnxt_generator_requests_total",
				Help: "Total number of generator calls by provider, model and status",
			},
			[]string{"provider", "model", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opnxt_generator_tokens_total",
				Help: "Total number of tokens sent to and received from generators",
			},
			[]string{"provider", "model", "type"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opnxt_generator_request_duration_seconds",
				Help:    "Duration of generator calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opnxt_generator_throttle_total",
				Help: "Total number of generator throttling events",
			},
			[]string{"provider", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opnxt_generator_queue_wait_duration_seconds",
				Help:    "Time spent waiting for rate limit availability",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		failoverTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opnxt_generator_failover_total",
				Help: "Number of times a call moved on to the next provider",
			},
			[]string{"from", "to"},
		),
	}
}

func (p *PrometheusRecorder) ObserveRequest(
	provider, model string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(provider, model, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncThrottle(provider, reason string) {
	p.throttleTotal.WithLabelValues(provider, reason).Inc()
}

func (p *PrometheusRecorder) ObserveQueueWait(provider string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(provider).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncFailover(from, to string) {
	p.failoverTotal.WithLabelValues(from, to).Inc()
}
