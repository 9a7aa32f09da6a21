// Package metrics records latency, token usage and outcomes of generator calls.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording generator metrics.
type Recorder interface {
	// ObserveRequest records one completed generator call.
	ObserveRequest(
		provider, model string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(provider, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(provider string, duration time.Duration)

	// IncFailover counts a switch from one provider to the next.
	IncFailover(from, to string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_, _ string, _, _ int, _ bool, _ string, _ time.Duration) {}

func (n *NoopRecorder) IncThrottle(_, _ string) {}

func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

func (n *NoopRecorder) IncFailover(_, _ string) {}
