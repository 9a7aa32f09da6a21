package retry

import (
	"context"
	"fmt"
	"time"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
	"opnxt/pkg/logx"
)

// Middleware retries failed generations according to policy.
// When every attempt failed with a retryable error the result is an Unavailable error,
// which the failover layer treats as the signal to try the next provider.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	return func(next llm.Generator) llm.Generator {
		return llm.WrapGenerator(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				var lastErr error

				for attempt := 1; attempt <= policy.Config.MaxAttempts; attempt++ {
					if attempt > 1 {
						delay := policy.CalculateDelay(attempt)
						if logger != nil {
							logger.Warn("🔁 %s attempt %d/%d after %v: %v",
								next.Name(), attempt, policy.Config.MaxAttempts, delay, lastErr)
						}
						if delay > 0 {
							select {
							case <-ctx.Done():
								return llm.Response{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
							case <-time.After(delay):
							}
						}
					}

					resp, err := next.Generate(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					// The caller gave up; an attempt deadline alone is not a reason to stop.
					if ctx.Err() != nil {
						return llm.Response{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
					}

					if !policy.ShouldRetry(err) {
						break
					}
				}

				if policy.ShouldRetry(lastErr) {
					unavailable := llmerrors.NewUnavailableError(lastErr, policy.Config.MaxAttempts)
					unavailable.Provider = next.Name()
					return llm.Response{}, unavailable
				}
				return llm.Response{}, lastErr
			},
			next.Name,
		)
	}
}
