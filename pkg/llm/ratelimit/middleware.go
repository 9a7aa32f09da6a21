package ratelimit

import (
	"context"
	"time"

	"opnxt/pkg/llm"
	"opnxt/pkg/llm/metrics"
	"opnxt/pkg/tokens"
)

// Middleware acquires provider budget before each call.
// Estimated usage is the tiktoken count of the prompt plus the profile's output budget.
func Middleware(limiters *ProviderLimiterMap, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return func(next llm.Generator) llm.Generator {
		return llm.WrapGenerator(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				limiter := limiters.GetLimiter(next.Name())
				estimate := tokens.Count(req.Context+"\n"+req.Prompt) + req.Profile.WithDefaults().MaxTokens

				start := time.Now()
				release, err := limiter.Acquire(ctx, estimate)
				if err != nil {
					recorder.IncThrottle(next.Name(), "rate_limit")
					return llm.Response{}, err
				}
				defer release()
				recorder.ObserveQueueWait(next.Name(), time.Since(start))

				return next.Generate(ctx, req)
			},
			next.Name,
		)
	}
}
