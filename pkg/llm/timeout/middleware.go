// Package timeout bounds each generator attempt with its own deadline.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
)

// Middleware gives every attempt a fresh deadline of duration.
// An expired attempt deadline is reported as a Timeout error; caller cancellation passes through.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.Generator) llm.Generator {
		return llm.WrapGenerator(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				if duration <= 0 {
					return next.Generate(ctx, req)
				}
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				resp, err := next.Generate(timeoutCtx, req)
				if err != nil && ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
					return llm.Response{}, &llmerrors.Error{
						Type:     llmerrors.ErrorTypeTimeout,
						Err:      err,
						Provider: next.Name(),
						Message:  fmt.Sprintf("attempt exceeded %v", duration),
					}
				}
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.Name,
		)
	}
}
