package circuit

import (
	"context"
	"errors"

	"opnxt/pkg/llm"
)

// Middleware rejects calls while the breaker is open.
// Caller cancellation is not counted as a provider failure.
func Middleware(breaker Breaker) llm.Middleware {
	return func(next llm.Generator) llm.Generator {
		return llm.WrapGenerator(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				if !breaker.Allow() {
					return llm.Response{}, &Error{Provider: next.Name(), State: breaker.GetState()}
				}

				resp, err := next.Generate(ctx, req)
				if err != nil && errors.Is(err, context.Canceled) {
					return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}
				breaker.Record(err == nil)

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.Name,
		)
	}
}
