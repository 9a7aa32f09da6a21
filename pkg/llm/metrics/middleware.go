package metrics

import (
	"context"
	"errors"
	"time"

	"opnxt/pkg/llm"
	"opnxt/pkg/llm/circuit"
	"opnxt/pkg/llmerrors"
	"opnxt/pkg/logx"
	"opnxt/pkg/tokens"
)

// UsageExtractor returns token usage for a completed call.
type UsageExtractor func(req llm.Request, resp llm.Response) (promptTokens, completionTokens int)

// DefaultUsageExtractor prefers provider-reported usage and counts with tiktoken otherwise.
func DefaultUsageExtractor(req llm.Request, resp llm.Response) (promptTokens, completionTokens int) {
	promptTokens = resp.PromptTokens
	if promptTokens == 0 {
		promptTokens = tokens.Count(req.Context + "\n" + req.Prompt)
	}
	completionTokens = resp.CompletionTokens
	if completionTokens == 0 {
		completionTokens = tokens.Count(resp.Text)
	}
	return promptTokens, completionTokens
}

// Middleware records metrics for every call that passes through it.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	if recorder == nil {
		recorder = Nop()
	}

	return func(next llm.Generator) llm.Generator {
		return llm.WrapGenerator(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				start := time.Now()
				resp, err := next.Generate(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				}

				model := resp.Model
				if model == "" {
					model = req.Profile.Model
				}
				recorder.ObserveRequest(next.Name(), model, promptTokens, completionTokens, err == nil, errorType(err), duration)

				if logger != nil {
					status := "success"
					if err != nil {
						status = "error"
					}
					logger.Info("🎯 Generator call: provider=%s model=%s tokens=%d+%d status=%s duration=%dms",
						next.Name(), model, promptTokens, completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.Name,
		)
	}
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	var circuitErr *circuit.Error
	switch {
	case errors.As(err, &circuitErr):
		return "circuit_breaker"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.TypeOf(err).String()
	}
}
