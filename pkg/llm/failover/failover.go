// Package failover tries an ordered list of provider chains until one produces a draft.
package failover

import (
	"context"
	"fmt"
	"strings"

	"opnxt/pkg/llm"
	"opnxt/pkg/llm/metrics"
	"opnxt/pkg/llmerrors"
	"opnxt/pkg/logx"
)

// Generator fails over from one provider chain to the next.
type Generator struct {
	recorder metrics.Recorder
	logger   *logx.Logger
	chains   []llm.Generator
}

// New creates a failover generator. chains[0] is the primary.
func New(recorder metrics.Recorder, logger *logx.Logger, chains ...llm.Generator) *Generator {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if logger == nil {
		logger = logx.NewLogger("failover")
	}
	return &Generator{recorder: recorder, logger: logger, chains: chains}
}

// Name lists the providers in order.
func (g *Generator) Name() string {
	names := make([]string, len(g.chains))
	for i, c := range g.chains {
		names[i] = c.Name()
	}
	return strings.Join(names, "|")
}

// Generate calls each chain in turn. A profile naming a configured provider moves it to the front.
// Caller cancellation stops the walk; exhausting every chain yields an Unavailable error.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	order := g.order(req.Profile.Provider)
	if len(order) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeUnavailable, "no generator providers configured")
	}

	var lastErr error
	for i, chain := range order {
		if i > 0 {
			g.recorder.IncFailover(order[i-1].Name(), chain.Name())
			g.logger.Warn("⚠️ Failing over from %s to %s: %v", order[i-1].Name(), chain.Name(), lastErr)
		}

		resp, err := chain.Generate(ctx, req)
		if err == nil {
			if resp.Provider == "" {
				resp.Provider = chain.Name()
			}
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return llm.Response{}, fmt.Errorf("generation cancelled: %w", ctx.Err())
		}
	}

	if llmerrors.IsUnavailable(lastErr) && len(order) == 1 {
		return llm.Response{}, lastErr
	}
	unavailable := llmerrors.NewUnavailableError(lastErr, len(order))
	unavailable.Message = fmt.Sprintf("all %d generator providers failed", len(order))
	return llm.Response{}, unavailable
}

func (g *Generator) order(preferred string) []llm.Generator {
	if preferred == "" {
		return g.chains
	}
	for i, c := range g.chains {
		if c.Name() == preferred && i > 0 {
			out := make([]llm.Generator, 0, len(g.chains))
			out = append(out, c)
			out = append(out, g.chains[:i]...)
			return append(out, g.chains[i+1:]...)
		}
	}
	return g.chains
}
