// Package metrics records orchestrator pipeline outcomes and reads generator usage back
// from a Prometheus server.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Usage is aggregated token usage for one provider and model.
type Usage struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// GetUsage returns generator token totals grouped by provider and model, sorted by provider
// then model. An empty provider matches every provider.
func (q *QueryService) GetUsage(ctx context.Context, provider string) ([]Usage, error) {
	selector := `opnxt_generator_tokens_total`
	if provider != "" {
		selector = fmt.Sprintf(`opnxt_generator_tokens_total{provider=%q}`, provider)
	}
	query := fmt.Sprintf(`sum by (provider, model, type) (%s)`, selector)

	result, warnings, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	if len(warnings) > 0 {
		logger().Warn("⚠️ Prometheus warnings for usage query: %v", warnings)
	}

	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s for usage query", result.Type())
	}

	byKey := make(map[string]*Usage)
	for _, sample := range vector {
		p := string(sample.Metric["provider"])
		m := string(sample.Metric["model"])
		key := p + "\x00" + m
		u, ok := byKey[key]
		if !ok {
			u = &Usage{Provider: p, Model: m}
			byKey[key] = u
		}
		switch sample.Metric["type"] {
		case "prompt":
			u.PromptTokens += int64(sample.Value)
		case "completion":
			u.CompletionTokens += int64(sample.Value)
		}
	}

	usage := make([]Usage, 0, len(byKey))
	for _, u := range byKey {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		usage = append(usage, *u)
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Provider != usage[j].Provider {
			return usage[i].Provider < usage[j].Provider
		}
		return usage[i].Model < usage[j].Model
	})
	return usage, nil
}
