package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
)

func TestPrometheusRecorderCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	base := llm.NewMockGenerator("offline",
		llm.MockStep{Text: "# Charter\nbody"},
		llm.MockStep{Err: llmerrors.NewError(llmerrors.ErrorTypeRateLimited, "429")},
	)
	gen := llm.Chain(base, Middleware(rec, nil, nil))

	req := llm.Request{Prompt: "write", Profile: llm.Profile{Model: "m1"}}
	if _, err := gen.Generate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := gen.Generate(context.Background(), req); err == nil {
		t.Fatal("expected scripted error")
	}

	if got := testutil.ToFloat64(rec.requestsTotal.WithLabelValues("offline", "m1", "success", "")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(rec.requestsTotal.WithLabelValues("offline", "m1", "error", "rate_limited")); got != 1 {
		t.Errorf("expected 1 rate limited error, got %v", got)
	}
	if got := testutil.ToFloat64(rec.tokensTotal.WithLabelValues("offline", "m1", "completion")); got <= 0 {
		t.Errorf("expected completion tokens, got %v", got)
	}
}
