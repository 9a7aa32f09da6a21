package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"opnxt/pkg/llm"
)

func TestUnconfiguredProviderIsUnlimited(t *testing.T) {
	m := NewProviderLimiterMap(nil)
	l := m.GetLimiter("offline")
	for i := 0; i < 100; i++ {
		release, err := l.Acquire(context.Background(), 10_000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		release()
	}
	if m.GetLimiter("offline") != l {
		t.Error("expected limiter reuse")
	}
}

func TestConcurrencySlotBlocksUntilReleased(t *testing.T) {
	l := NewLimiter("p", Config{MaxConcurrency: 1})
	release, err := l.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second acquire to time out, got %v", err)
	}

	release()
	release2, err := l.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatalf("expected slot after release: %v", err)
	}
	release2()
}

func TestMiddlewarePassesThrough(t *testing.T) {
	base := llm.NewMockGenerator("p", llm.MockStep{Text: "ok"})
	gen := llm.Chain(base, Middleware(NewProviderLimiterMap(map[string]Config{"p": {RequestsPerMinute: 600}}), nil))
	resp, err := gen.Generate(context.Background(), llm.Request{Prompt: "x"})
	if err != nil || resp.Text != "ok" {
		t.Fatalf("unexpected result %q %v", resp.Text, err)
	}
}
