package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"opnxt/pkg/llm"
	"opnxt/pkg/llm/circuit"
	"opnxt/pkg/llmerrors"
)

func TestShouldRetry_NilError(t *testing.T) {
	if ShouldRetry(nil) {
		t.Error("Expected false for nil error")
	}
}

func TestShouldRetry_ContextCanceled(t *testing.T) {
	err := fmt.Errorf("operation failed: %w", context.Canceled)
	if ShouldRetry(err) {
		t.Error("Expected false for wrapped context.Canceled")
	}
}

func TestShouldRetry_DeadlineExceeded(t *testing.T) {
	// Per-attempt timeouts surface as DeadlineExceeded while the caller is still waiting.
	if !ShouldRetry(fmt.Errorf("http call failed: %w", context.DeadlineExceeded)) {
		t.Error("Expected true for wrapped DeadlineExceeded")
	}
}

func TestShouldRetry_Classified(t *testing.T) {
	cases := map[llmerrors.ErrorType]bool{
		llmerrors.ErrorTypeRateLimited: true,
		llmerrors.ErrorTypeTimeout:     true,
		llmerrors.ErrorTypeProvider:    true,
		llmerrors.ErrorTypeAuth:        false,
		llmerrors.ErrorTypeBadPrompt:   false,
		llmerrors.ErrorTypeUnavailable: false,
	}
	for typ, want := range cases {
		err := fmt.Errorf("wrapped: %w", llmerrors.NewError(typ, "x"))
		if ShouldRetry(err) != want {
			t.Errorf("%s: expected %v", typ, want)
		}
	}
}

func TestShouldRetry_OpenCircuit(t *testing.T) {
	if ShouldRetry(&circuit.Error{State: circuit.Open}) {
		t.Error("open circuit must not be retried")
	}
}

func TestCalculateDelay_ExponentialBackoff(t *testing.T) {
	p := NewPolicy(Config{
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}, nil)

	expected := map[int]time.Duration{1: 0, 2: time.Second, 3: 2 * time.Second, 4: 4 * time.Second}
	for attempt, want := range expected {
		if got := p.CalculateDelay(attempt); got != want {
			t.Errorf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestCalculateDelay_MaxDelayCap(t *testing.T) {
	p := NewPolicy(Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}, nil)
	if delay := p.CalculateDelay(10); delay != 5*time.Second {
		t.Errorf("Expected 5s cap, got: %v", delay)
	}
}

func TestCalculateDelay_WithJitter(t *testing.T) {
	p := NewPolicy(Config{InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2.0, Jitter: true}, nil)
	delay := p.CalculateDelay(2)
	if delay < 900*time.Millisecond || delay > 1100*time.Millisecond {
		t.Errorf("Expected delay within ±10%% of 1s, got: %v", delay)
	}
}

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}, nil)
}

func TestMiddleware_RecoversAfterTransientFailures(t *testing.T) {
	base := llm.NewMockGenerator("p",
		llm.MockStep{Err: llmerrors.NewError(llmerrors.ErrorTypeRateLimited, "slow down")},
		llm.MockStep{Err: llmerrors.NewError(llmerrors.ErrorTypeTimeout, "timeout")},
		llm.MockStep{Text: "# Doc"},
	)
	gen := llm.Chain(base, Middleware(fastPolicy(3), nil))

	resp, err := gen.Generate(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "# Doc" || base.Calls() != 3 {
		t.Errorf("unexpected result %q after %d calls", resp.Text, base.Calls())
	}
}

func TestMiddleware_ExhaustionIsUnavailable(t *testing.T) {
	timeout := llmerrors.NewError(llmerrors.ErrorTypeTimeout, "timeout")
	base := llm.NewMockGenerator("p", llm.MockStep{Err: timeout}, llm.MockStep{Err: timeout}, llm.MockStep{Err: timeout})
	gen := llm.Chain(base, Middleware(fastPolicy(3), nil))

	_, err := gen.Generate(context.Background(), llm.Request{})
	if !llmerrors.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if base.Calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", base.Calls())
	}
}

func TestMiddleware_NonRetryableStopsImmediately(t *testing.T) {
	auth := llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")
	base := llm.NewMockGenerator("p", llm.MockStep{Err: auth})
	gen := llm.Chain(base, Middleware(fastPolicy(3), nil))

	_, err := gen.Generate(context.Background(), llm.Request{})
	if !errors.Is(err, auth) || llmerrors.IsUnavailable(err) {
		t.Errorf("expected auth error unchanged, got %v", err)
	}
	if base.Calls() != 1 {
		t.Errorf("expected single attempt, got %d", base.Calls())
	}
}

func TestMiddleware_StopsOnCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	base := llm.NewMockGenerator("p")
	base.Fallback = func(context.Context, llm.Request) (llm.Response, error) {
		cancel()
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeProvider, "503")
	}
	gen := llm.Chain(base, Middleware(fastPolicy(5), nil))

	_, err := gen.Generate(ctx, llm.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if base.Calls() != 1 {
		t.Errorf("expected no retries after cancel, got %d calls", base.Calls())
	}
}
