package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"opnxt/pkg/llm"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Now()
	b := newWithClock(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, func() time.Time { return now })

	b.Record(false)
	if b.GetState() != Closed {
		t.Fatal("one failure should not open")
	}
	b.Record(false)
	if b.GetState() != Open {
		t.Fatal("threshold reached, expected open")
	}
	if b.Allow() {
		t.Error("open breaker should reject")
	}

	now = now.Add(2 * time.Minute)
	if !b.Allow() || b.GetState() != HalfOpen {
		t.Fatal("expected a half-open trial call after timeout")
	}
	b.Record(true)
	if b.GetState() != Closed {
		t.Errorf("expected closed after a successful trial call, got %s", b.GetState())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := newWithClock(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second}, func() time.Time { return now })
	b.Record(false)
	now = now.Add(time.Second)
	b.Allow()
	b.Record(false)
	if b.GetState() != Open {
		t.Errorf("expected reopen, got %s", b.GetState())
	}
}

func TestStateChangeHook(t *testing.T) {
	var seen []string
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 0},
		WithStateChange(func(from, to State) { seen = append(seen, from.String()+">"+to.String()) }))

	b.Record(false)
	b.Allow()
	b.Record(true)
	b.Reset()

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestMiddlewareShortCircuits(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	base := llm.NewMockGenerator("flaky", llm.MockStep{Err: errors.New("502")})
	gen := llm.Chain(base, Middleware(b))

	if _, err := gen.Generate(context.Background(), llm.Request{}); err == nil {
		t.Fatal("expected provider error")
	}
	_, err := gen.Generate(context.Background(), llm.Request{})
	var circuitErr *Error
	if !errors.As(err, &circuitErr) || circuitErr.State != Open {
		t.Fatalf("expected open circuit error, got %v", err)
	}
	if base.Calls() != 1 {
		t.Errorf("provider should not be called while open, calls=%d", base.Calls())
	}
}
