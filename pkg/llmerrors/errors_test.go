package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := map[ErrorType]bool{
		ErrorTypeRateLimited:   true,
		ErrorTypeTimeout:       true,
		ErrorTypeProvider:      true,
		ErrorTypeEmptyResponse: true,
		ErrorTypeAuth:          false,
		ErrorTypeBadPrompt:     false,
		ErrorTypeUnavailable:   false,
	}
	for typ, want := range cases {
		if got := NewError(typ, "x").IsRetryable(); got != want {
			t.Errorf("%s: expected retryable=%v", typ, want)
		}
	}
}

func TestClassify(t *testing.T) {
	if err := Classify("anthropic", context.Canceled); !errors.Is(err, context.Canceled) || TypeOf(err) != ErrorTypeProvider {
		t.Errorf("cancellation must pass through untouched, got %v", err)
	}

	err := Classify("openai", fmt.Errorf("call: %w", context.DeadlineExceeded))
	if !Is(err, ErrorTypeTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}

	err = Classify("openai", errors.New("HTTP 429 Too Many Requests"))
	if !Is(err, ErrorTypeRateLimited) {
		t.Errorf("expected rate limited, got %v", err)
	}

	classified := NewError(ErrorTypeAuth, "bad key")
	err = Classify("google", classified)
	if !Is(err, ErrorTypeAuth) || classified.Provider != "google" {
		t.Errorf("classified error should keep type and gain provider, got %v", err)
	}
}

func TestFromStatus(t *testing.T) {
	if FromStatus(http.StatusTooManyRequests) != ErrorTypeRateLimited {
		t.Error("429 should be rate limited")
	}
	if FromStatus(http.StatusUnauthorized) != ErrorTypeAuth {
		t.Error("401 should be auth")
	}
	if FromStatus(http.StatusBadRequest) != ErrorTypeBadPrompt {
		t.Error("400 should be bad prompt")
	}
	if FromStatus(http.StatusBadGateway) != ErrorTypeProvider {
		t.Error("502 should be provider error")
	}
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := NewError(ErrorTypeTimeout, "slow")
	err := NewUnavailableError(cause, 3)
	if !IsUnavailable(err) {
		t.Fatal("expected unavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable")
	}
}
