package orcherrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("advance: %w", New(CodeInvalidTransition, "Charter -> Design"))
	if CodeOf(err) != CodeInvalidTransition {
		t.Errorf("expected InvalidTransition, got %s", CodeOf(err))
	}
	if !Is(err, CodeInvalidTransition) {
		t.Error("Is should see through fmt wrapping")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Error("unclassified errors map to Internal")
	}
}

func TestEveryCodeHasHint(t *testing.T) {
	codes := []Code{
		CodeInvalidTransition, CodePrerequisiteNotMet, CodeUnknownPhase, CodeNoAgentBound,
		CodeGeneratorUnavailable, CodeValidationFailed, CodeUnknownReference, CodeDeprecatedID,
		CodeProjectNotFound, CodeNotFound, CodeInvalidRequest, CodeCancelled, CodeInternal,
	}
	for _, c := range codes {
		if New(c, "x").Hint == "" {
			t.Errorf("code %s has no hint", c)
		}
	}
}

func TestValidationFailedCarriesMissing(t *testing.T) {
	err := ValidationFailed("SRS.md", []string{"Scope", "Constraints"})
	if err.Code != CodeValidationFailed {
		t.Fatalf("unexpected code %s", err.Code)
	}
	if len(err.Missing) != 2 || err.Missing[0] != "Scope" {
		t.Errorf("unexpected missing %v", err.Missing)
	}
	if !strings.Contains(err.Error(), "missing: Scope, Constraints") {
		t.Errorf("message should list sections: %s", err.Error())
	}
}

func TestWrapUnwraps(t *testing.T) {
	err := Wrap(CodeCancelled, context.Canceled, "process aborted")
	if !errors.Is(err, context.Canceled) {
		t.Error("wrapped cause should be reachable")
	}
	hinted := err.WithHint("custom")
	if hinted.Hint != "custom" || err.Hint == "custom" {
		t.Error("WithHint must copy")
	}
}
