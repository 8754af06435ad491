package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Validation(CodeWeightSumInvalid, "weights sum to %d", 90)
	wrapped := fmt.Errorf("create batch: %w", base)

	if KindOf(wrapped) != KindValidation {
		t.Fatalf("kind = %q, want %q", KindOf(wrapped), KindValidation)
	}
	if CodeOf(wrapped) != CodeWeightSumInvalid {
		t.Fatalf("code = %q", CodeOf(wrapped))
	}
	if !Is(wrapped, KindValidation) || Is(wrapped, KindConflict) {
		t.Fatalf("Is mismatch for %v", wrapped)
	}
}

func TestInvalidTransitionNamesBothStates(t *testing.T) {
	err := InvalidTransition("project", "open", "completed")
	if !strings.Contains(err.Error(), "open") || !strings.Contains(err.Error(), "completed") {
		t.Fatalf("message %q does not name both states", err.Error())
	}
}

func TestGatewayUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Gateway(CodeGatewayUnavailable, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("gateway error does not unwrap to its cause")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain error should have no kind")
	}
}
