package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("execution reverted")
	err := Wrap(CodeGasEstimation, cause, "", WithMetadata("chain", "local"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped error to match cause")
	}
	if err.Message() != AttributesOf(CodeGasEstimation).Message {
		t.Fatalf("unexpected default message %q", err.Message())
	}
	if got := err.Metadata()["chain"]; got != "local" {
		t.Fatalf("unexpected metadata %q", got)
	}
	want := "[GAS_ESTIMATION] gas estimation failed: execution reverted"
	if err.Error() != want {
		t.Fatalf("unexpected message: got %q want %q", err.Error(), want)
	}
}

func TestCodeOfThroughWrapping(t *testing.T) {
	base := New(CodeTimeout, "wait deployed")
	wrapped := fmt.Errorf("deploy: %w", base)

	if CodeOf(wrapped) != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s", CodeOf(wrapped))
	}
	if !RetryableError(wrapped) {
		t.Fatalf("timeout should be retryable")
	}
	if !stdErrors.Is(wrapped, New(CodeTimeout, "")) {
		t.Fatalf("errors.Is should match on code")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should map to UNKNOWN")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	const code Code = "TEST_ONLY"
	Register(code, Attributes{Message: "test", Severity: SeverityInfo, Retryable: true})

	err := New(code, "")
	if err.Message() != "test" || !err.Retryable() || err.Severity() != SeverityInfo {
		t.Fatalf("unexpected attributes: %+v", AttributesOf(code))
	}
	if AttributesOf("MISSING") != AttributesOf(CodeUnknown) {
		t.Fatalf("unregistered codes should fall back to UNKNOWN")
	}
}
