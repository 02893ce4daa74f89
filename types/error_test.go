package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "embedding request failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrAssetMissing, "missing %s", "core.npy")
	wrapped := fmt.Errorf("load assets: %w", inner)

	if !IsErrorCode(wrapped, ErrAssetMissing) {
		t.Fatalf("expected wrapped error to carry %s", ErrAssetMissing)
	}
	if IsErrorCode(wrapped, ErrAssetInvalid) {
		t.Fatalf("unexpected code match")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
	if inner.Message != "missing core.npy" {
		t.Fatalf("unexpected message %q", inner.Message)
	}
}
