package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestQuoteErrorIsRecoverable(t *testing.T) {
	err := NewQuoteError("quote", fmt.Errorf("connection refused"))

	if !IsRecoverable(err) {
		t.Error("quote errors must be recoverable")
	}
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Error("quote errors must unwrap to ErrQuoteUnavailable")
	}
}

func TestQuoteErrorWrapped(t *testing.T) {
	err := fmt.Errorf("sell failed: %w", NewQuoteError("quote", fmt.Errorf("timeout")))

	if !IsRecoverable(err) {
		t.Error("recoverability must survive wrapping")
	}
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Error("errors.Is must see through the wrap")
	}
}

func TestValidationErrorNotRecoverable(t *testing.T) {
	err := &ValidationError{Field: "shares", Reason: "must be greater than zero"}

	if IsRecoverable(err) {
		t.Error("validation errors must not be recoverable")
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Error("errors.As must match *ValidationError")
	}
	if ve.Field != "shares" {
		t.Errorf("expected field 'shares', got %q", ve.Field)
	}
}

func TestPersistenceErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewPersistenceError("apply buy", cause)

	if !errors.Is(err, cause) {
		t.Error("persistence errors must unwrap to their cause")
	}
	if IsRecoverable(err) {
		t.Error("persistence errors must not be recoverable")
	}
}

func TestSentinelErrorsDistinct(t *testing.T) {
	sentinels := []error{
		ErrInsufficientFunds,
		ErrInsufficientShares,
		ErrPositionNotFound,
		ErrQuoteUnavailable,
		ErrLockTimeout,
		ErrUpstreamUnavailable,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v must not match %v", a, b)
			}
		}
	}
}
