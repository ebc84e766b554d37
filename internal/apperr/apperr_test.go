package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want Kind
	}{
		{"validation", Validation("source", "required"), KindValidation},
		{"not_found", NotFound("stream not found"), KindNotFound},
		{"conflict", Conflict("worker attached"), KindConflict},
		{"transient", Transient("timeout", errors.New("dial timeout")), KindTransient},
		{"permanent", Permanent("image pull failed", errors.New("no such image")), KindPermanent},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.err.Kind != c.want {
				t.Fatalf("got kind %v, want %v", c.err.Kind, c.want)
			}
		})
	}
}

func TestErrorMessageIncludesField(t *testing.T) {
	err := Validation("grid_size_px", "must be within [4, 128]")
	if err.Error() != "grid_size_px: must be within [4, 128]" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestRetryableFlags(t *testing.T) {
	if Validation("x", "y").Retryable {
		t.Fatal("validation errors must not be retryable")
	}
	if !Transient("x", nil).Retryable {
		t.Fatal("transient errors must be retryable")
	}
	if Permanent("x", nil).Retryable {
		t.Fatal("permanent errors must not be retryable")
	}
}

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := NotFound("stream not found")
	wrapped := fmt.Errorf("get stream: %w", base)

	ae, ok := As(wrapped)
	if !ok {
		t.Fatal("expected As to find the wrapped apperr.Error")
	}
	if ae.Kind != KindNotFound {
		t.Fatalf("unexpected kind: %v", ae.Kind)
	}
}

func TestAsReturnsFalseForOpaqueError(t *testing.T) {
	if _, ok := As(errors.New("boom")); ok {
		t.Fatal("expected As to return false for a non-apperr error")
	}
}
