package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrNotFound, "no record")
	if !strings.Contains(err.Error(), string(ErrNotFound)) {
		t.Errorf("Code missing from message: %s", err.Error())
	}

	wrapped := Wrap(ErrDatabase, "query sales", errors.New("disk I/O error"))
	if !strings.Contains(wrapped.Error(), "disk I/O error") {
		t.Errorf("Cause missing from message: %s", wrapped.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(ErrInternal, "context", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is must reach the wrapped cause")
	}
}

func TestIsMatchesCodeThroughChain(t *testing.T) {
	inner := New(ErrStorageFull, "disk full")
	outer := fmt.Errorf("enqueue: %w", inner)

	if !Is(outer, ErrStorageFull) {
		t.Error("Is must find the code through fmt.Errorf wrapping")
	}
	if Is(outer, ErrNotFound) {
		t.Error("Is must not match a different code")
	}
	if Is(errors.New("plain"), ErrInternal) {
		t.Error("Is must be false for non-AppError chains")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrUnknownTable, "query: unknown table %q", "no_such")
	if !strings.Contains(err.Error(), `"no_such"`) {
		t.Errorf("Formatted message wrong: %s", err.Error())
	}
}
