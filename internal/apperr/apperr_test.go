package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("approve: %w", TaskNotFound(7))
	if got := KindOf(err); got != KindNotFound {
		t.Errorf("KindOf = %q, want %q", got, KindNotFound)
	}
}

func TestKindOfInfrastructure(t *testing.T) {
	if got := KindOf(errors.New("disk full")); got != "" {
		t.Errorf("KindOf = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestInsufficientFundsDetails(t *testing.T) {
	e := InsufficientFunds(5, 4)
	if e.Details["required"] != 5 || e.Details["available"] != 4 {
		t.Errorf("details = %v", e.Details)
	}
	if e.Error() != "insufficient coins: required 5, available 4" {
		t.Errorf("message = %q", e.Error())
	}
}

func TestIsMatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", DependentNotFound(3))
	if !errors.Is(err, DependentNotFound(99)) {
		t.Error("expected errors.Is to match on kind and code")
	}
	if errors.Is(err, TaskNotFound(3)) {
		t.Error("task_not_found should not match dependent_not_found")
	}
}

func TestAs(t *testing.T) {
	e, ok := As(fmt.Errorf("x: %w", AlreadySubmitted(2)))
	if !ok {
		t.Fatal("expected domain error")
	}
	if e.Code != "task_already_submitted" {
		t.Errorf("code = %q", e.Code)
	}
}
