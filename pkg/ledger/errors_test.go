package ledger

import (
	"errors"
	"fmt"
	"testing"

	"accounts-ledger/pkg/account"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"ledger error", newError(KindForbidden, "deposit", nil, "no"), KindForbidden},
		{"wrapped ledger error", fmt.Errorf("handler: %w", newError(KindNotFound, "get", account.ErrNotFound, "missing")), KindNotFound},
		{"bare sentinel", ErrDependency, KindDependency},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := newError(KindInternal, "withdrawal", fmt.Errorf("%w: %w", ErrInconsistent, account.ErrTimeout), "failed")

	for _, target := range []error{ErrInternal, ErrInconsistent, account.ErrTimeout} {
		if !errors.Is(err, target) {
			t.Errorf("Expected errors.Is(err, %v)", target)
		}
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("Did not expect ErrNotFound")
	}
	if MessageOf(err) != "failed" || MessageOf(errors.New("x")) != "internal error" {
		t.Error("Unexpected MessageOf result")
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateAborted, StateInconsistent} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateValidating, StateFetchingAccounts, StateCreditingMaster, StateDebitingSource} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
