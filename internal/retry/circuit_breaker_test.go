package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	rerr "nfcrelay/internal/errors"
)

func newTestBreaker(mock *clock.Mock, maxFailures, halfOpenMax int, onChange func(from, to State)) *CircuitBreaker {
	return NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:   maxFailures,
		ResetTimeout:  time.Second,
		HalfOpenMax:   halfOpenMax,
		OnStateChange: onChange,
		Clock:         mock,
	})
}

func fail() error { return fmt.Errorf("write: broken pipe") }

func TestCircuitBreaker_NormalOperation(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker(clock.NewMock(), 3, 1, nil)

	for i := 0; i < 3; i++ {
		cb.Execute(fail) //nolint:errcheck
	}

	if cb.CurrentState() != StateOpen {
		t.Errorf("expected open after 3 failures, got %s", cb.CurrentState())
	}
	if cb.Failures() != 3 {
		t.Errorf("expected 3 failures, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := newTestBreaker(clock.NewMock(), 1, 1, nil)
	cb.Execute(fail) //nolint:errcheck

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	if !rerr.Is(err, rerr.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn should not have been called when circuit is open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	mock := clock.NewMock()
	cb := newTestBreaker(mock, 1, 2, nil)

	cb.Execute(fail) //nolint:errcheck
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.CurrentState())
	}

	mock.Add(time.Second)

	// First success moves to half-open, but 2 required to close.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.CurrentState() != StateHalfOpen {
		t.Errorf("expected half-open after first success, got %s", cb.CurrentState())
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed after 2 successes, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_StaysOpenUntilTimeout(t *testing.T) {
	mock := clock.NewMock()
	cb := newTestBreaker(mock, 1, 1, nil)
	cb.Execute(fail) //nolint:errcheck

	mock.Add(999 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); !rerr.Is(err, rerr.ErrCircuitOpen) {
		t.Fatalf("expected still open, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	mock := clock.NewMock()
	cb := newTestBreaker(mock, 1, 2, nil)

	cb.Execute(fail) //nolint:errcheck
	mock.Add(time.Second)

	// Half-open probe fails → back to Open.
	cb.Execute(fail) //nolint:errcheck
	if cb.CurrentState() != StateOpen {
		t.Errorf("expected open after half-open failure, got %s", cb.CurrentState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(clock.NewMock(), 1, 1, nil)

	cb.Execute(fail) //nolint:errcheck
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.CurrentState())
	}

	cb.Reset()
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed after reset, got %s", cb.CurrentState())
	}
	if cb.Failures() != 0 {
		t.Errorf("expected 0 failures after reset, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_StateChange(t *testing.T) {
	mock := clock.NewMock()
	var transitions []string
	cb := newTestBreaker(mock, 1, 1, func(from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s→%s", from, to))
	})

	cb.Execute(fail) //nolint:errcheck
	mock.Add(time.Second)
	cb.Execute(func() error { return nil }) //nolint:errcheck

	want := []string{"closed→open", "open→half-open", "half-open→closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCircuitBreaker_NilConfig(t *testing.T) {
	cb := NewCircuitBreaker(nil)
	if cb.maxFailures != 5 {
		t.Errorf("expected default maxFailures=5, got %d", cb.maxFailures)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(clock.NewMock(), 3, 1, nil)

	cb.Execute(fail)                        //nolint:errcheck
	cb.Execute(fail)                        //nolint:errcheck
	cb.Execute(func() error { return nil }) //nolint:errcheck

	if cb.Failures() != 0 {
		t.Errorf("expected 0 failures after success, got %d", cb.Failures())
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %s", cb.CurrentState())
	}
}
