package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errRemote = errors.New("remote call failed")

func failing(_ context.Context) error { return errRemote }
func succeeding(_ context.Context) error { return nil }

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	b := New("test", Config{
		Threshold:        3,
		ResetTimeout:     time.Minute,
		HalfOpenAttempts: 2,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failing); !errors.Is(err, errRemote) {
			t.Fatalf("call %d: expected remote error, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	// Rejected immediately without invoking the wrapped call.
	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Fatal("wrapped call must not run while open")
	}
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	*now = now.Add(61 * time.Second)

	// Next call is attempted; state moves to half-open before it runs.
	var during State
	err := b.Execute(ctx, func(context.Context) error {
		during = b.State()
		return nil
	})
	if err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if during != StateHalfOpen {
		t.Fatalf("expected half-open during trial, got %s", during)
	}

	// Second consecutive success closes the circuit.
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("second trial failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after %d successes, got %s", 2, b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	*now = now.Add(2 * time.Minute)

	if err := b.Execute(ctx, failing); !errors.Is(err, errRemote) {
		t.Fatalf("expected trial to run and fail, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected reopen after half-open failure, got %s", b.State())
	}

	// Still rejected before another timeout window passes.
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestClosedSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two more failures do not reach the threshold of three.
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New("test", Config{
		Threshold:        1,
		ResetTimeout:     time.Minute,
		HalfOpenAttempts: 1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	now = now.Add(2 * time.Minute)
	_ = b.Execute(ctx, succeeding)

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, transitions)
		}
	}
}
