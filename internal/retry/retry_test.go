package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testErr is a classifiable error for exercising the executor.
type testErr struct {
	msg       string
	retryable bool
}

func (e *testErr) Error() string   { return e.msg }
func (e *testErr) Retryable() bool { return e.retryable }

func testExecutor(p Policy) *Executor {
	return NewExecutor(p, zerolog.Nop())
}

// fastPolicy keeps test runs short.
func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Backoff:      2.0,
	}
}

// TestDo_SucceedsFirstAttempt verifies no retries happen on success.
func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := testExecutor(fastPolicy(3)).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestDo_RetriesTransientThenSucceeds verifies a transient failure is retried
// and the eventual success is reported.
func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := testExecutor(fastPolicy(3)).Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &testErr{msg: "timeout", retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

// TestDo_FatalErrorNoRetry verifies fatal errors are returned immediately.
func TestDo_FatalErrorNoRetry(t *testing.T) {
	calls := 0
	fatal := &testErr{msg: "invalid token", retryable: false}
	err := testExecutor(fastPolicy(3)).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Do() = %v, want the fatal error back", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on fatal)", calls)
	}
}

// TestDo_ExhaustsBudget verifies the attempt budget and the wrapped error.
func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	underlying := &testErr{msg: "503", retryable: true}
	err := testExecutor(fastPolicy(3)).Do(context.Background(), "replace", func(context.Context) error {
		calls++
		return underlying
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var ree *RetriesExhaustedError
	if !errors.As(err, &ree) {
		t.Fatalf("Do() = %T, want RetriesExhaustedError", err)
	}
	if ree.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", ree.Attempts)
	}
	if !errors.Is(err, underlying) {
		t.Error("RetriesExhaustedError should wrap the last error")
	}
	if !IsExhausted(err) {
		t.Error("IsExhausted should report true for an exhausted budget")
	}
	if IsExhausted(underlying) {
		t.Error("IsExhausted should report false for the bare underlying error")
	}
}

// TestDo_ContextCancelBetweenAttempts verifies cancellation interrupts the
// backoff wait instead of running the full chain.
func TestDo_ContextCancelBetweenAttempts(t *testing.T) {
	policy := Policy{
		MaxAttempts:  5,
		InitialDelay: time.Hour, // would hang without cancellation
		MaxDelay:     time.Hour,
		Backoff:      2.0,
	}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- testExecutor(policy).Do(ctx, "op", func(context.Context) error {
			calls++
			return &testErr{msg: "timeout", retryable: true}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestPolicy_Delay verifies the exponential schedule 1s, 2s, 4s with a cap.
func TestPolicy_Delay(t *testing.T) {
	p := Policy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Backoff:      2.0,
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

// TestDo_OnRetryCallback verifies the instrumentation hook fires per retry.
func TestDo_OnRetryCallback(t *testing.T) {
	exec := testExecutor(fastPolicy(3))
	var attempts []int
	exec.OnRetry = func(op string, attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = exec.Do(context.Background(), "op", func(context.Context) error {
		return &testErr{msg: "429", retryable: true}
	})

	if len(attempts) != 2 {
		t.Fatalf("OnRetry fired %d times, want 2 (no callback after final attempt)", len(attempts))
	}
}

// TestIsRetryable covers classification defaults.
func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors should be fatal")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation should not be retryable")
	}
	if !IsRetryable(&testErr{retryable: true}) {
		t.Error("classified retryable error should be retryable")
	}
}
