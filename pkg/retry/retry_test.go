package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), FixedDelay(3, time.Millisecond), func() error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoExactAttemptCount(t *testing.T) {
	calls := 0
	failure := errors.New("connection refused")
	err := Do(context.Background(), FixedDelay(4, time.Millisecond), func() error {
		calls++
		return failure
	}, nil)
	if err == nil {
		t.Fatal("expected terminal error after exhaustion")
	}
	// Exactly MaxAttempts calls, never MaxAttempts+1
	if calls != 4 {
		t.Errorf("expected 4 attempts, got %d", calls)
	}
	if !errors.Is(err, failure) {
		t.Errorf("terminal error should wrap the last attempt error, got %v", err)
	}
}

func TestDoRecoversMidway(t *testing.T) {
	calls := 0
	attempts := []int{}
	err := Do(context.Background(), FixedDelay(5, time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return errors.New("still booting")
		}
		return nil
	}, func(attempt int, err error) {
		attempts = append(attempts, attempt)
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(attempts) != 2 {
		t.Errorf("expected onAttempt for the 2 failures, got %v", attempts)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, FixedDelay(3, time.Second), func() error {
		return errors.New("never reached after cancel")
	}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoRejectsZeroAttempts(t *testing.T) {
	err := Do(context.Background(), Config{MaxAttempts: 0}, func() error { return nil }, nil)
	if err == nil {
		t.Fatal("expected error for zero attempts")
	}
}
