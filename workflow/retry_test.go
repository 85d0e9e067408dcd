package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Second, Sleep: func(time.Duration) {
		t.Fatal("no sleep expected on first-attempt success")
	}}

	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryPolicy_ThirdAttemptSucceeds(t *testing.T) {
	calls := 0
	var slept []time.Duration
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}

	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	// base * 2^(attempt-1): 100ms, 200ms
	if len(slept) != 2 || slept[0] != 100*time.Millisecond || slept[1] != 200*time.Millisecond {
		t.Fatalf("unexpected backoff schedule: %v", slept)
	}
}

func TestRetryPolicy_Exhaustion(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	p := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, Sleep: func(time.Duration) {}}

	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly maxAttempts calls, got %d", calls)
	}
}

func TestRetryPolicy_NonRetryableStopsEarly(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	p := RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:       func(time.Duration) {},
	}

	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call for non-retryable error, got %d", calls)
	}
}

func TestRetryPolicy_BackoffCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseBackoff: time.Second, MaxBackoff: 4 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second},
		{8, 4 * time.Second},
	}
	for _, c := range cases {
		if got := p.Backoff(c.attempt); got != c.want {
			t.Fatalf("attempt=%d expected %s, got %s", c.attempt, c.want, got)
		}
	}
}

func TestRetryPolicy_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, Sleep: func(time.Duration) {}}
	err := p.Run(ctx, func(context.Context) error {
		t.Fatal("fn must not run on canceled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
