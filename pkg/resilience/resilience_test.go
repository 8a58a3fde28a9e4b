package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.OnError(errors.New("network"))
	cb.OnError(RateLimitError{Provider: "anthropic"})
	if !cb.Allow() {
		t.Fatalf("expected breaker closed below threshold")
	}
	cb.OnError(fmt.Errorf("wrapped: %w", RateLimitError{Provider: "anthropic"}))
	if cb.Allow() {
		t.Fatalf("expected breaker open at threshold")
	}
	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected breaker to allow after cooldown")
	}
	cb.OnSuccess()
	cb.OnError(RateLimitError{})
	if !cb.Allow() {
		t.Fatalf("expected failure count reset by success")
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	if got := (RateLimitError{Provider: "openai"}).Error(); got != "openai: rate limit" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRetryPolicyZeroRetriesRunsOnce(t *testing.T) {
	calls := 0
	err := NewRetryPolicy(0, time.Millisecond).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected single failing attempt, got calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicySucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := NewRetryPolicy(2, time.Millisecond).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second attempt, got calls=%d err=%v", calls, err)
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := NewRetryPolicy(5, time.Hour).Do(ctx, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected cancel to stop retries, got calls=%d err=%v", calls, err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		"":                              0,
		"3":                             3 * time.Second,
		"0.5":                           500 * time.Millisecond,
		"-1":                            0,
		"soon":                          0,
		"Mon, 01 Jan 2024 12:00:10 GMT": 10 * time.Second,
		"Mon, 01 Jan 2024 11:00:00 GMT": 0,
	}
	for in, want := range cases {
		if got := ParseRetryAfter(in, now); got != want {
			t.Fatalf("ParseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
	if wait, ok := RetryAfter(fmt.Errorf("wrapped: %w", RateLimitError{RetryAfter: time.Second})); !ok || wait != time.Second {
		t.Fatalf("expected wrapped retry-after, got %v %v", wait, ok)
	}
	if _, ok := RetryAfter(errors.New("plain")); ok {
		t.Fatalf("expected no retry-after on plain error")
	}
}
