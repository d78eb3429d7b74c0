package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	breaker := NewBreaker("llm", 3, time.Minute)

	for range 2 {
		breaker.ReportFailure()
		if state := breaker.State(); state != BreakerClosed {
			t.Fatalf("expected closed below threshold, got %s", state)
		}
	}
}

func TestBreakerOpensAtExactlyThreshold(t *testing.T) {
	breaker := NewBreaker("llm", 3, time.Minute)

	breaker.ReportFailure()
	breaker.ReportFailure()
	breaker.ReportFailure()

	if state := breaker.State(); state != BreakerOpen {
		t.Fatalf("expected open at threshold, got %s", state)
	}
}

func TestOpenBreakerShortCircuitsWithoutCalling(t *testing.T) {
	current := time.Now()
	breaker := NewBreaker("llm", 1, time.Minute, WithBreakerClock(func() time.Time { return current }))
	breaker.ReportFailure()

	called := false
	err := breaker.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if called {
		t.Fatalf("expected no call attempt while open")
	}
}

func TestHalfOpenTrialSuccessClosesAndResetsCounter(t *testing.T) {
	current := time.Now()
	breaker := NewBreaker("llm", 2, time.Minute, WithBreakerClock(func() time.Time { return current }))

	breaker.ReportFailure()
	breaker.ReportFailure()
	if state := breaker.State(); state != BreakerOpen {
		t.Fatalf("expected open, got %s", state)
	}

	current = current.Add(61 * time.Second)
	if state := breaker.State(); state != BreakerHalfOpen {
		t.Fatalf("expected half-open after recovery timeout, got %s", state)
	}

	if err := breaker.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("expected trial call to proceed, got %v", err)
	}

	status := breaker.Status()
	if status.State != BreakerClosed {
		t.Fatalf("expected closed after successful trial, got %s", status.State)
	}
	if status.FailureCount != 0 {
		t.Fatalf("expected failure count reset, got %d", status.FailureCount)
	}
}

func TestHalfOpenTrialFailureReopensAndReschedules(t *testing.T) {
	current := time.Now()
	breaker := NewBreaker("llm", 1, time.Minute, WithBreakerClock(func() time.Time { return current }))

	breaker.ReportFailure()
	firstRetry := breaker.Status().NextRetry

	current = current.Add(61 * time.Second)
	err := breaker.Do(context.Background(), func(context.Context) error {
		return errors.New("still down")
	})
	if err == nil || errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected the trial's own error, got %v", err)
	}

	status := breaker.Status()
	if status.State != BreakerOpen {
		t.Fatalf("expected reopened after failed trial, got %s", status.State)
	}
	if !status.NextRetry.After(firstRetry) {
		t.Fatalf("expected next retry rescheduled, got %v (was %v)", status.NextRetry, firstRetry)
	}
}

func TestHalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	current := time.Now()
	breaker := NewBreaker("llm", 1, time.Minute, WithBreakerClock(func() time.Time { return current }))
	breaker.ReportFailure()

	current = current.Add(61 * time.Second)

	if err := breaker.Allow(); err != nil {
		t.Fatalf("expected first trial admitted, got %v", err)
	}
	if err := breaker.Allow(); !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected second trial rejected while first in flight, got %v", err)
	}
}
