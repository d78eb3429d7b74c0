package health

import (
	"context"
	"errors"
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrServiceUnavailable is returned when a breaker short-circuits a call. No
// network attempt is made in that case.
var ErrServiceUnavailable = errors.New("service unavailable: circuit breaker open")

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 2 * time.Minute
)

// Breaker gates calls to one dependent service. One breaker lives per
// monitored service for the process lifetime.
type Breaker struct {
	mu sync.Mutex

	service   string
	state     BreakerState
	threshold int
	recovery  time.Duration

	failureCount     int
	lastFailure      time.Time
	nextRetry        time.Time
	halfOpenInFlight bool

	now func() time.Time
}

type BreakerOption func(*Breaker)

// WithBreakerClock overrides the breaker's time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBreaker(service string, threshold int, recovery time.Duration, opts ...BreakerOption) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	b := &Breaker{
		service:   service,
		state:     BreakerClosed,
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed right now. While Open it returns
// ErrServiceUnavailable until the recovery timeout elapses; the first Allow
// after that transitions to HalfOpen and admits exactly one trial call.
// Callers that pass Allow must later report the outcome through
// ReportSuccess or ReportFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observeRecovery()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.halfOpenInFlight {
			return ErrServiceUnavailable
		}
		b.halfOpenInFlight = true
		return nil
	default:
		return ErrServiceUnavailable
	}
}

// ReportSuccess records a successful call outcome.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		logger.Info("trial call succeeded, breaker closed", "service", b.service)
	}
	b.state = BreakerClosed
	b.failureCount = 0
	b.halfOpenInFlight = false
}

// ReportFailure records a failed call outcome.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailure = now

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.nextRetry = now.Add(b.recovery)
		b.halfOpenInFlight = false
		logger.Warn("trial call failed, breaker reopened", "service", b.service, "next_retry", b.nextRetry)
		return
	}

	b.failureCount++
	if b.state == BreakerClosed && b.failureCount >= b.threshold {
		b.state = BreakerOpen
		b.nextRetry = now.Add(b.recovery)
		logger.Warn("breaker opened", "service", b.service, "failures", b.failureCount, "next_retry", b.nextRetry)
	}
}

// Do runs fn under breaker protection: short-circuits when open, otherwise
// reports fn's outcome back to the breaker.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		b.ReportFailure()
		return err
	}

	b.ReportSuccess()
	return nil
}

// State returns the current breaker state, applying the Open -> HalfOpen
// transition when the recovery timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observeRecovery()
	return b.state
}

// ForceOpen trips the breaker immediately. Used by operators and tests.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerOpen
	b.nextRetry = b.now().Add(b.recovery)
}

// BreakerStatus is a point-in-time breaker snapshot.
type BreakerStatus struct {
	Service      string       `json:"service"`
	State        BreakerState `json:"state"`
	FailureCount int          `json:"failure_count"`
	LastFailure  time.Time    `json:"last_failure,omitempty"`
	NextRetry    time.Time    `json:"next_retry,omitempty"`
}

func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observeRecovery()
	return BreakerStatus{
		Service:      b.service,
		State:        b.state,
		FailureCount: b.failureCount,
		LastFailure:  b.lastFailure,
		NextRetry:    b.nextRetry,
	}
}

// observeRecovery must be called with the lock held.
func (b *Breaker) observeRecovery() {
	if b.state == BreakerOpen && !b.now().Before(b.nextRetry) {
		b.state = BreakerHalfOpen
		b.halfOpenInFlight = false
		logger.Info("recovery timeout elapsed, breaker half-open", "service", b.service)
	}
}
