// Package retry drives an operation through a bounded number of attempts,
// sleeping between them according to a backoff sequence.
package retry

import (
	"context"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	MaxRetries     int             // retries after the initial attempt
	Backoff        []time.Duration // delay before retry i is Backoff[min(i, len-1)]
	RetryOnStatus  []int           // HTTP statuses treated as retryable
	RetryOnTimeout bool            // whether transport timeouts are retried
}

// DefaultPolicy returns the policy used when a definition omits one.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     0,
		Backoff:        []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		RetryOnStatus:  []int{500, 502, 503, 504},
		RetryOnTimeout: true,
	}
}

// Attempts is the total number of attempts including the first.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay returns the wait before retry i (0-indexed). The last backoff
// entry repeats once the sequence is exhausted.
func (p Policy) Delay(i int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

// RetryableStatus reports whether status is in RetryOnStatus.
func (p Policy) RetryableStatus(status int) bool {
	for _, s := range p.RetryOnStatus {
		if s == status {
			return true
		}
	}
	return false
}

// Verdict classifies the outcome of one attempt.
type Verdict int

const (
	Success Verdict = iota
	Retryable
	Terminal
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one attempt. Value may be set for any
// verdict, e.g. a response whose status is retryable.
type Outcome[T any] struct {
	Verdict Verdict
	Value   T
	Err     error
	Reason  string
}

// Succeed builds a Success outcome.
func Succeed[T any](v T) Outcome[T] {
	return Outcome[T]{Verdict: Success, Value: v}
}

// Again builds a Retryable outcome.
func Again[T any](v T, err error, reason string) Outcome[T] {
	return Outcome[T]{Verdict: Retryable, Value: v, Err: err, Reason: reason}
}

// Stop builds a Terminal outcome.
func Stop[T any](v T, err error, reason string) Outcome[T] {
	return Outcome[T]{Verdict: Terminal, Value: v, Err: err, Reason: reason}
}

// Result is the final outcome together with the number of retries that
// were performed before it.
type Result[T any] struct {
	Outcome[T]
	Retries int
}

// Op performs attempt number attempt (0-indexed).
type Op[T any] func(ctx context.Context, attempt int) Outcome[T]

// Option customizes Do.
type Option func(*settings)

type settings struct {
	onRetry func(attempt int, reason string, wait time.Duration)
	sleep   func(ctx context.Context, d time.Duration) error
}

// OnRetry registers a hook invoked before each backoff sleep.
func OnRetry(fn func(attempt int, reason string, wait time.Duration)) Option {
	return func(s *settings) { s.onRetry = fn }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *settings) { s.sleep = fn }
}

// Do runs op until it succeeds, returns a terminal outcome, or attempts are
// exhausted. A retryable outcome on the final attempt is returned as is.
// Context cancellation during a backoff sleep ends the loop with a terminal
// outcome carrying the last value.
func Do[T any](ctx context.Context, p Policy, op Op[T], opts ...Option) Result[T] {
	s := settings{sleep: sleepCtx}
	for _, opt := range opts {
		opt(&s)
	}

	attempts := p.Attempts()
	var out Outcome[T]
	for attempt := 0; attempt < attempts; attempt++ {
		out = op(ctx, attempt)
		if out.Verdict != Retryable || attempt == attempts-1 {
			return Result[T]{Outcome: out, Retries: attempt}
		}

		wait := p.Delay(attempt)
		if s.onRetry != nil {
			s.onRetry(attempt+1, out.Reason, wait)
		}
		if err := s.sleep(ctx, wait); err != nil {
			return Result[T]{Outcome: Stop(out.Value, err, "cancelled"), Retries: attempt}
		}
	}
	return Result[T]{Outcome: out, Retries: attempts - 1}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
