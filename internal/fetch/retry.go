package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"PlumFinder/internal/source"
)

// Outcome is the typed result of one attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "terminal"
	}
}

// Classify maps an attempt error onto an outcome. Network errors, timeouts,
// 5xx and 429 are retryable; other statuses, malformed payloads and robots
// disallows are terminal.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, source.ErrDisallowed) || errors.Is(err, source.ErrMalformed) {
		return OutcomeTerminal
	}

	var httpErr *source.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Retryable() {
			return OutcomeRetryable
		}
		return OutcomeTerminal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeRetryable
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeTerminal
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return OutcomeRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeRetryable
	}
	return OutcomeTerminal
}

// RetryPolicy bounds the attempts of one request.
type RetryPolicy struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Timeout applies to every attempt separately; zero means none.
	Timeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// RetryResult reports how a bounded retry loop ended.
type RetryResult struct {
	Attempts int
	Outcome  Outcome
	// Err is the last attempt error; nil on success.
	Err error
}

// Exhausted reports whether the loop gave up on a retryable error.
func (r RetryResult) Exhausted() bool {
	return r.Outcome == OutcomeRetryable
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryState is the explicit loop state: attempts made and the next delay.
type retryState struct {
	policy    RetryPolicy
	attempt   int
	nextDelay time.Duration
	backoff   *backoff.ExponentialBackOff
}

func newRetryState(policy RetryPolicy) *retryState {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.3
	b.MaxElapsedTime = 0
	b.Reset()
	return &retryState{policy: policy, backoff: b}
}

// advance records a failed attempt and decides whether another one follows.
func (s *retryState) advance(err error) bool {
	if s.attempt >= s.policy.MaxAttempts {
		return false
	}
	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop || delay > s.policy.MaxDelay {
		delay = s.policy.MaxDelay
	}
	var httpErr *source.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > delay {
		delay = httpErr.RetryAfter
	}
	s.nextDelay = delay
	return true
}

// Retry runs fn until it succeeds, fails terminally, the attempt budget is
// spent, or ctx is done. Each attempt gets its own timeout.
func Retry(ctx context.Context, policy RetryPolicy, sleep SleepFunc, fn func(ctx context.Context) error) RetryResult {
	policy = policy.withDefaults()
	if sleep == nil {
		sleep = sleepContext
	}
	state := newRetryState(policy)

	for {
		state.attempt++
		err := runAttempt(ctx, policy.Timeout, fn)

		if ctx.Err() != nil {
			return RetryResult{Attempts: state.attempt, Outcome: OutcomeTerminal, Err: ctx.Err()}
		}

		outcome := Classify(err)
		if outcome != OutcomeRetryable {
			return RetryResult{Attempts: state.attempt, Outcome: outcome, Err: err}
		}
		if !state.advance(err) {
			return RetryResult{Attempts: state.attempt, Outcome: OutcomeRetryable, Err: err}
		}
		if sleepErr := sleep(ctx, state.nextDelay); sleepErr != nil {
			return RetryResult{Attempts: state.attempt, Outcome: OutcomeTerminal, Err: sleepErr}
		}
	}
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
