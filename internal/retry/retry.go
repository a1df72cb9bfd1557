package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/andresuchdata/dss-loader/internal/domain"
)

// Policy bounds how often and how patiently a call is repeated.
type Policy struct {
	Attempts    int           // total attempts, including the first
	Initial     time.Duration // first backoff interval
	Max         time.Duration // cap on a single backoff interval
	CallTimeout time.Duration // per-attempt timeout; zero disables
}

// DefaultPolicy returns the loader defaults.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:    3,
		Initial:     500 * time.Millisecond,
		Max:         10 * time.Second,
		CallTimeout: 60 * time.Second,
	}
}

// Notify is called before each backoff wait with the failed attempt number.
type Notify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a non-transient error, or the policy
// is exhausted. Only errors classified as transient are retried. A per-attempt
// timeout that fires while ctx is still live counts as transient.
//
// When the budget is spent the last transient error is returned unchanged so
// the caller can classify it.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify Notify) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		eb.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		eb.MaxInterval = p.Max
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	var (
		attempt int
		lastErr error
	)
	operation := func() error {
		attempt++
		err := call(ctx, p.CallTimeout, op)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempt, wait)
		}
	})
	if err != nil && lastErr != nil && errors.Is(err, ctx.Err()) {
		// Cancelled while waiting; surface what the call actually saw.
		return lastErr
	}
	return err
}

func call(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !domain.IsTransient(err) {
		if _, classified := domain.KindOf(err); !classified {
			return domain.Wrap(domain.KindTransient, err, "call timed out after %s", timeout)
		}
	}
	return err
}

// Transient marks err as retryable.
func Transient(err error, format string, args ...any) error {
	return domain.Wrap(domain.KindTransient, err, format, args...)
}
