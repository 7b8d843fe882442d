// Package retry runs remote calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ragterm/internal/domain"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// Initial is the delay before the second attempt.
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// AttemptTimeout bounds each individual attempt. Zero means no bound.
	AttemptTimeout time.Duration
	// RateLimitWait is used for rate-limited failures that carry no Retry-After hint.
	RateLimitWait time.Duration
}

// DefaultPolicy returns the policy used by remote clients.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Initial:        200 * time.Millisecond,
		Max:            5 * time.Second,
		Multiplier:     2.0,
		AttemptTimeout: 120 * time.Second,
		RateLimitWait:  2 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.RateLimitWait <= 0 {
		p.RateLimitWait = d.RateLimitWait
	}
	return p
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Only errors for which domain.IsRetryable holds are
// retried. A cancelled ctx ends the loop with a cancellation error.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var zero T
	delay := p.Initial

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, domain.Cancelled(op, err)
		}

		result, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, domain.Cancelled(op, ctxErr)
		}
		if !domain.IsRetryable(err) || attempt >= p.MaxAttempts {
			return zero, err
		}

		wait := delay
		if ra := domain.RetryAfterOf(err); ra > 0 {
			wait = ra
		} else if isRateLimited(err) {
			wait = p.RateLimitWait
		}
		slog.Debug("retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, domain.Cancelled(op, ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.Max {
			delay = p.Max
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

func isRateLimited(err error) bool {
	var e *domain.Error
	return errors.As(err, &e) && e.Reason == domain.ReasonRateLimited
}
