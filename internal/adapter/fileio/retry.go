package fileio

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a file operation is retried while the file is
// locked.
type RetryPolicy struct {
	Retries int
	Initial time.Duration
	Max     time.Duration
}

// Retrier runs file operations under a RetryPolicy. Only lock failures are
// retried; not-found and permission errors fail immediately.
type Retrier struct {
	policy  RetryPolicy
	log     *slog.Logger
	onRetry func(op string)
}

// NewRetrier creates a Retrier. onRetry, when not nil, is called with the
// operation name before each retry.
func NewRetrier(policy RetryPolicy, log *slog.Logger, onRetry func(op string)) *Retrier {
	return &Retrier{policy: policy, log: log, onRetry: onRetry}
}

// Do runs fn until it succeeds, fails with a non-lock error, the retries are
// used up or ctx is done. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.Initial
	eb.MaxInterval = r.policy.Max
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if r.policy.Retries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(r.policy.Retries))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !IsLocked(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if r.onRetry != nil {
			r.onRetry(op)
		}
		r.log.WarnContext(ctx, "file locked, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	return backoff.RetryNotify(operation, b, notify)
}
