package shared

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds an exponential backoff retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultDBRetry is used for mutating store calls that hit SQLITE_BUSY.
var DefaultDBRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}

// Delay returns the wait before the attempt following attempt (0-based):
// BaseDelay, 2*BaseDelay, 4*BaseDelay, ...
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<attempt)
}

// Retry runs fn until it succeeds, returns an error retryable rejects, or the
// attempts are exhausted. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, op string, retryable func(error) bool, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			return err
		}

		delay := p.Delay(i)
		slog.Debug("Retrying after transient failure",
			"op", op,
			"attempt", i+1,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
	}
	return err
}
