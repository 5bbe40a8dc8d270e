package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy parameterizes bounded retries with exponential backoff for remote
// calls. Classify decides whether an error is worth another attempt; a nil
// Classify retries everything.
type Policy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Classify    func(error) bool
}

// Do runs fn until it succeeds, the error is classified permanent, attempts
// run out, or ctx is done. The name is only used for logging.
func (p Policy) Do(ctx context.Context, name string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if p.Classify != nil && !p.Classify(err) {
			return backoff.Permanent(err)
		}
		zap.L().Warn("Retryable operation failed",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.MaxAttempts), ctx)
	return backoff.Retry(wrapped, policy)
}

// Forever retries fn indefinitely with exponential backoff, stopping only
// when fn succeeds or ctx is cancelled. Used for connection loops that must
// outlive transient upstream outages.
func Forever(ctx context.Context, name string, base time.Duration, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxElapsedTime = 0

	wrapped := func() error {
		err := fn()
		if err != nil {
			zap.L().Warn("Operation failed, will retry",
				zap.String("operation", name),
				zap.Error(err))
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(b, ctx))
}
