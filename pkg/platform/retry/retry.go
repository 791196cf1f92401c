// Package retry retries storage operations that failed with a transient
// fact (sentinel.ErrUnavailable) using bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"badal/pkg/platform/sentinel"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used by the capacity allocator and certificate issuer.
var DefaultPolicy = Policy{
	MaxAttempts:     4,
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     250 * time.Millisecond,
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable)
}

// Do runs fn until it succeeds, returns a non-transient error, the attempt
// budget is spent, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, attempts-1), ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
