package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds repeated completion attempts: at most MaxAttempts calls,
// exponential delay starting at BaseDelay. Errors wrapped with
// backoff.Permanent stop the loop immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewRetryPolicy creates a RetryPolicy, falling back to sane bounds when the
// configuration is zero or negative.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Do runs op until it succeeds, returns a permanent error, the context is
// canceled, or MaxAttempts calls have been made.
func (p *RetryPolicy) Do(ctx context.Context, op func() (string, error)) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	var result string
	err := backoff.Retry(func() error {
		var opErr error
		result, opErr = op()
		return opErr
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx))
	if err != nil {
		return "", err
	}
	return result, nil
}
