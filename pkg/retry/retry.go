// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop. Delay before attempt n (n >= 2) is
// BaseDelay * Factor^(n-2), capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

// Default is three attempts starting at 250ms and doubling.
var Default = Policy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, Factor: 2, MaxDelay: 5 * time.Second}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = Default.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay * time.Duration(1<<uint(min(p.MaxAttempts, 16)))
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Factor
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	return b
}

// Do calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out, or ctx is done. The last error is returned unwrapped.
// A nil retryable retries every error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, retryable func(error) bool) error {
	p = p.normalized()
	op := func() (struct{}, error) {
		if err := fn(ctx); err != nil {
			if retryable != nil && !retryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	)
	return err
}
