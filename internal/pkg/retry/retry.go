// Package retry wraps bounded exponential backoff around operations that can
// lose an optimistic race or hit a transient dependency failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{
	MaxAttempts:     4,
	InitialInterval: 25 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 || p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval * 20
	}
	return p
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Exhaustion is reported as ErrTemporarilyUnavailable.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	attempts := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if apperr.IsRetryable(err) {
			log.Debug().Err(err).Str("operation", name).Int("attempt", attempts).Msg("retrying after transient failure")
			return v, err
		}
		return v, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
	)
	if err == nil {
		return out, nil
	}

	if apperr.IsRetryable(err) {
		if !errors.Is(err, apperr.ErrTemporarilyUnavailable) {
			err = fmt.Errorf("%w: %s gave up after %d attempts: %v", apperr.ErrTemporarilyUnavailable, name, attempts, err)
		}
		log.Warn().Err(err).Str("operation", name).Int("attempts", attempts).Msg("retry budget exhausted")
	}
	return out, err
}
