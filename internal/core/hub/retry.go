package hub

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zeusync/hubsync/internal/core/observability/log"
)

// RetryPolicy bounds how often a single idempotent request is repeated after
// a temporary transport failure.
type RetryPolicy struct {
	MaxRetries      uint64        `yaml:"max_retries" toml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" toml:"max_interval"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

// Retry runs fn until it succeeds, fails with a non-temporary error, the
// policy is exhausted or ctx is done.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger log.Log, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(Wrap(Cancelled, ctx.Err()))
		}
		var he *Error
		if errors.As(err, &he) && he.IsTemporary() {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		if logger != nil {
			logger.Warn("request failed, retrying",
				log.String("operation", op),
				log.Duration("backoff", next),
				log.Error(err))
		}
	}

	return backoff.RetryNotifyWithData(operation, policy.backOff(ctx), notify)
}

// RetryDo is Retry for calls without a result.
func RetryDo(ctx context.Context, policy RetryPolicy, logger log.Log, op string, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, policy, logger, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
