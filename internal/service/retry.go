package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperr "lodging/internal/errors"
	"lodging/internal/repository"
)

// BackOffPolicy builds a fresh backoff for one retried storage call.
type BackOffPolicy func() backoff.BackOff

func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second
	return backoff.WithMaxRetries(b, 4)
}

// withRetry runs op, retrying only transient storage errors.
func withRetry[T any](ctx context.Context, policy BackOffPolicy, op func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultBackOff
	}
	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil && !repository.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(policy(), ctx))
}

// internal hides a storage failure behind the opaque internal error.
func internal(op string, err error) error {
	return fmt.Errorf("%s: %w (%v)", op, apperr.ErrInternal, err)
}
