package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rkozlov/garmin-headless-auth/internal/connect"
	"github.com/rkozlov/garmin-headless-auth/internal/mfa"
)

// RetryPolicy configures AuthenticateWithRetry. MaxAttempts counts the
// first attempt; 1 means no retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// AuthenticateWithRetry runs authentication cycles under exponential
// backoff until one succeeds or the policy is exhausted. Conditions that
// a retry cannot fix are permanent: missing credentials, an exhausted MFA
// chain, and upstream throttling (retrying into a rate limit extends it).
func (o *Orchestrator) AuthenticateWithRetry(ctx context.Context, policy RetryPolicy) (*connect.Session, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}

	attempt := 0
	operation := func() (*connect.Session, error) {
		attempt++
		sess, err := o.Authenticate(ctx)
		if err == nil {
			return sess, nil
		}

		if errors.Is(err, ErrCredentialsMissing) ||
			errors.Is(err, mfa.ErrUnavailable) ||
			connect.IsRateLimited(err) {
			return nil, backoff.Permanent(err)
		}

		slog.Warn("authentication cycle failed, will retry",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"error", err,
		)
		return nil, err
	}

	return backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(policy.MaxAttempts-1)), ctx))
}
