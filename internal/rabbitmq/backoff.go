package rabbitmq

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy is the caller-side retry policy for publishing. The Publisher
// itself never retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	backoff := time.Duration(float64(policy.InitialBackoff) * math.Pow(policy.BackoffFactor, float64(attempt)))
	if backoff > policy.MaxBackoff {
		backoff = policy.MaxBackoff
	}

	if policy.Jitter && backoff > 0 {
		if maxJitter := backoff / 4; maxJitter > 0 {
			backoff += time.Duration(rand.Int63n(int64(maxJitter)))
			if backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		}
	}
	return backoff
}

// PublishWithRetry calls publish until it succeeds, returns an error that
// IsPublishRetryable rejects, or policy.MaxAttempts is reached.
func PublishWithRetry(ctx context.Context, policy RetryPolicy, logger *logrus.Logger, publish func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for i := 0; i < policy.MaxAttempts; i++ {
		err := publish(ctx)
		if err == nil {
			return nil
		}
		if !IsPublishRetryable(err) {
			return err
		}

		lastErr = err
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"attempt":      i + 1,
				"max_attempts": policy.MaxAttempts,
				"error":        err.Error(),
			}).Warn("Publish failed")
		}

		if i < policy.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(policy, i)):
			}
		}
	}
	return lastErr
}
