package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy bounds a retried operation: total attempts and the base delay for
// exponential backoff between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultGatewayPolicy matches the bounded-retry contract for gateway calls.
var DefaultGatewayPolicy = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}

// Transient marks err as retryable. Errors not wrapped this way abort the
// retry loop immediately.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return retry.RetryableError(err)
}

// Do runs fn under the policy, backing off exponentially between attempts.
// fn decides retryability by wrapping transient failures with Transient.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(delay))
	return retry.Do(ctx, backoff, fn)
}
