package cluster

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the exponential backoff used by SendWithRetry.
type RetryPolicy struct {
	Attempts int           // total attempts, including the first
	Initial  time.Duration // delay after the first failure
	Max      time.Duration // cap on a single delay
}

// DefaultRetryPolicy is used for worker-to-master traffic.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 8,
	Initial:  20 * time.Millisecond,
	Max:      time.Second,
}

// SendWithRetry sends payload, retrying with exponential backoff while the
// failure is transient (reset, broken pipe). A refused connection is returned
// immediately: the peer is gone, not flaky.
func SendWithRetry(ctx context.Context, addr Address, payload []byte, policy RetryPolicy) error {
	return Retry(ctx, policy, func() error {
		return Send(ctx, addr, payload)
	})
}

// Retry calls send until it succeeds, fails with a non-transient error or the
// policy's attempts run out.
func Retry(ctx context.Context, policy RetryPolicy, send func() error) error {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := policy.Initial
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = send()
		if lastErr == nil || IsRefused(lastErr) || !IsTransient(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if policy.Max > 0 && delay > policy.Max {
			delay = policy.Max
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}
