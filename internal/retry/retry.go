// Package retry implements the network retry policy shared by every
// outbound HTTP call: up to 5 attempts, exponential backoff from 500ms
// capped at 8s, full jitter. Retries apply only to 5xx responses, connect
// failures, and read timeouts; everything else is permanent.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flakeforge/push/internal/output"
)

const (
	maxAttempts     = 5
	initialInterval = 500 * time.Millisecond
	maxInterval     = 8 * time.Second
)

// Do runs op until it succeeds, returns a permanent error, or the attempt
// budget is exhausted. Cancellation of ctx aborts between attempts.
func Do(ctx context.Context, name string, op func() error) error {
	return DoN(ctx, name, maxAttempts, op)
}

// DoN is Do with an explicit attempt budget, for calls like the tarball PUT
// that carry a tighter budget than the default policy.
func DoN(ctx context.Context, name string, attempts int, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	b.RandomizationFactor = 1 // full jitter

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		switch {
		case err == nil:
			return nil
		case IsPermanent(err):
			return err
		case attempt >= attempts:
			return backoff.Permanent(err)
		default:
			output.Debug("retrying after transient failure",
				"op", name, "attempt", attempt, "error", err)
			return err
		}
	}

	return backoff.Retry(wrapped, backoff.WithContext(b, ctx))
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// RetryableStatus reports whether an HTTP status code is transient.
func RetryableStatus(status int) bool {
	return status >= http.StatusInternalServerError
}

// RetryableNetErr reports whether err looks like a connect failure or
// read timeout rather than a protocol-level rejection.
func RetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
