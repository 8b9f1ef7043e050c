package retry

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("returns on first success", func(t *testing.T) {
		calls := 0
		err := Do(ctx, "op", func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, "op", func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("transient %d", calls)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		calls := 0
		err := Do(ctx, "op", func() error {
			calls++
			return Permanent(fmt.Errorf("bad request"))
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops at the attempt budget", func(t *testing.T) {
		calls := 0
		err := DoN(ctx, "op", 3, func() error {
			calls++
			return fmt.Errorf("always failing")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("cancellation aborts between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Do(ctx, "op", func() error {
			calls++
			cancel()
			return fmt.Errorf("transient")
		})
		require.Error(t, err)
		assert.LessOrEqual(t, calls, 2)
	})
}

func TestRetryableStatus(t *testing.T) {
	assert.True(t, RetryableStatus(500))
	assert.True(t, RetryableStatus(503))
	assert.False(t, RetryableStatus(200))
	assert.False(t, RetryableStatus(404))
	assert.False(t, RetryableStatus(409))
	assert.False(t, RetryableStatus(412))
}

func TestRetryableNetErr(t *testing.T) {
	assert.False(t, RetryableNetErr(nil))
	assert.False(t, RetryableNetErr(context.Canceled))
	assert.False(t, RetryableNetErr(fmt.Errorf("some app error")))

	opErr := &net.OpError{Op: "dial", Err: fmt.Errorf("connection refused")}
	assert.True(t, RetryableNetErr(opErr))

	var timeoutErr net.Error = &timeoutError{}
	assert.True(t, RetryableNetErr(timeoutErr))
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

var _ net.Error = (*timeoutError)(nil)

func TestBackoffBounds(t *testing.T) {
	// Transient retries should back off but never stall the release
	// beyond the configured cap per attempt.
	start := time.Now()
	_ = DoN(context.Background(), "op", 2, func() error {
		return fmt.Errorf("transient")
	})
	assert.Less(t, time.Since(start), 5*time.Second)
}
