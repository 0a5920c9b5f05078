package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		MaxRetries:      retries,
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		Multiplier:      2.0,
	})

	assert.Equal(t, 100*time.Millisecond, backoff(0))
	assert.Equal(t, 100*time.Millisecond, backoff(1))
	assert.Equal(t, 200*time.Millisecond, backoff(2))
	assert.Equal(t, 400*time.Millisecond, backoff(3))
	assert.Equal(t, 1*time.Second, backoff(10))
}

func TestExponentialBackoffJitter(t *testing.T) {
	backoff := ExponentialBackoff(BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	})
	for i := 0; i < 50; i++ {
		d := backoff(2)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 200*time.Millisecond)
	}

	// Tiny intervals must not panic.
	tiny := ExponentialBackoff(BackoffConfig{InitialInterval: 1, Multiplier: 1, Jitter: true})
	assert.Equal(t, time.Duration(1), tiny(1))
}

func TestWithRetrySucceedsEventually(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return boom
	}, fastConfig(2))

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestWithRetryNoRetries(t *testing.T) {
	boom := errors.New("connection refused")
	err := WithRetry(context.Background(), func() error { return boom }, fastConfig(0))
	assert.Equal(t, boom, err)
}

func TestWithRetryStop(t *testing.T) {
	rejected := errors.New("-ERR go away")
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return Stop(rejected)
	}, fastConfig(5))

	assert.Equal(t, rejected, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsStopError(Stop(rejected)))
	assert.False(t, IsStopError(rejected))
}

func TestWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("timeout")
	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return boom
	}, BackoffConfig{InitialInterval: time.Hour, MaxInterval: time.Hour, Multiplier: 1, MaxRetries: 3})

	require.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
