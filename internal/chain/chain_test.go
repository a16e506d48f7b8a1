package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	c := New(Config{Endpoint: "http://localhost:0", MaxRetries: 2}, zerolog.Nop())

	calls := 0
	err := c.retry(context.Background(), "op", func() error {
		calls++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrySucceedsMidway(t *testing.T) {
	c := New(Config{Endpoint: "http://localhost:0", MaxRetries: 3}, zerolog.Nop())

	calls := 0
	err := c.retry(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	c := New(Config{Endpoint: "http://localhost:0", MaxRetries: 5}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.retry(ctx, "op", func() error { return errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryDrawsLimiterSlotPerAttempt(t *testing.T) {
	// Zero refill rate: the limiter holds exactly two slots for the whole
	// test, so the third re-issued attempt must block until the context
	// gives up. Retried requests count against the ceiling like any other.
	lim := &Limiter{l: rate.NewLimiter(0, 2)}
	c := New(Config{Endpoint: "http://localhost:0", MaxRetries: 5, Limiter: lim}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	calls := 0
	err := c.retry(ctx, "op", func() error {
		calls++
		return errors.New("throttled")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestLimiterAllowsBurstThenBlocks(t *testing.T) {
	lim := NewLimiter(5)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, lim.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// The sixth call must suspend until the window refills.
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, lim.Wait(ctx))
}

func TestLimiterClampsNonPositive(t *testing.T) {
	lim := NewLimiter(0)
	require.NoError(t, lim.Wait(context.Background()))
}
