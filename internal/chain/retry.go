package chain

import (
	"context"
	"time"
)

// retry runs fn up to maxRetries+1 times with doubling backoff. Context
// cancellation wins over remaining attempts. Each attempt, not each logical
// call, draws a limiter slot: re-issued requests still count against the
// provider's per-second ceiling.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= c.maxRetries {
			return err
		}
		c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("rpc call failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
