package ai

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for recoverable errors
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts after the first call
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Exponential backoff multiplier
	JitterPercent float32       // Random jitter percentage (0.0-1.0)
}

// DefaultRetryConfig mirrors the synthesis client's policy: two extra
// attempts with exponential backoff.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    2,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      4 * time.Second,
	BackoffFactor: 2.0,
}

// Delay computes the exponential delay before the given retry (1-based).
func (c RetryConfig) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	factor := c.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(c.InitialDelay) * math.Pow(factor, float64(retry-1))

	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterPercent > 0 {
		jitterRange := delay * float64(c.JitterPercent)
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
	}

	if delay < 0 {
		delay = float64(c.InitialDelay)
	}
	return time.Duration(delay)
}

// LinearDelay grows proportionally to the retry count: base, 2*base, ...
func LinearDelay(base time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	return base * time.Duration(retry)
}

// Sleeper waits for d or until ctx is done. Clients accept one so tests
// can count and skip backoff delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
