package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds an exponential-backoff retry loop.
type RetryConfig struct {
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	MaxRetries      int
}

// DefaultRetryConfig mirrors the Sync Manager's default bounded-retry
// policy ([sync] max_retries, SPEC_FULL.md Open Question resolution).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxElapsed:      30 * time.Second,
		InitialInterval: 200 * time.Millisecond,
		MaxRetries:      5,
	}
}

// Retry runs fn with exponential backoff, bounded by both an elapsed-time
// ceiling and a retry-count ceiling, honoring ctx cancellation between
// attempts. Grounded on the teacher's dependency on cenkalti/backoff/v4
// for its provider/backend retry loops.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxElapsedTime = cfg.MaxElapsed

	bctx := backoff.WithContext(bo, ctx)
	withLimit := backoff.WithMaxRetries(bctx, uint64(cfg.MaxRetries))

	return backoff.Retry(fn, withLimit)
}
