package estore

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// conflictMaxRetries bounds how often a lost optimistic write is
	// retried before the event is given up on.
	conflictMaxRetries = 3
	// conflictBaseDelay is the first retry delay; it doubles per attempt.
	conflictBaseDelay = 500 * time.Millisecond
)

// newConflictBackoff returns the deterministic doubling schedule used for
// optimistic-concurrency retries: 500ms, 1s, 2s, then give up. No jitter;
// contention on a single document is resolved by the store's ordering,
// not by desynchronizing clients.
func newConflictBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = conflictBaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, conflictMaxRetries)
}
