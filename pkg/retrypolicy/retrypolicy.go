// Package retrypolicy centralizes the linear (not exponential) backoff
// intervals the migration engine uses for fetch, write, and update
// retries, grounded on the backoff(i) idiom in block-spirit's
// pkg/dbconn/dbconn.go. Intervals are package-level vars rather than
// consts so tests can shrink them.
package retrypolicy

import (
	"context"
	"time"
)

var (
	// FetchInterval is the base used by FetchBackoff: attempt i sleeps
	// FetchInterval * (i+1).
	FetchInterval = 120 * time.Second
	// FetchMaxAttempts bounds how many times the engine retries a single
	// plan's fetch before raising FetchingTerminatedError.
	FetchMaxAttempts = 3

	// WriteInterval is the base used by WriteBackoff: attempt i sleeps
	// WriteInterval * (i+1).
	WriteInterval = 120 * time.Second
	// WriteMaxAttempts bounds how many times the engine retries the
	// buffer's retry bucket before the remaining ids are written to the
	// cancellation log and dropped for this run.
	WriteMaxAttempts = 3

	// UpdateInterval is the base used by UpdateBackoff: attempt i sleeps
	// UpdateInterval * i (the first attempt is immediate).
	UpdateInterval = 60 * time.Second
	// UpdateMaxAttempts bounds how many times the engine retries a
	// batch_update call before logging the still-unmarked ids and giving
	// up on them for this run.
	UpdateMaxAttempts = 3

	// TransactPartitionSize is the largest batch a single transactional
	// write call may carry, mirroring DynamoDB's TransactWriteItems cap.
	TransactPartitionSize = 25
)

// FetchBackoff returns the delay before fetch retry attempt i (0-indexed).
func FetchBackoff(i int) time.Duration {
	return FetchInterval * time.Duration(i+1)
}

// WriteBackoff returns the delay before write retry attempt i (0-indexed).
func WriteBackoff(i int) time.Duration {
	return WriteInterval * time.Duration(i+1)
}

// UpdateBackoff returns the delay before update retry attempt i (1-indexed:
// callers pass 1 for the first delayed retry after an undelayed initial
// attempt), so the three retries sleep 60/120/180s.
func UpdateBackoff(i int) time.Duration {
	return UpdateInterval * time.Duration(i)
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
