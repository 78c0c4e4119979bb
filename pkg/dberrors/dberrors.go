// Package dberrors defines the migration engine's error taxonomy: tagged
// struct types rather than opaque sentinel values, so callers can recover
// the specific failure and the engine can decide fetch-retry vs.
// plan-abandon vs. cancellation-log behavior without string matching.
package dberrors

import (
	"fmt"

	"github.com/pingcap/errors"
)

// RetryableFetchingError wraps a transient failure from a source store's
// find operation. The engine retries up to the fetch retry policy's cap
// before giving up on the current plan (SPEC_FULL.md §4.4).
type RetryableFetchingError struct {
	Plan  string
	Cause error
}

func NewRetryableFetchingError(plan string, cause error) *RetryableFetchingError {
	return &RetryableFetchingError{Plan: plan, Cause: errors.Trace(cause)}
}

func (e *RetryableFetchingError) Error() string {
	return fmt.Sprintf("retryable fetch error for plan %q: %v", e.Plan, e.Cause)
}

func (e *RetryableFetchingError) Unwrap() error { return e.Cause }

// FetchingTerminatedError is raised once a plan's fetch retries are
// exhausted, or for a fetch error that is not worth retrying. The engine
// abandons the plan for this run (its all_fetched stays false) and moves
// on to the next plan, per the fetch retry policy in SPEC_FULL.md §4.4.
type FetchingTerminatedError struct {
	Plan    string
	Retries int
	Cause   error
}

func NewFetchingTerminatedError(plan string, retries int, cause error) *FetchingTerminatedError {
	return &FetchingTerminatedError{Plan: plan, Retries: retries, Cause: errors.Trace(cause)}
}

func (e *FetchingTerminatedError) Error() string {
	return fmt.Sprintf("fetch terminated for plan %q after %d retries: %v", e.Plan, e.Retries, e.Cause)
}

func (e *FetchingTerminatedError) Unwrap() error { return e.Cause }

// InsertionWasCancelledError reports a destination batch_write that raised
// rather than returning a WriteResult: the adapter knows the split point
// between rows it managed to insert and rows it did not, but learned this
// from an exception rather than a clean partial result. IDs in Cancelled go
// straight to the cancellation log with no further retry, per SPEC_FULL.md
// §4.1's failure semantics; Inserted proceeds directly to the mark step,
// same as a successful WriteResult.Succeeded would.
type InsertionWasCancelledError struct {
	Plan      string
	Inserted  []string
	Cancelled []string
	Cause     error
}

func NewInsertionWasCancelledError(plan string, inserted, cancelled []string, cause error) *InsertionWasCancelledError {
	return &InsertionWasCancelledError{Plan: plan, Inserted: inserted, Cancelled: cancelled, Cause: errors.Trace(cause)}
}

func (e *InsertionWasCancelledError) Error() string {
	return fmt.Sprintf("insertion cancelled for plan %q (%d inserted, %d cancelled): %v", e.Plan, len(e.Inserted), len(e.Cancelled), e.Cause)
}

func (e *InsertionWasCancelledError) Unwrap() error { return e.Cause }

// UnknownDatabaseError reports a db_config naming a database kind no
// adapter exists for. config.Load always uses the fixed DynamoDB/MongoDB
// kinds and does not return it.
type UnknownDatabaseError struct {
	Database string
}

func NewUnknownDatabaseError(database string) *UnknownDatabaseError {
	return &UnknownDatabaseError{Database: database}
}

func (e *UnknownDatabaseError) Error() string {
	return fmt.Sprintf("unknown database kind %q", e.Database)
}

// MissingRequiredConfigurationParamError is returned by the config layer
// and by store constructors when a required parameter was left unset.
type MissingRequiredConfigurationParamError struct {
	Param string
}

func NewMissingRequiredConfigurationParamError(param string) *MissingRequiredConfigurationParamError {
	return &MissingRequiredConfigurationParamError{Param: param}
}

func (e *MissingRequiredConfigurationParamError) Error() string {
	return fmt.Sprintf("missing required configuration parameter %q", e.Param)
}

// TransactionalUpdateError wraps a failure from a source store's
// batch_update (mark-as-migrated) call. The engine only issues that call
// after the destination write for those ids landed (SPEC_FULL.md §4.1
// ordering invariant), and retries it per the update retry policy.
type TransactionalUpdateError struct {
	Plan  string
	IDs   []string
	Cause error
}

func NewTransactionalUpdateError(plan string, ids []string, cause error) *TransactionalUpdateError {
	return &TransactionalUpdateError{Plan: plan, IDs: ids, Cause: errors.Trace(cause)}
}

func (e *TransactionalUpdateError) Error() string {
	return fmt.Sprintf("transactional update failed for plan %q (%d ids): %v", e.Plan, len(e.IDs), e.Cause)
}

func (e *TransactionalUpdateError) Unwrap() error { return e.Cause }
