// Package migration drives the document migration pipeline: a
// single-threaded, strictly sequential per-plan loop that fetches a page
// from the source store, upserts it to the destination, marks the source
// rows migrated, and checkpoints the cursor into the internal store. The
// Engine type and its construction/state-machine shape are adapted from
// block-spirit's Runner (pkg/migration/runner.go): a validate-and-default
// constructor, an atomically-stored state enum with a String() method, a
// logger set via an Option in the same way Runner.SetLogger does, and a
// periodic status-dump goroutine parallel to Runner.dumpStatus. Unlike the
// teacher, this engine never overlaps two phases across goroutines: the
// teacher's second continuous-checkpoint-dump goroutine has no analogue
// here, since overlapping a checkpoint dump with a mark write would
// violate the destination.batch_write < source.batch_update(mark) <
// internal.update(cursor) ordering invariant this system depends on for
// correctness.
package migration

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"

	"github.com/tigrankh/migration/pkg/batchbuffer"
	"github.com/tigrankh/migration/pkg/checkpoint"
	"github.com/tigrankh/migration/pkg/dberrors"
	"github.com/tigrankh/migration/pkg/docmodel"
	"github.com/tigrankh/migration/pkg/docstore"
	"github.com/tigrankh/migration/pkg/planseq"
	"github.com/tigrankh/migration/pkg/retrypolicy"
)

type migrationState int32

const (
	stateInitial migrationState = iota
	stateFetch
	statePromote
	stateWrite
	stateMark
	stateCheckpoint
	stateAdvance
	stateDone
)

func (s migrationState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateFetch:
		return "fetch"
	case statePromote:
		return "promote"
	case stateWrite:
		return "write"
	case stateMark:
		return "mark"
	case stateCheckpoint:
		return "checkpoint"
	case stateAdvance:
		return "advance"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// statusInterval is the period between status log lines, parallel to
// block-spirit's statusInterval. A var rather than a const so tests can
// shrink it.
var statusInterval = 30 * time.Second

// Engine is the migration pipeline driver. It owns no goroutines of its
// own beyond the status dumper Migrate starts: fetch, promote, write, mark, and
// checkpoint all run inline on the caller's goroutine, by design (spec's
// rejection of async fetch/write overlap).
type Engine struct {
	source      docstore.Store
	destination docstore.Store
	internal    docstore.Store
	checkpoints *checkpoint.Store

	sequence *planseq.Sequence

	currentState int32 // migrationState, accessed via atomic

	logger loggers.Advanced
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default logrus logger, mirroring Runner.SetLogger.
func WithLogger(logger loggers.Advanced) Option {
	return func(e *Engine) { e.logger = logger }
}

// New constructs an Engine, validating required inputs up front the way
// NewRunner does.
func New(source, destination, internal docstore.Store, plans []*docmodel.DocumentPlan, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("source store")
	}
	if destination == nil {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("destination store")
	}
	if internal == nil {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("internal store")
	}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	seq, err := planseq.New(plans)
	if err != nil {
		return nil, err
	}
	cp, err := checkpoint.New(internal)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		source:      source,
		destination: destination,
		internal:    internal,
		checkpoints: cp,
		sequence:    seq,
		logger:      logrus.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) getState() migrationState {
	return migrationState(atomic.LoadInt32(&e.currentState))
}

func (e *Engine) setState(s migrationState) {
	atomic.StoreInt32(&e.currentState, int32(s))
}

// Migrate runs the engine to completion: every plan reaches either
// all_fetched with an empty buffer, or a terminal per-plan error. No error
// ever escapes Migrate once construction has succeeded — per-plan failures
// are logged and, where applicable, written to the internal cancellation
// log (spec.md §7's propagation policy).
func (e *Engine) Migrate(ctx context.Context, reset, force bool) {
	e.setState(stateInitial)
	done := make(chan struct{})
	go e.dumpStatus(ctx, done)
	defer close(done)

	for !e.sequence.Done() {
		plan := e.sequence.Current()
		if err := ctx.Err(); err != nil {
			e.logger.Errorf("migration cancelled: %v", err)
			return
		}
		e.runPlan(ctx, plan, reset, force)
		e.sequence.Advance()
	}
	e.setState(stateDone)
}

// runPlan executes one plan's main loop until it reports all_fetched with
// an empty buffer, or a fetch-retry exhaustion abandons the plan.
func (e *Engine) runPlan(ctx context.Context, plan *docmodel.DocumentPlan, reset, force bool) {
	findAll := reset || force
	buf := batchbuffer.New()

	var cursor docstore.Cursor
	for {
		// Step 1: load the pagination cursor if unset and not all_fetched.
		if cursor.IsZero() && !plan.AllFetched {
			loaded, err := e.checkpoints.LoadCursor(ctx, plan.SourceCollectionName)
			if err != nil {
				e.logger.Errorf("plan %q: failed to load cursor: %v", plan.Type, err)
				return
			}
			cursor = loaded
		}

		// Step 2: fetch one batch, with fetch retry policy.
		e.setState(stateFetch)
		result, err := e.fetchWithRetry(ctx, plan, cursor, findAll)
		if err != nil {
			var terminated *dberrors.FetchingTerminatedError
			if !asTerminated(err, &terminated) {
				e.logger.Errorf("plan %q: unexpected fetch error: %v", plan.Type, err)
			} else {
				e.logger.Errorf("plan %q: %v", plan.Type, terminated)
			}
			return // abandon this plan for this run; engine advances
		}

		if len(result.Documents) > 0 {
			for _, doc := range result.Documents {
				if err := buf.Add(doc); err != nil {
					e.logger.Errorf("plan %q: buffer add failed: %v", plan.Type, err)
				}
			}

			if reset {
				e.runResetBatch(ctx, plan, buf)
			} else {
				e.runWriteBatch(ctx, plan, buf)
			}
		}

		// Step 5: persist the new pagination cursor under the current
		// collection name, after the mark in step 4 has been attempted.
		e.setState(stateCheckpoint)
		if err := e.checkpoints.SaveCursor(ctx, plan.SourceCollectionName, result.Cursor); err != nil {
			e.logger.Errorf("plan %q: failed to persist cursor: %v", plan.Type, err)
		}
		cursor = result.Cursor

		// Step 6: advance once the source reports exhaustion and the
		// buffer has drained.
		if result.Done && buf.Empty() {
			plan.AllFetched = true
			e.setState(stateAdvance)
			return
		}
	}
}

// runWriteBatch handles the default/force write path: promote primary to
// transit, bulk upsert to the destination, reconcile, mark accepted ids on
// the source, then drive the write retry policy for anything left
// unacknowledged.
func (e *Engine) runWriteBatch(ctx context.Context, plan *docmodel.DocumentPlan, buf *batchbuffer.BatchBuffer) {
	e.setState(statePromote)
	batch := buf.Promote()
	if len(batch) == 0 {
		return
	}

	e.setState(stateWrite)
	result, err := e.destination.BatchWrite(ctx, plan.DestinationCollectionName, batch)
	var cancelled *dberrors.InsertionWasCancelledError
	switch {
	case asCancelled(err, &cancelled):
		// The adapter raised rather than returning a partial WriteResult:
		// accepted ids still proceed to mark; cancelled ids go straight to
		// the cancellation log with no retry attempt (SPEC_FULL.md §4.1).
		buf.ReconcileAfterWrite(cancelled.Inserted, cancelled.Cancelled)
		e.markAccepted(ctx, plan, cancelled.Inserted)
		plan.NumMigrated += len(cancelled.Inserted)
		if len(cancelled.Cancelled) > 0 {
			e.cancel(ctx, plan, cancelled.Cancelled, err.Error())
			buf.DropRetry(cancelled.Cancelled)
		}
	case err != nil:
		e.logger.Errorf("plan %q: destination batch_write error: %v", plan.Type, err)
		buf.ReconcileAfterWrite(nil, idsOf(batch))
		e.driveWriteRetry(ctx, plan, buf)
	default:
		buf.ReconcileAfterWrite(result.Succeeded, result.Failed)
		e.markAccepted(ctx, plan, result.Succeeded)
		plan.NumMigrated += len(result.Succeeded)
		e.driveWriteRetry(ctx, plan, buf)
	}
}

// runResetBatch handles reset mode: fetched rows are flipped back to
// is_migrated=false on the source and never written to the destination.
func (e *Engine) runResetBatch(ctx context.Context, plan *docmodel.DocumentPlan, buf *batchbuffer.BatchBuffer) {
	e.setState(statePromote)
	batch := buf.Promote()
	if len(batch) == 0 {
		return
	}
	e.setState(stateMark)
	ids := idsOf(batch)
	for _, id := range ids {
		doc, ok, err := e.source.FindDocument(ctx, plan.SourceCollectionName, id)
		if err != nil || !ok {
			continue
		}
		doc[docmodel.IsMigratedField] = docmodel.BoolValue(false)
		if err := e.source.Update(ctx, plan.SourceCollectionName, id, doc); err != nil {
			e.logger.Errorf("plan %q: reset mark failed for id %q: %v", plan.Type, id, err)
		}
	}
	buf.ReconcileAfterWrite(ids, nil)
}

// driveWriteRetry re-issues batch_write for the buffer's retry bucket per
// the write retry policy, up to retrypolicy.WriteMaxAttempts attempts;
// anything still unacknowledged after that is written to the cancellation
// log and dropped from the buffer (spec.md §4.4, §7 InsertionCancelled).
func (e *Engine) driveWriteRetry(ctx context.Context, plan *docmodel.DocumentPlan, buf *batchbuffer.BatchBuffer) {
	for i := 0; i < retrypolicy.WriteMaxAttempts && buf.NeedsRetry(); i++ {
		if err := retrypolicy.Sleep(ctx, retrypolicy.WriteBackoff(i)); err != nil {
			return
		}
		batch := buf.PromoteRetry()
		if len(batch) == 0 {
			return
		}
		result, err := e.destination.BatchWrite(ctx, plan.DestinationCollectionName, batch)
		if err != nil {
			buf.ReconcileAfterRetry(nil, idsOf(batch))
			continue
		}
		buf.ReconcileAfterRetry(result.Succeeded, result.Failed)
		e.markAccepted(ctx, plan, result.Succeeded)
		plan.NumMigrated += len(result.Succeeded)
	}

	if ids := buf.RetryIDs(); len(ids) > 0 {
		e.cancel(ctx, plan, ids, "write retry exhausted")
		buf.DropRetry(ids)
	}
}

// cancel records a batch of ids a destination write could not land, to the
// internal store's cancellation log, per spec.md §4.1/§6's per-collection
// failure log. A failure to write the cancellation entry itself is logged
// and otherwise swallowed — the row will simply be re-fetched and retried
// on the next run, since its is_migrated mark never landed either way.
func (e *Engine) cancel(ctx context.Context, plan *docmodel.DocumentPlan, ids []string, reason string) {
	entry := checkpoint.CancellationLogEntry{
		Plan:      plan.Type,
		IDs:       ids,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if err := e.checkpoints.RecordCancellation(ctx, entry); err != nil {
		e.logger.Errorf("plan %q: failed to record cancellation log for %d ids: %v", plan.Type, len(ids), err)
	}
}

// markAccepted performs step 4: bulk-mark accepted source ids as migrated.
// This happens strictly after the destination write it corresponds to, and
// strictly before the cursor checkpoint in step 5, per the ordering
// invariant in spec.md §4.1 and §5.
//
// The initial call is undelayed; a transient (non-fatal) failure then
// gets exactly retrypolicy.UpdateMaxAttempts delayed retries at
// 60/120/180s, per spec.md §4.4 — 4 calls total, not
// retrypolicy.UpdateMaxAttempts calls total. A Fatal id (a validation
// error the adapter knows will never succeed) is logged to the
// cancellation log immediately and dropped instead of being fed back
// through the retry loop.
func (e *Engine) markAccepted(ctx context.Context, plan *docmodel.DocumentPlan, ids []string) {
	if len(ids) == 0 {
		return
	}
	e.setState(stateMark)

	result, err := e.source.BatchUpdate(ctx, plan.SourceCollectionName, ids)
	if err != nil {
		e.logger.Errorf("plan %q: batch_update attempt 1 failed: %v", plan.Type, err)
	} else {
		if len(result.Fatal) > 0 {
			e.cancel(ctx, plan, result.Fatal, "batch_update validation error")
		}
		if len(result.Failed) == 0 {
			return
		}
		ids = result.Failed
	}

	for i := 0; i < retrypolicy.UpdateMaxAttempts; i++ {
		if err := retrypolicy.Sleep(ctx, retrypolicy.UpdateBackoff(i+1)); err != nil {
			return
		}
		result, err := e.source.BatchUpdate(ctx, plan.SourceCollectionName, ids)
		if err != nil {
			e.logger.Errorf("plan %q: batch_update attempt %d failed: %v", plan.Type, i+2, err)
			continue
		}
		if len(result.Fatal) > 0 {
			e.cancel(ctx, plan, result.Fatal, "batch_update validation error")
		}
		if len(result.Failed) == 0 {
			return
		}
		ids = result.Failed
	}
	e.logger.Errorf("plan %q: batch_update exhausted retries for %d ids; they will be re-migrated on the next run", plan.Type, len(ids))
}

// fetchWithRetry issues the initial Find call and, on a transient failure,
// retries up to retrypolicy.FetchMaxAttempts more times with linear
// backoff — an initial attempt plus 3 retries at 120/240/360s, per
// spec.md §4.4's fetch retry policy, not 3 attempts total.
func (e *Engine) fetchWithRetry(ctx context.Context, plan *docmodel.DocumentPlan, cursor docstore.Cursor, findAll bool) (docstore.FindResult, error) {
	ctx = docstore.WithFindAll(ctx, findAll)

	result, err := e.source.Find(ctx, plan, cursor)
	if err == nil {
		return result, nil
	}
	lastErr := err
	var retryable *dberrors.RetryableFetchingError
	if !asRetryable(err, &retryable) {
		return docstore.FindResult{}, dberrors.NewFetchingTerminatedError(plan.Type, 0, err)
	}

	for i := 0; i < retrypolicy.FetchMaxAttempts; i++ {
		if err := retrypolicy.Sleep(ctx, retrypolicy.FetchBackoff(i)); err != nil {
			return docstore.FindResult{}, err
		}
		result, err := e.source.Find(ctx, plan, cursor)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !asRetryable(err, &retryable) {
			return docstore.FindResult{}, dberrors.NewFetchingTerminatedError(plan.Type, i+1, err)
		}
	}
	return docstore.FindResult{}, dberrors.NewFetchingTerminatedError(plan.Type, retrypolicy.FetchMaxAttempts, lastErr)
}

func idsOf(docs []docmodel.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if id, ok := d.ID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func asRetryable(err error, target **dberrors.RetryableFetchingError) bool {
	e, ok := err.(*dberrors.RetryableFetchingError)
	if ok {
		*target = e
	}
	return ok
}

func asTerminated(err error, target **dberrors.FetchingTerminatedError) bool {
	e, ok := err.(*dberrors.FetchingTerminatedError)
	if ok {
		*target = e
	}
	return ok
}

func asCancelled(err error, target **dberrors.InsertionWasCancelledError) bool {
	e, ok := err.(*dberrors.InsertionWasCancelledError)
	if ok {
		*target = e
	}
	return ok
}

// dumpStatus logs periodic progress, parallel to Runner.dumpStatus.
func (e *Engine) dumpStatus(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			plan := e.sequence.Current()
			if plan == nil {
				continue
			}
			e.logger.Infof("state=%s plan=%s fetched=%v migrated=%d",
				e.getState(), plan.Type, plan.AllFetched, plan.NumMigrated)
		}
	}
}
