// Package checkpoint wraps the internal docstore.Store with the two
// things the migration engine persists there: per-collection fetch cursors
// and cancellation-log entries for ids the engine gave up on. It is the Go-native analogue of block-spirit's own checkpoint
// table writes in pkg/migration/runner.go (resumeFromCheckpoint,
// dumpCheckpointContinuously), generalized from a single SQL row to an
// arbitrary document store.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/tigrankh/migration/pkg/dberrors"
	"github.com/tigrankh/migration/pkg/docmodel"
	"github.com/tigrankh/migration/pkg/docstore"
)

const cancellationLogCollection = "migration_cancellation_log"

// Store persists fetch-cursor checkpoints and cancellation-log entries
// against an internal docstore.Store.
type Store struct {
	internal docstore.Store
}

func New(internal docstore.Store) (*Store, error) {
	if internal == nil {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("internal store")
	}
	return &Store{internal: internal}, nil
}

// SaveCursor persists a fetch cursor under the given key (the engine passes
// the plan's source collection name), so a restarted engine resumes from
// the last page it confirmed rather than from the start.
func (s *Store) SaveCursor(ctx context.Context, plan string, cursor docstore.Cursor) error {
	return s.internal.SetLastDocument(ctx, plan, cursor)
}

// LoadCursor recovers the last fetch cursor persisted under the given key,
// or a zero Cursor if none was ever saved.
func (s *Store) LoadCursor(ctx context.Context, plan string) (docstore.Cursor, error) {
	return s.internal.LastFetchedKey(ctx, plan)
}

// CancellationLogEntry is one record of a batch of ids the engine gave up
// on: ids a destination bulk write rejected outright, ids still failing
// after the write retry policy, or ids a batch_update rejected as a
// validation error (SPEC_FULL.md §5, §6).
type CancellationLogEntry struct {
	Plan      string
	IDs       []string
	Reason    string
	Timestamp time.Time
}

// RecordCancellation writes one cancellation-log entry, keyed by
// plan+timestamp so repeated cancellations for the same plan don't
// overwrite each other.
func (s *Store) RecordCancellation(ctx context.Context, entry CancellationLogEntry) error {
	id := fmt.Sprintf("%s-%d", entry.Plan, entry.Timestamp.UnixNano())
	idValues := make([]docmodel.Value, len(entry.IDs))
	for i, v := range entry.IDs {
		idValues[i] = docmodel.StringValue(v)
	}
	doc := docmodel.Document{
		docmodel.IDField: docmodel.StringValue(id),
		"plan":           docmodel.StringValue(entry.Plan),
		"ids":            docmodel.ListValue(idValues),
		"reason":         docmodel.StringValue(entry.Reason),
		"timestamp":      docmodel.StringValue(entry.Timestamp.UTC().Format(time.RFC3339Nano)),
	}
	return s.internal.Update(ctx, cancellationLogCollection, id, doc)
}
