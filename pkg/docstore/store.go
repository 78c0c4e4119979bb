// Package docstore defines the Store interface every adapter (dynamostore,
// mongostore, memstore) implements, plus the result/cursor types the
// migration engine operates on. The interface shape follows the Chunker
// interface in block-spirit's pkg/table: a handful of narrow, verb-named
// methods rather than one do-everything call.
package docstore

import (
	"context"

	"github.com/tigrankh/migration/pkg/docmodel"
)

// Cursor is an opaque pagination token. The engine never introspects it;
// it only ever passes back what a prior FindResult handed it, per
// SPEC_FULL.md §3. A nil Cursor means "start of collection" on input and
// "no more pages" on output.
type Cursor struct {
	attrs map[string]docmodel.Value
}

// NewCursor wraps the attribute bag a store adapter uses to resume its
// native pagination (DynamoDB's LastEvaluatedKey, a Mongo _id bookmark, ...).
func NewCursor(attrs map[string]docmodel.Value) Cursor {
	return Cursor{attrs: attrs}
}

func (c Cursor) IsZero() bool { return c.attrs == nil }

// Attrs exposes the raw bag only to the adapter family that produced it;
// other adapters must treat a Cursor as opaque.
func (c Cursor) Attrs() map[string]docmodel.Value { return c.attrs }

// FindResult is the outcome of one Store.Find call: a page of documents
// plus the cursor to resume from, and whether the collection is exhausted.
type FindResult struct {
	Documents []docmodel.Document
	Cursor    Cursor
	Done      bool
}

// WriteResult reports which ids from a batch write landed, which failed
// transiently, and which failed fatally, so the engine can route
// failures into a cancellation log instead of silently dropping them
// (SPEC_FULL.md §4.1, §6). Failed ids are worth retrying (a throttled or
// transient partition failure); Fatal ids are not — a validation error
// will never succeed no matter how many times it is retried (SPEC_FULL.md
// §4.2, §4.4) — and go straight to the cancellation log.
type WriteResult struct {
	Succeeded []string
	Failed    []string
	Fatal     []string
}

// Store is the uniform surface the migration engine drives every backing
// database through. A source adapter (dynamostore) is driven through Find,
// FindDocument, BatchUpdate and Update (the last two for marking and reset
// mode); a destination/internal adapter (mongostore, memstore) needs the
// full set.
type Store interface {
	// Find returns one page of documents matching a plan's queries, in
	// stable order, honoring the is_migrated filter unless reset or force
	// mode is active (SPEC_FULL.md §4.2).
	Find(ctx context.Context, plan *docmodel.DocumentPlan, cursor Cursor) (FindResult, error)

	// FindDocument looks up a single document by id, used by the engine's
	// reset mode to re-read a source row before flipping is_migrated.
	FindDocument(ctx context.Context, collection, id string) (docmodel.Document, bool, error)

	// BatchWrite upserts a batch of documents into the destination, keyed
	// by id (SPEC_FULL.md §4.1, §5). Transaction-size partitioning applies
	// to BatchUpdate, not here.
	BatchWrite(ctx context.Context, collection string, docs []docmodel.Document) (WriteResult, error)

	// BatchUpdate marks a batch of source ids as migrated. Must run only
	// after the corresponding BatchWrite has been confirmed to land
	// (SPEC_FULL.md §4.1 ordering invariant).
	BatchUpdate(ctx context.Context, collection string, ids []string) (WriteResult, error)

	// Update performs a single non-batched write, used for the internal
	// store's cancellation-log records and for reset mode's rewrite of a
	// source row.
	Update(ctx context.Context, collection string, id string, doc docmodel.Document) error

	// SetLastDocument and LastFetchedKey persist and recover fetch-cursor
	// checkpoints across process restarts, under the key the caller passes
	// (the engine uses the plan's source collection name).
	SetLastDocument(ctx context.Context, plan string, cursor Cursor) error
	LastFetchedKey(ctx context.Context, plan string) (Cursor, error)
}

type findAllKeyType struct{}

var findAllKey = findAllKeyType{}

// WithFindAll marks a context so Find ignores the is_migrated filter. The
// engine sets this for reset/force mode (SPEC_FULL.md §5); every adapter
// reads it the same way rather than each defining its own context key.
func WithFindAll(ctx context.Context, findAll bool) context.Context {
	return context.WithValue(ctx, findAllKey, findAll)
}

// FindAll reports whether the context was marked via WithFindAll.
func FindAll(ctx context.Context) bool {
	v, _ := ctx.Value(findAllKey).(bool)
	return v
}
