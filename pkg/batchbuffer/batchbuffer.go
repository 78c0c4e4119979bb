// Package batchbuffer implements the three-stage document buffer the
// migration engine stages writes through: primary (newly fetched),
// transit (currently being written), and retry (failed on a prior write
// attempt, awaiting another try). The mutex-guarded map-keyed-by-id shape
// and the concurrent-flush idiom are grounded on bufferedMap in
// block-spirit's pkg/repl/subscription_buffered.go; this package swaps its
// MySQL statement batching for decimal-precision-preserving document
// copies via a BSON round-trip.
package batchbuffer

import (
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tigrankh/migration/pkg/docmodel"
)

// BatchBuffer holds the documents a single plan's migration loop is
// currently working with. At most one of primary/transit/retry ever
// holds a given id at a time; Add, Promote, and the Reconcile* methods
// are the only operations allowed to move an id between buckets
// (SPEC_FULL.md §4.3).
type BatchBuffer struct {
	mu sync.Mutex

	primary map[string]docmodel.Document
	transit map[string]docmodel.Document
	retry   map[string]docmodel.Document
}

func New() *BatchBuffer {
	return &BatchBuffer{
		primary: make(map[string]docmodel.Document),
		transit: make(map[string]docmodel.Document),
		retry:   make(map[string]docmodel.Document),
	}
}

// Add inserts a freshly fetched document into the primary bucket. The
// document is deep-copied via a BSON marshal/unmarshal round trip rather
// than a plain map copy: this is what normalizes every Decimal field to
// its canonical Decimal128 representation before the document ever
// reaches a writer, so two documents that are value-equal are also
// byte-equal on the wire (SPEC_FULL.md §4.3, §8 scenario 2).
func (b *BatchBuffer) Add(doc docmodel.Document) error {
	id, ok := doc.ID()
	if !ok || id == "" {
		return fmt.Errorf("batchbuffer: document missing id field")
	}
	cp, err := deepCopy(doc)
	if err != nil {
		return fmt.Errorf("batchbuffer: deep copy document %q: %w", id, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.transit[id]; exists {
		return fmt.Errorf("batchbuffer: id %q already in transit", id)
	}
	if _, exists := b.retry[id]; exists {
		return fmt.Errorf("batchbuffer: id %q already awaiting retry", id)
	}
	b.primary[id] = cp
	return nil
}

func deepCopy(doc docmodel.Document) (docmodel.Document, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out docmodel.Document
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Promote moves every document currently in primary into transit, ahead
// of a write attempt, and returns the batch to write. Primary is left
// empty; the retry bucket is untouched, since a retry batch is promoted
// separately via PromoteRetry.
func (b *BatchBuffer) Promote() []docmodel.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := make([]docmodel.Document, 0, len(b.primary))
	for id, doc := range b.primary {
		b.transit[id] = doc
		batch = append(batch, doc)
		delete(b.primary, id)
	}
	return batch
}

// PromoteRetry moves every document in the retry bucket into transit,
// ahead of a retry write attempt.
func (b *BatchBuffer) PromoteRetry() []docmodel.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := make([]docmodel.Document, 0, len(b.retry))
	for id, doc := range b.retry {
		b.transit[id] = doc
		batch = append(batch, doc)
		delete(b.retry, id)
	}
	return batch
}

// ReconcileAfterWrite removes succeeded ids from transit entirely, and
// moves failed ids from transit into retry, per SPEC_FULL.md §4.1: a
// write failure never loses the document, it only delays it.
func (b *BatchBuffer) ReconcileAfterWrite(succeeded, failed []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range succeeded {
		delete(b.transit, id)
	}
	for _, id := range failed {
		if doc, ok := b.transit[id]; ok {
			b.retry[id] = doc
			delete(b.transit, id)
		}
	}
}

// ReconcileAfterRetry removes succeeded ids from transit; ids that fail
// again are moved back from transit into retry, so a subsequent
// NeedsRetry check still finds them.
func (b *BatchBuffer) ReconcileAfterRetry(succeeded, failed []string) {
	b.ReconcileAfterWrite(succeeded, failed)
}

func (b *BatchBuffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.primary) == 0 && len(b.transit) == 0 && len(b.retry) == 0
}

func (b *BatchBuffer) HasData() bool {
	return !b.Empty()
}

// NeedsRetry reports whether any documents are waiting in the retry
// bucket for another write attempt.
func (b *BatchBuffer) NeedsRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.retry) > 0
}

// RetryIDs returns the ids currently pending retry, for cancellation-log
// reporting once the write retry policy is exhausted.
func (b *BatchBuffer) RetryIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.retry))
	for id := range b.retry {
		ids = append(ids, id)
	}
	return ids
}

// DropRetry removes the given ids from the retry bucket unconditionally,
// used once the engine has recorded them to the cancellation log and is
// abandoning further attempts for this run.
func (b *BatchBuffer) DropRetry(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.retry, id)
	}
}
