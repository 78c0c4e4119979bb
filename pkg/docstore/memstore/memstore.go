// Package memstore is an in-memory docstore.Store used throughout
// pkg/migration's tests in place of a real DynamoDB or MongoDB client. It
// is grounded on block-spirit's table.MockChunker
// (pkg/table/chunker_mock.go): a mutex-guarded struct with controllable
// injected errors per call and a watermark cursor carried as an attribute
// bag holding the last scanned id under "after".
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tigrankh/migration/pkg/docmodel"
	"github.com/tigrankh/migration/pkg/docstore"
)

// Store is a single in-memory collection set, keyed by collection name
// then by document id.
type Store struct {
	mu sync.Mutex

	collections map[string]map[string]docmodel.Document
	checkpoints map[string]docstore.Cursor

	findErr         error
	findDocumentErr error
	batchWriteErr   error
	batchUpdateErr  error
	updateErr       error

	findAll bool // mirrors reset/force mode: bypass the is_migrated filter

	batchWriteCalls  int
	batchUpdateCalls int
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]docmodel.Document),
		checkpoints: make(map[string]docstore.Cursor),
	}
}

// SetFindAll mirrors the engine's reset/force mode for tests exercising
// the is_migrated filter directly against this store.
func (s *Store) SetFindAll(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findAll = v
}

func (s *Store) SetFindErr(err error)         { s.mu.Lock(); defer s.mu.Unlock(); s.findErr = err }
func (s *Store) SetFindDocumentErr(err error) { s.mu.Lock(); defer s.mu.Unlock(); s.findDocumentErr = err }
func (s *Store) SetBatchWriteErr(err error)   { s.mu.Lock(); defer s.mu.Unlock(); s.batchWriteErr = err }
func (s *Store) SetBatchUpdateErr(err error)  { s.mu.Lock(); defer s.mu.Unlock(); s.batchUpdateErr = err }
func (s *Store) SetUpdateErr(err error)       { s.mu.Lock(); defer s.mu.Unlock(); s.updateErr = err }

// Seed inserts documents directly into a collection, bypassing Update, for
// test setup.
func (s *Store) Seed(collection string, docs ...docmodel.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(collection)
	for _, doc := range docs {
		id, ok := doc.ID()
		if !ok {
			panic("memstore: seeded document missing id field")
		}
		coll[id] = doc.Clone()
	}
}

// Get returns a document's current stored state, for test assertions.
func (s *Store) Get(collection, id string) (docmodel.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil, false
	}
	doc, ok := coll[id]
	return doc, ok
}

// BatchWriteCalls and BatchUpdateCalls let tests assert ordering (a write
// must be observed before its corresponding update, per SPEC_FULL.md
// §4.1's ordering invariant).
func (s *Store) BatchWriteCalls() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.batchWriteCalls }
func (s *Store) BatchUpdateCalls() int { s.mu.Lock(); defer s.mu.Unlock(); return s.batchUpdateCalls }

// CollectionDocs returns every document currently stored in a collection,
// for tests that need to assert on a set rather than a single known id (a
// cancellation log entry's id is timestamp-derived, for instance).
func (s *Store) CollectionDocs(collection string) []docmodel.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		return nil
	}
	docs := make([]docmodel.Document, 0, len(coll))
	for _, doc := range coll {
		docs = append(docs, doc)
	}
	return docs
}

func (s *Store) collection(name string) map[string]docmodel.Document {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[string]docmodel.Document)
		s.collections[name] = coll
	}
	return coll
}

func (s *Store) Find(ctx context.Context, plan *docmodel.DocumentPlan, cursor docstore.Cursor) (docstore.FindResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return docstore.FindResult{}, s.findErr
	}

	coll := s.collection(plan.SourceCollectionName)
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if !cursor.IsZero() {
		if after, ok := cursor.Attrs()["after"]; ok {
			afterID, _ := after.AsString()
			for i, id := range ids {
				if id > afterID {
					start = i
					break
				}
				start = i + 1
			}
		}
	}

	var matched []docmodel.Document
	idx := start
	for ; idx < len(ids) && len(matched) < plan.BatchSize; idx++ {
		doc := coll[ids[idx]]
		if !s.findAll && !docstore.FindAll(ctx) && doc.IsMigrated() {
			continue
		}
		if !matchesAll(doc, plan.Queries) {
			continue
		}
		matched = append(matched, doc.Clone())
	}

	done := idx >= len(ids)
	var next docstore.Cursor
	if !done && idx > 0 {
		next = docstore.NewCursor(map[string]docmodel.Value{"after": docmodel.StringValue(ids[idx-1])})
	}
	return docstore.FindResult{Documents: matched, Cursor: next, Done: done}, nil
}

func matchesAll(doc docmodel.Document, queries []docmodel.FieldQuery) bool {
	for _, q := range queries {
		if !q.Matches(doc) {
			return false
		}
	}
	return true
}

func (s *Store) FindDocument(ctx context.Context, collection, id string) (docmodel.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findDocumentErr != nil {
		return nil, false, s.findDocumentErr
	}
	coll := s.collection(collection)
	doc, ok := coll[id]
	if !ok {
		return nil, false, nil
	}
	return doc.Clone(), true, nil
}

func (s *Store) BatchWrite(ctx context.Context, collection string, docs []docmodel.Document) (docstore.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchWriteCalls++
	if s.batchWriteErr != nil {
		return docstore.WriteResult{}, s.batchWriteErr
	}
	coll := s.collection(collection)
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id, ok := doc.ID()
		if !ok {
			return docstore.WriteResult{}, fmt.Errorf("memstore: document missing id field")
		}
		coll[id] = doc.WithoutBookkeeping().Clone()
		ids = append(ids, id)
	}
	return docstore.WriteResult{Succeeded: ids}, nil
}

func (s *Store) BatchUpdate(ctx context.Context, collection string, ids []string) (docstore.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchUpdateCalls++
	if s.batchUpdateErr != nil {
		return docstore.WriteResult{}, s.batchUpdateErr
	}
	coll := s.collection(collection)
	succeeded := make([]string, 0, len(ids))
	for _, id := range ids {
		doc, ok := coll[id]
		if !ok {
			continue
		}
		doc[docmodel.IsMigratedField] = docmodel.BoolValue(true)
		coll[id] = doc
		succeeded = append(succeeded, id)
	}
	return docstore.WriteResult{Succeeded: succeeded}, nil
}

func (s *Store) Update(ctx context.Context, collection string, id string, doc docmodel.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	coll := s.collection(collection)
	body := doc.Clone()
	body[docmodel.IDField] = docmodel.StringValue(id)
	coll[id] = body
	return nil
}

func (s *Store) SetLastDocument(ctx context.Context, plan string, cursor docstore.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[plan] = cursor
	return nil
}

func (s *Store) LastFetchedKey(ctx context.Context, plan string) (docstore.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[plan], nil
}
