// Package mongostore implements docstore.Store against MongoDB, for use as
// the migration engine's destination and internal adapter. It follows
// go.mongodb.org/mongo-driver idioms (mongo.Connect, collection.Find,
// collection.BulkWrite) as used in the casino-management mongo-migration
// reference. Each batch operation is a single BulkWrite attempt; retrying
// a partially failed batch is left to pkg/migration's retry loops.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tigrankh/migration/pkg/dberrors"
	"github.com/tigrankh/migration/pkg/docmodel"
	"github.com/tigrankh/migration/pkg/docstore"
)

// Database is the subset of *mongo.Database this package calls.
type Database interface {
	Collection(name string) *mongo.Collection
}

// Store is a docstore.Store backed by MongoDB. The same type serves as
// both the destination store (migrated documents land here) and the
// internal store (checkpoints and cancellation-log entries land here),
// since both are plain document collections under the key-model contract.
type Store struct {
	db Database
}

func New(db Database) (*Store, error) {
	if db == nil {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("mongo database")
	}
	return &Store{db: db}, nil
}

func (s *Store) Find(ctx context.Context, plan *docmodel.DocumentPlan, cursor docstore.Cursor) (docstore.FindResult, error) {
	filter := bson.M{}
	for _, q := range plan.Queries {
		mongoOp, ok := mongoOperator[q.Operation]
		if !ok {
			return docstore.FindResult{}, fmt.Errorf("mongostore: unsupported operation %q", q.Operation)
		}
		bv, err := bsonFromValue(q.Value)
		if err != nil {
			return docstore.FindResult{}, err
		}
		if existing, ok := filter[q.FieldName].(bson.M); ok {
			existing[mongoOp] = bv
		} else {
			filter[q.FieldName] = bson.M{mongoOp: bv}
		}
	}
	if !docstore.FindAll(ctx) {
		filter[docmodel.IsMigratedField] = bson.M{"$ne": true}
	}
	if !cursor.IsZero() {
		if lastID, ok := cursor.Attrs()["_id"]; ok {
			s, _ := lastID.AsString()
			filter["_id"] = bson.M{"$gt": s}
		}
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(plan.BatchSize))
	if plan.QueryIndexName != "" {
		findOpts.SetHint(plan.QueryIndexName)
	}

	coll := s.db.Collection(plan.SourceCollectionName)
	cur, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return docstore.FindResult{}, dberrors.NewRetryableFetchingError(plan.Type, err)
	}
	defer cur.Close(ctx)

	var docs []docmodel.Document
	var lastID string
	for cur.Next(ctx) {
		raw := bson.M{}
		if err := cur.Decode(&raw); err != nil {
			return docstore.FindResult{}, dberrors.NewRetryableFetchingError(plan.Type, err)
		}
		doc, id, err := documentFromBSON(raw)
		if err != nil {
			return docstore.FindResult{}, dberrors.NewRetryableFetchingError(plan.Type, err)
		}
		docs = append(docs, doc)
		lastID = id
	}
	if err := cur.Err(); err != nil {
		return docstore.FindResult{}, dberrors.NewRetryableFetchingError(plan.Type, err)
	}

	done := len(docs) < plan.BatchSize
	var next docstore.Cursor
	if !done {
		next = docstore.NewCursor(map[string]docmodel.Value{"_id": docmodel.StringValue(lastID)})
	}
	return docstore.FindResult{Documents: docs, Cursor: next, Done: done}, nil
}

func (s *Store) FindDocument(ctx context.Context, collection, id string) (docmodel.Document, bool, error) {
	coll := s.db.Collection(collection)
	raw := bson.M{}
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dberrors.NewRetryableFetchingError(collection, err)
	}
	doc, _, err := documentFromBSON(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// BatchWrite upserts a batch of documents via an unordered BulkWrite. A
// document that already carries is_migrated=true (a force-mode re-write)
// uses an UpdateOne $set (omitting _id) rather than a full ReplaceOne, per
// the key-model contract (SPEC_FULL.md §4.2); everything else upserts by
// the injected _id via ReplaceOne.
//
// The mongo-driver surfaces any write failure in an unordered BulkWrite as
// a returned error, never as a clean partial WriteResult — matching
// SPEC_FULL.md §4.1's "destination bulk errors... raises" description of
// a Cancellation, not §4.4's retryable "returns accepted_ids, no
// exception" case. So any failure here is reported as
// InsertionWasCancelledError, carrying the ids the BulkWriteException says
// landed apart from the ones it rejected; the engine marks the former and
// sends the latter straight to the cancellation log with no further retry.
func (s *Store) BatchWrite(ctx context.Context, collection string, docs []docmodel.Document) (docstore.WriteResult, error) {
	if len(docs) == 0 {
		return docstore.WriteResult{}, nil
	}
	coll := s.db.Collection(collection)
	ids := make([]string, 0, len(docs))
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		id, ok := doc.ID()
		if !ok {
			return docstore.WriteResult{}, fmt.Errorf("mongostore: document missing id field")
		}
		ids = append(ids, id)
		body := doc.WithoutBookkeeping()
		raw, err := bsonFromDocument(body)
		if err != nil {
			return docstore.WriteResult{}, err
		}
		if doc.IsMigrated() {
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": id}).
				SetUpdate(bson.M{"$set": raw}).
				SetUpsert(true))
			continue
		}
		raw["_id"] = id
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(raw).
			SetUpsert(true))
	}

	_, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err == nil {
		return docstore.WriteResult{Succeeded: ids}, nil
	}

	bwErr, ok := err.(mongo.BulkWriteException)
	if !ok {
		// The driver could not tell us which ids landed at all (a
		// connection-level failure, not a per-document rejection): every
		// id in this batch is cancelled outright.
		return docstore.WriteResult{}, dberrors.NewInsertionWasCancelledError(collection, nil, ids, err)
	}
	failedIdx := make(map[int]bool, len(bwErr.WriteErrors))
	for _, we := range bwErr.WriteErrors {
		failedIdx[we.Index] = true
	}
	var inserted, cancelled []string
	for i, id := range ids {
		if failedIdx[i] {
			cancelled = append(cancelled, id)
		} else {
			inserted = append(inserted, id)
		}
	}
	return docstore.WriteResult{}, dberrors.NewInsertionWasCancelledError(collection, inserted, cancelled, bwErr)
}

// BatchUpdate marks a batch of ids as migrated via UpdateOne models in a
// single unordered BulkWrite. No transaction-item cap applies here; that
// restriction is specific to the DynamoDB adapter (SPEC_FULL.md §4.2). A
// per-id DocumentValidationFailure is fatal: the update will fail the
// collection's validator identically on every retry, so it is reported
// via Fatal rather than Failed (SPEC_FULL.md §4.4) and the engine never
// retries it.
func (s *Store) BatchUpdate(ctx context.Context, collection string, ids []string) (docstore.WriteResult, error) {
	if len(ids) == 0 {
		return docstore.WriteResult{}, nil
	}
	coll := s.db.Collection(collection)
	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(ids))
	for _, id := range ids {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{"$set": bson.M{
				docmodel.IsMigratedField: true,
				docmodel.MigratedAtField: now,
			}}))
	}
	_, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err == nil {
		return docstore.WriteResult{Succeeded: ids}, nil
	}
	bwErr, ok := err.(mongo.BulkWriteException)
	if !ok {
		return docstore.WriteResult{}, dberrors.NewTransactionalUpdateError(collection, ids, err)
	}
	failedIdx := make(map[int]bool, len(bwErr.WriteErrors))
	fatalIdx := make(map[int]bool, len(bwErr.WriteErrors))
	for _, we := range bwErr.WriteErrors {
		if isValidationWriteError(we) {
			fatalIdx[we.Index] = true
		} else {
			failedIdx[we.Index] = true
		}
	}
	var succeeded, failed, fatal []string
	for i, id := range ids {
		switch {
		case fatalIdx[i]:
			fatal = append(fatal, id)
		case failedIdx[i]:
			failed = append(failed, id)
		default:
			succeeded = append(succeeded, id)
		}
	}
	return docstore.WriteResult{Succeeded: succeeded, Failed: failed, Fatal: fatal}, nil
}

// mongoDocumentValidationFailure is the server error code MongoDB raises
// when a write violates a collection's schema validator.
const mongoDocumentValidationFailure = 121

func isValidationWriteError(we mongo.WriteError) bool {
	return we.Code == mongoDocumentValidationFailure
}

func (s *Store) Update(ctx context.Context, collection string, id string, doc docmodel.Document) error {
	raw, err := bsonFromDocument(doc)
	if err != nil {
		return err
	}
	raw["_id"] = id
	coll := s.db.Collection(collection)
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, raw, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) SetLastDocument(ctx context.Context, plan string, cursor docstore.Cursor) error {
	coll := s.db.Collection(checkpointCollection)
	var attrs bson.M
	if !cursor.IsZero() {
		var err error
		attrs, err = bsonFromDocument(docmodel.Document(cursor.Attrs()))
		if err != nil {
			return err
		}
	}
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": plan}, bson.M{"_id": plan, "cursor": attrs}, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) LastFetchedKey(ctx context.Context, plan string) (docstore.Cursor, error) {
	coll := s.db.Collection(checkpointCollection)
	raw := bson.M{}
	err := coll.FindOne(ctx, bson.M{"_id": plan}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return docstore.Cursor{}, nil
	}
	if err != nil {
		return docstore.Cursor{}, err
	}
	cursorRaw, ok := raw["cursor"].(bson.M)
	if !ok || len(cursorRaw) == 0 {
		return docstore.Cursor{}, nil
	}
	doc, _, err := documentFromBSON(cursorRaw)
	if err != nil {
		return docstore.Cursor{}, err
	}
	return docstore.NewCursor(map[string]docmodel.Value(doc)), nil
}

// checkpointCollection is the internal-store collection SetLastDocument/
// LastFetchedKey persist fetch cursors in, separate from the cancellation
// log collection pkg/checkpoint writes to.
const checkpointCollection = "migration_checkpoints"

var mongoOperator = map[docmodel.Operation]string{
	docmodel.OpEq:  "$eq",
	docmodel.OpGt:  "$gt",
	docmodel.OpGte: "$gte",
	docmodel.OpLt:  "$lt",
	docmodel.OpLte: "$lte",
}
