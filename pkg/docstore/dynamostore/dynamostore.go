// Package dynamostore implements docstore.Store against DynamoDB, for use
// as the migration engine's source adapter. It follows AWS SDK v2 idioms
// (config.LoadDefaultConfig, service/dynamodb) and partitions
// transactional writes into groups of 25 via golang.org/x/sync/errgroup,
// the same bounded-concurrency fan-out block-spirit's
// pkg/repl/subscription_buffered.go used for its statement batches before
// that concern moved into pkg/batchbuffer.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/siddontang/loggers"
	"golang.org/x/sync/errgroup"

	"github.com/tigrankh/migration/pkg/dberrors"
	"github.com/tigrankh/migration/pkg/docmodel"
	"github.com/tigrankh/migration/pkg/docstore"
	"github.com/tigrankh/migration/pkg/retrypolicy"
)

// Client is the subset of *dynamodb.Client this package calls, so tests
// can substitute a fake without standing up a real AWS endpoint.
type Client interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is a docstore.Store backed by DynamoDB. It is intended as the
// migration engine's source: Find applies the is_migrated filter unless
// the context is marked via docstore.WithFindAll, and BatchUpdate marks
// source rows migrated once the
// destination write for them has landed.
type Store struct {
	client    Client
	tableName func(collection string) string // maps a logical collection name to a physical table
	logger    loggers.Advanced
}

func New(client Client, tableName func(string) string, logger loggers.Advanced) (*Store, error) {
	if client == nil {
		return nil, dberrors.NewMissingRequiredConfigurationParamError("dynamodb client")
	}
	if tableName == nil {
		tableName = func(c string) string { return c }
	}
	return &Store{client: client, tableName: tableName, logger: logger}, nil
}

func (s *Store) Find(ctx context.Context, plan *docmodel.DocumentPlan, cursor docstore.Cursor) (docstore.FindResult, error) {
	table := s.tableName(plan.SourceCollectionName)
	var exclusiveStartKey map[string]types.AttributeValue
	if !cursor.IsZero() {
		exclusiveStartKey = attrsToDynamo(cursor.Attrs())
	}

	var items []map[string]types.AttributeValue
	var lastKey map[string]types.AttributeValue

	if plan.QueryIndexName != "" {
		keyCond, names, values, err := buildKeyCondition(plan.Queries)
		if err != nil {
			return docstore.FindResult{}, dberrors.NewRetryableFetchingError(plan.Type, err)
		}
		filter := migratedFilter(plan, docstore.FindAll(ctx), names, values)
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(table),
			IndexName:                 aws.String(plan.QueryIndexName),
			KeyConditionExpression:    aws.String(keyCond),
			FilterExpression:          filter,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         exclusiveStartKey,
			Limit:                     aws.Int32(int32(plan.BatchSize)),
		})
		if err != nil {
			return docstore.FindResult{}, classifyFetchError(plan.Type, err)
		}
		items, lastKey = out.Items, out.LastEvaluatedKey
	} else {
		filterExpr, names, values, err := buildScanFilter(plan, docstore.FindAll(ctx))
		if err != nil {
			return docstore.FindResult{}, dberrors.NewRetryableFetchingError(plan.Type, err)
		}
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(table),
			FilterExpression:          filterExpr,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         exclusiveStartKey,
			Limit:                     aws.Int32(int32(plan.BatchSize)),
		})
		if err != nil {
			return docstore.FindResult{}, classifyFetchError(plan.Type, err)
		}
		items, lastKey = out.Items, out.LastEvaluatedKey
	}

	docs := make([]docmodel.Document, 0, len(items))
	for _, item := range items {
		doc, err := documentFromItem(item)
		if err != nil {
			return docstore.FindResult{}, dberrors.NewRetryableFetchingError(plan.Type, err)
		}
		docs = append(docs, doc)
	}

	return docstore.FindResult{
		Documents: docs,
		Cursor:    docstore.NewCursor(dynamoToAttrs(lastKey)),
		Done:      len(lastKey) == 0,
	}, nil
}

func (s *Store) FindDocument(ctx context.Context, collection, id string) (docmodel.Document, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName(collection)),
		Key: map[string]types.AttributeValue{
			docmodel.IDField: &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, false, classifyFetchError(collection, err)
	}
	if out.Item == nil {
		return nil, false, nil
	}
	doc, err := documentFromItem(out.Item)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// BatchWrite is not implemented for dynamostore: DynamoDB is always the
// migration source in this system, never the destination (SPEC_FULL.md
// §2). A call here means the engine was misconfigured.
func (s *Store) BatchWrite(ctx context.Context, collection string, docs []docmodel.Document) (docstore.WriteResult, error) {
	return docstore.WriteResult{}, fmt.Errorf("dynamostore: batch_write is not supported on a source store")
}

// BatchUpdate marks a batch of ids as migrated via TransactWriteItems,
// partitioned into groups of retrypolicy.TransactPartitionSize (DynamoDB's
// 25-item transaction cap), issued with bounded concurrency. A partition
// that fails with ValidationException is fatal: no amount of retrying
// will fix a request DynamoDB considers structurally invalid, so it is
// reported via Fatal rather than Failed (SPEC_FULL.md §4.2, §4.4) and the
// engine never retries it.
func (s *Store) BatchUpdate(ctx context.Context, collection string, ids []string) (docstore.WriteResult, error) {
	table := s.tableName(collection)
	groups := partition(ids, retrypolicy.TransactPartitionSize)

	var (
		succeeded []string
		failed    []string
		fatal     []string
		mu        sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			items := make([]types.TransactWriteItem, 0, len(group))
			for _, id := range group {
				items = append(items, types.TransactWriteItem{
					Update: &types.Update{
						TableName:        aws.String(table),
						Key:              map[string]types.AttributeValue{docmodel.IDField: &types.AttributeValueMemberS{Value: id}},
						UpdateExpression: aws.String("SET is_migrated = :true"),
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":true": &types.AttributeValueMemberBOOL{Value: true},
						},
					},
				})
			}
			_, err := s.client.TransactWriteItems(gctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded = append(succeeded, group...)
			case isValidationError(err):
				fatal = append(fatal, group...)
			default:
				failed = append(failed, group...) // collected as a retryable partial failure, not fatal to the group
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return docstore.WriteResult{}, dberrors.NewTransactionalUpdateError(collection, ids, err)
	}
	return docstore.WriteResult{Succeeded: succeeded, Failed: failed, Fatal: fatal}, nil
}

func (s *Store) Update(ctx context.Context, collection string, id string, doc docmodel.Document) error {
	item, err := itemFromDocument(doc)
	if err != nil {
		return err
	}
	item[docmodel.IDField] = &types.AttributeValueMemberS{Value: id}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName(collection)),
		Item:      item,
	})
	return err
}

func (s *Store) SetLastDocument(ctx context.Context, plan string, cursor docstore.Cursor) error {
	return fmt.Errorf("dynamostore: set_last_document is an internal-store operation")
}

func (s *Store) LastFetchedKey(ctx context.Context, plan string) (docstore.Cursor, error) {
	return docstore.Cursor{}, fmt.Errorf("dynamostore: last_fetched_key is an internal-store operation")
}

func classifyFetchError(plan string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException", "InternalServerError", "RequestLimitExceeded":
			return dberrors.NewRetryableFetchingError(plan, err)
		}
		return dberrors.NewFetchingTerminatedError(plan, 0, err)
	}
	return dberrors.NewRetryableFetchingError(plan, err)
}

// isValidationError reports whether a TransactWriteItems failure is a
// ValidationException: malformed/structurally invalid request data that
// will fail identically on every retry.
func isValidationError(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException"
}

func partition(ids []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}

func attrsToDynamo(attrs map[string]docmodel.Value) map[string]types.AttributeValue {
	doc := docmodel.Document(attrs)
	item, err := itemFromDocument(doc)
	if err != nil {
		return nil
	}
	return item
}

func dynamoToAttrs(item map[string]types.AttributeValue) map[string]docmodel.Value {
	if len(item) == 0 {
		return nil
	}
	doc, err := documentFromItem(item)
	if err != nil {
		return nil
	}
	return map[string]docmodel.Value(doc)
}
