package migration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tigrankh/migration/pkg/dberrors"
	"github.com/tigrankh/migration/pkg/docmodel"
	"github.com/tigrankh/migration/pkg/docstore"
	"github.com/tigrankh/migration/pkg/docstore/memstore"
	"github.com/tigrankh/migration/pkg/retrypolicy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func init() {
	// Lengthen the status-dump ticker so it never fires during these tests;
	// the retry backoff vars are shrunk per-test instead, since only a
	// couple of tests exercise a retry path at all.
	statusInterval = time.Hour
}

func row(id string, v docmodel.Value) docmodel.Document {
	doc := docmodel.Document{docmodel.IDField: docmodel.StringValue(id)}
	if v.Kind() != docmodel.KindNull {
		doc["v"] = v
	}
	return doc
}

func idOnly(id string) docmodel.Document {
	return docmodel.Document{docmodel.IDField: docmodel.StringValue(id)}
}

func plan(typ, collection string, batchSize int) *docmodel.DocumentPlan {
	return &docmodel.DocumentPlan{
		Type:                      typ,
		CollectionName:            collection,
		SourceCollectionName:      collection,
		DestinationCollectionName: collection,
		BatchSize:                 batchSize,
		Queries: []docmodel.FieldQuery{
			{FieldName: docmodel.IDField, Operation: docmodel.OpGte, Value: docmodel.StringValue("")},
		},
	}
}

func mustDec(t *testing.T, s string) docmodel.Decimal {
	t.Helper()
	d, err := docmodel.DecimalFromString(s)
	require.NoError(t, err)
	return d
}

// scenario 1: single-batch happy path.
func TestMigrateSingleBatchHappyPath(t *testing.T) {
	source := memstore.New()
	source.Seed("c", row("X", docmodel.NumberValue(mustDec(t, "1"))))
	destination := memstore.New()
	internal := memstore.New()

	p := plan("t", "c", 50)
	e, err := New(source, destination, internal, []*docmodel.DocumentPlan{p})
	require.NoError(t, err)

	e.Migrate(context.Background(), false, false)

	got, ok := destination.Get("c", "X")
	require.True(t, ok)
	v, _ := got["v"].AsNumber()
	assert.Equal(t, "1", v.String())

	srcRow, ok := source.Get("c", "X")
	require.True(t, ok)
	assert.True(t, srcRow.IsMigrated())
	assert.True(t, p.AllFetched)
	assert.Equal(t, 1, p.NumMigrated)
}

// scenario 2: decimal preservation end to end, through both the
// BatchBuffer's BSON round trip and the destination store.
func TestMigratePreservesDecimalPrecision(t *testing.T) {
	source := memstore.New()
	source.Seed("c", row("D", docmodel.NumberValue(mustDec(t, "1.2300000000000001"))))
	destination := memstore.New()
	internal := memstore.New()

	p := plan("t", "c", 50)
	e, err := New(source, destination, internal, []*docmodel.DocumentPlan{p})
	require.NoError(t, err)

	e.Migrate(context.Background(), false, false)

	got, ok := destination.Get("c", "D")
	require.True(t, ok)
	v, ok := got["v"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, "1.2300000000000001", v.String())
}

// scenario 3: partial failure via an adapter that raises
// InsertionWasCancelledError rather than returning a clean WriteResult —
// accepted ids mark immediately, rejected ids land in the cancellation log
// with no retry attempt.
func TestMigratePartialFailureCancelsRejectedIDs(t *testing.T) {
	source := memstore.New()
	source.Seed("c", idOnly("A"), idOnly("B"), idOnly("C"))
	destination := memstore.New()
	destination.SetBatchWriteErr(dberrors.NewInsertionWasCancelledError(
		"t", []string{"A"}, []string{"B", "C"}, errString("E11000")))
	internal := memstore.New()

	p := plan("t", "c", 50)
	e, err := New(source, destination, internal, []*docmodel.DocumentPlan{p})
	require.NoError(t, err)

	e.Migrate(context.Background(), false, false)

	aRow, ok := source.Get("c", "A")
	require.True(t, ok)
	assert.True(t, aRow.IsMigrated())

	bRow, _ := source.Get("c", "B")
	assert.False(t, bRow.IsMigrated())
	cRow, _ := source.Get("c", "C")
	assert.False(t, cRow.IsMigrated())

	entries := internal.CollectionDocs("migration_cancellation_log")
	require.Len(t, entries, 1)
	ids, ok := entries[0]["ids"].AsList()
	require.True(t, ok)
	assert.Len(t, ids, 2)
}

// scenario 4: retry path — first write accepts A, leaves B unacknowledged
// with no exception; a later retry accepts B.
func TestMigrateRetryPathDrainsRetryBucket(t *testing.T) {
	origInterval := retrypolicy.WriteInterval
	retrypolicy.WriteInterval = time.Millisecond
	t.Cleanup(func() { retrypolicy.WriteInterval = origInterval })

	source := memstore.New()
	source.Seed("c", idOnly("A"), idOnly("B"))
	destination := &onceUnacknowledgedStore{Store: memstore.New(), holdBack: "B"}
	internal := memstore.New()

	p := plan("t", "c", 50)
	e, err := New(source, destination, internal, []*docmodel.DocumentPlan{p})
	require.NoError(t, err)

	e.Migrate(context.Background(), false, false)

	aRow, _ := source.Get("c", "A")
	assert.True(t, aRow.IsMigrated())
	bRow, _ := source.Get("c", "B")
	assert.True(t, bRow.IsMigrated())
	assert.Equal(t, 2, destination.calls)
}

// scenario 5: reset mode flips is_migrated back to false and never writes
// to the destination.
func TestMigrateResetMode(t *testing.T) {
	source := memstore.New()
	migrated := idOnly("A")
	migrated[docmodel.IsMigratedField] = docmodel.BoolValue(true)
	source.Seed("c", migrated)
	destination := memstore.New()
	internal := memstore.New()

	p := plan("t", "c", 50)
	e, err := New(source, destination, internal, []*docmodel.DocumentPlan{p})
	require.NoError(t, err)

	e.Migrate(context.Background(), true, false)

	_, ok := destination.Get("c", "A")
	assert.False(t, ok)

	aRow, _ := source.Get("c", "A")
	assert.False(t, aRow.IsMigrated())
	assert.Equal(t, 0, destination.BatchWriteCalls())
}

// scenario 6: multi-plan sequencing — P2 is never fetched before P1 is
// fully exhausted.
func TestMigrateMultiPlanSequencing(t *testing.T) {
	source := memstore.New()
	rows := make([]docmodel.Document, 0, 120)
	for i := 0; i < 120; i++ {
		rows = append(rows, idOnly(idFor(i)))
	}
	source.Seed("p1", rows...)
	source.Seed("p2", idOnly("only"))
	destination := memstore.New()
	internal := memstore.New()

	p1 := plan("p1", "p1", 50)
	p2 := plan("p2", "p2", 50)
	e, err := New(source, destination, internal, []*docmodel.DocumentPlan{p1, p2})
	require.NoError(t, err)

	e.Migrate(context.Background(), false, false)

	assert.Equal(t, 120, p1.NumMigrated)
	assert.Equal(t, 1, p2.NumMigrated)
}

// scenario 7: a batch_update call reporting one id as Fatal (a
// validation error the adapter knows can never succeed) sends that id
// straight to the cancellation log with no retry, while the rest of the
// batch is marked migrated normally.
func TestMigrateBatchUpdateFatalIDSkipsRetry(t *testing.T) {
	source := &fatalOnceSource{Store: memstore.New(), fatalID: "B"}
	source.Seed("c", idOnly("A"), idOnly("B"))
	destination := memstore.New()
	internal := memstore.New()

	p := plan("t", "c", 50)
	e, err := New(source, destination, internal, []*docmodel.DocumentPlan{p})
	require.NoError(t, err)

	e.Migrate(context.Background(), false, false)

	aRow, _ := source.Get("c", "A")
	assert.True(t, aRow.IsMigrated())
	bRow, _ := source.Get("c", "B")
	assert.False(t, bRow.IsMigrated())
	assert.Equal(t, 1, source.calls)

	entries := internal.CollectionDocs("migration_cancellation_log")
	require.Len(t, entries, 1)
}

func TestMigrateEmptyPlanListCompletesImmediately(t *testing.T) {
	source, destination, internal := memstore.New(), memstore.New(), memstore.New()
	e, err := New(source, destination, internal, nil)
	require.NoError(t, err)
	e.Migrate(context.Background(), false, false)
	assert.Equal(t, stateDone, e.getState())
}

func idFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%26]) + string(rune('0'+i/26))
}

type errString string

func (e errString) Error() string { return string(e) }

// onceUnacknowledgedStore wraps memstore.Store and, on its first
// BatchWrite call only, reports one id as unacknowledged with no error —
// the no-exception partial result SPEC_FULL.md §8 scenario 4 describes,
// distinct from the InsertionWasCancelledError "raises" path scenario 3
// exercises.
type onceUnacknowledgedStore struct {
	*memstore.Store
	holdBack string
	calls    int
}

func (s *onceUnacknowledgedStore) BatchWrite(ctx context.Context, collection string, docs []docmodel.Document) (docstore.WriteResult, error) {
	s.calls++
	if s.calls == 1 {
		var succeeded, held []docmodel.Document
		for _, d := range docs {
			if id, _ := d.ID(); id == s.holdBack {
				held = append(held, d)
				continue
			}
			succeeded = append(succeeded, d)
		}
		result, err := s.Store.BatchWrite(context.Background(), collection, succeeded)
		if err != nil {
			return result, err
		}
		return docstore.WriteResult{Succeeded: result.Succeeded, Failed: idsOfDocs(held)}, nil
	}
	return s.Store.BatchWrite(context.Background(), collection, docs)
}

func idsOfDocs(docs []docmodel.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if id, ok := d.ID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// fatalOnceSource wraps memstore.Store and reports one id as a Fatal
// batch_update failure on every call, the way dynamostore/mongostore
// report a validation error: no exception, but never worth retrying.
type fatalOnceSource struct {
	*memstore.Store
	fatalID string
	calls   int
}

func (s *fatalOnceSource) BatchUpdate(ctx context.Context, collection string, ids []string) (docstore.WriteResult, error) {
	s.calls++
	var rest []string
	fatal := false
	for _, id := range ids {
		if id == s.fatalID {
			fatal = true
			continue
		}
		rest = append(rest, id)
	}
	result, err := s.Store.BatchUpdate(context.Background(), collection, rest)
	if err != nil {
		return result, err
	}
	if fatal {
		result.Fatal = append(result.Fatal, s.fatalID)
	}
	return result, nil
}
