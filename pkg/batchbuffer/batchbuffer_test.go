package batchbuffer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tigrankh/migration/pkg/docmodel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func doc(id string) docmodel.Document {
	return docmodel.Document{docmodel.IDField: docmodel.StringValue(id)}
}

func TestAddPromoteReconcile(t *testing.T) {
	buf := New()
	require.NoError(t, buf.Add(doc("a")))
	require.NoError(t, buf.Add(doc("b")))

	batch := buf.Promote()
	assert.Len(t, batch, 2)
	assert.True(t, buf.HasData())

	buf.ReconcileAfterWrite([]string{"a"}, []string{"b"})
	assert.True(t, buf.NeedsRetry())
	assert.Equal(t, []string{"b"}, buf.RetryIDs())
	assert.False(t, buf.Empty())
}

func TestAddRejectsDuplicateAcrossBuckets(t *testing.T) {
	buf := New()
	require.NoError(t, buf.Add(doc("a")))
	buf.Promote() // a moves into transit
	assert.Error(t, buf.Add(doc("a")))
}

func TestPromoteRetryAndDropRetry(t *testing.T) {
	buf := New()
	require.NoError(t, buf.Add(doc("a")))
	buf.Promote()
	buf.ReconcileAfterWrite(nil, []string{"a"})
	require.True(t, buf.NeedsRetry())

	retryBatch := buf.PromoteRetry()
	assert.Len(t, retryBatch, 1)

	buf.ReconcileAfterRetry(nil, []string{"a"})
	require.True(t, buf.NeedsRetry())

	buf.DropRetry(buf.RetryIDs())
	assert.False(t, buf.NeedsRetry())
	assert.True(t, buf.Empty())
}

func TestAddRejectsMissingID(t *testing.T) {
	buf := New()
	assert.Error(t, buf.Add(docmodel.Document{}))
}

func TestAddNormalizesDecimalPrecision(t *testing.T) {
	buf := New()
	d, err := docmodel.DecimalFromString("1234567890123.456789")
	require.NoError(t, err)
	in := doc("a")
	in["amount"] = docmodel.NumberValue(d)

	require.NoError(t, buf.Add(in))
	batch := buf.Promote()
	require.Len(t, batch, 1)

	got, ok := batch[0]["amount"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, "1234567890123.456789", got.String())
}
