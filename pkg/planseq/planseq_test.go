package planseq

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

func plan(typ string, related *docmodel.RelatedDocument) *docmodel.DocumentPlan {
	return &docmodel.DocumentPlan{
		Type:                      typ,
		CollectionName:            typ,
		SourceCollectionName:      typ,
		DestinationCollectionName: typ,
		BatchSize:                 10,
		RelatedDocument:           related,
	}
}

func TestNewOrdersDependencyFirst(t *testing.T) {
	account := plan("account", nil)
	txn := plan("transaction", &docmodel.RelatedDocument{Type: "account", RelationField: "account_id"})

	seq, err := New([]*docmodel.DocumentPlan{txn, account})
	require.NoError(t, err)

	assert.Equal(t, "account", seq.Current().Type)
	seq.Advance()
	assert.Equal(t, "transaction", seq.Current().Type)
	seq.Advance()
	assert.True(t, seq.Done())
}

func TestNewDetectsCycle(t *testing.T) {
	a := plan("a", &docmodel.RelatedDocument{Type: "b"})
	b := plan("b", &docmodel.RelatedDocument{Type: "a"})

	_, err := New([]*docmodel.DocumentPlan{a, b})
	assert.Error(t, err)
}

func TestNewRejectsUnknownRelatedType(t *testing.T) {
	a := plan("a", &docmodel.RelatedDocument{Type: "ghost"})
	_, err := New([]*docmodel.DocumentPlan{a})
	assert.Error(t, err)
}

func TestResetRewindsPosition(t *testing.T) {
	account := plan("account", nil)
	seq, err := New([]*docmodel.DocumentPlan{account})
	require.NoError(t, err)

	seq.Advance()
	assert.True(t, seq.Done())
	seq.Reset()
	assert.False(t, seq.Done())
	assert.Equal(t, "account", seq.Current().Type)
}
