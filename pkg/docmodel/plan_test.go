package docmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldQueryMatches(t *testing.T) {
	n, _ := DecimalFromString("5")
	doc := Document{"balance": NumberValue(n)}

	gt := FieldQuery{FieldName: "balance", Operation: OpGt, Value: mustDecimal(t, "1")}
	assert.True(t, gt.Matches(doc))

	lt := FieldQuery{FieldName: "balance", Operation: OpLt, Value: mustDecimal(t, "1")}
	assert.False(t, lt.Matches(doc))

	missing := FieldQuery{FieldName: "nope", Operation: OpEq, Value: StringValue("x")}
	assert.False(t, missing.Matches(doc))
}

func mustDecimal(t *testing.T, s string) Value {
	t.Helper()
	d, err := DecimalFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return NumberValue(d)
}

func TestDocumentPlanFindOne(t *testing.T) {
	p := &DocumentPlan{
		Type:                      "account",
		CollectionName:            "accounts",
		SourceCollectionName:      "accounts",
		DestinationCollectionName: "accounts",
		BatchSize:                 10,
		Queries: []FieldQuery{
			{FieldName: IDField, Operation: OpEq, Value: StringValue("abc")},
		},
	}
	assert.True(t, p.FindOne())

	p.Queries = append(p.Queries, FieldQuery{FieldName: "x", Operation: OpEq, Value: StringValue("y")})
	assert.False(t, p.FindOne())
}

func TestDocumentPlanValidate(t *testing.T) {
	p := &DocumentPlan{Type: "account"}
	assert.Error(t, p.Validate())

	p = &DocumentPlan{
		Type:                      "account",
		CollectionName:            "accounts",
		SourceCollectionName:      "accounts",
		DestinationCollectionName: "accounts",
		BatchSize:                 10,
		Queries:                   []FieldQuery{{FieldName: "id", Operation: "bogus", Value: StringValue("x")}},
	}
	assert.Error(t, p.Validate())

	p.Queries[0].Operation = OpEq
	assert.NoError(t, p.Validate())
}
