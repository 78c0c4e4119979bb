package docmodel

import (
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestValueJSONRoundTrip(t *testing.T) {
	d, err := DecimalFromString("19.95")
	require.NoError(t, err)
	v := NumberValue(d)

	raw, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"19.95"`, string(raw))
}

func TestValueBSONRoundTripPreservesDecimal(t *testing.T) {
	d, err := DecimalFromString("1234567890123.456789")
	require.NoError(t, err)
	v := NumberValue(d)

	raw, err := bson.Marshal(Document{"amount": v})
	require.NoError(t, err)

	var out Document
	require.NoError(t, bson.Unmarshal(raw, &out))

	got, ok := out["amount"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, "1234567890123.456789", got.String())
}

func TestValueEqualAndCompare(t *testing.T) {
	a, _ := DecimalFromString("10")
	b, _ := DecimalFromString("10.0")
	va, vb := NumberValue(a), NumberValue(b)
	assert.True(t, va.Equal(vb))

	c, _ := DecimalFromString("9")
	vc := NumberValue(c)
	cmp, ok := va.Compare(vc)
	require.True(t, ok)
	assert.Greater(t, cmp, 0)

	assert.False(t, StringValue("x").Equal(NullValue()))
	assert.True(t, NullValue().IsNull())
}

func TestValueListRoundTrip(t *testing.T) {
	list := ListValue([]Value{StringValue("a"), StringValue("b")})
	raw, err := bson.Marshal(Document{"tags": list})
	require.NoError(t, err)

	var out Document
	require.NoError(t, bson.Unmarshal(raw, &out))

	got, ok := out["tags"].AsList()
	require.True(t, ok)
	require.Len(t, got, 2)
	s0, _ := got[0].AsString()
	assert.Equal(t, "a", s0)
}
