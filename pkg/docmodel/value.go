package docmodel

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Kind tags the scalar/composite a Value holds. Document.go's fields are
// {string, number, boolean, null, nested mapping, ordered list} per
// SPEC_FULL.md §3 — Value is the closed sum over that set.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDocument
	KindList
)

// Value is a single field value in a Document. It is never a bare
// interface{}: adapter encode/decode switches on Kind and returns an error
// for any kind it does not handle. Go does not check these switches for
// exhaustiveness, so a new variant added here fails at run time, not at
// compile time.
type Value struct {
	kind Kind
	str  string
	num  Decimal
	b    bool
	doc  Document
	list []Value
}

func (v Value) Kind() Kind { return v.kind }

func NullValue() Value               { return Value{kind: KindNull} }
func StringValue(s string) Value     { return Value{kind: KindString, str: s} }
func NumberValue(d Decimal) Value    { return Value{kind: KindNumber, num: d} }
func BoolValue(b bool) Value         { return Value{kind: KindBool, b: b} }
func DocumentValue(d Document) Value { return Value{kind: KindDocument, doc: d} }
func ListValue(vs []Value) Value     { return Value{kind: KindList, list: vs} }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsNumber() (Decimal, bool) {
	if v.kind != KindNumber {
		return Decimal{}, false
	}
	return v.num, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsDocument() (Document, bool) {
	if v.kind != KindDocument {
		return nil, false
	}
	return v.doc, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Equal is used by FieldQuery's eq operation and by tests; it compares by
// value, not by identity.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num.Raw().Equal(other.num.Raw())
	case KindBool:
		return v.b == other.b
	case KindDocument:
		if len(v.doc) != len(other.doc) {
			return false
		}
		for k, vv := range v.doc {
			ov, ok := other.doc[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare returns -1/0/1 for ordered comparisons (gt/gte/lt/lte). Only
// numbers and strings are ordered; any other kind is incomparable.
func (v Value) Compare(other Value) (int, bool) {
	if v.kind != other.kind {
		return 0, false
	}
	switch v.kind {
	case KindNumber:
		return v.num.Raw().Cmp(other.num.Raw()), true
	case KindString:
		switch {
		case v.str < other.str:
			return -1, true
		case v.str > other.str:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return jsonString(v.str), nil
	case KindNumber:
		return v.num.MarshalJSON()
	case KindBool:
		if v.b {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindDocument:
		return v.doc.MarshalJSON()
	case KindList:
		return marshalJSONList(v.list)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v Value) MarshalBSONValue() (bsontype.Type, []byte, error) {
	switch v.kind {
	case KindNull:
		return bson.MarshalValue(nil)
	case KindString:
		return bson.MarshalValue(v.str)
	case KindNumber:
		return v.num.MarshalBSONValue()
	case KindBool:
		return bson.MarshalValue(v.b)
	case KindDocument:
		return bson.MarshalValue(v.doc)
	case KindList:
		return bson.MarshalValue(v.list)
	}
	return 0, nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	switch t {
	case bsontype.Null, bsontype.Undefined:
		*v = NullValue()
	case bsontype.String:
		var s string
		if err := bson.UnmarshalValue(t, data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case bsontype.Boolean:
		var b bool
		if err := bson.UnmarshalValue(t, data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case bsontype.Decimal128, bsontype.Int32, bsontype.Int64, bsontype.Double:
		var d Decimal
		if err := bson.UnmarshalValue(t, data, &d); err != nil {
			return decodeNumericFallback(t, data, v)
		}
		*v = NumberValue(d)
	case bsontype.EmbeddedDocument:
		var doc Document
		if err := bson.UnmarshalValue(t, data, &doc); err != nil {
			return err
		}
		*v = DocumentValue(doc)
	case bsontype.Array:
		var list []Value
		if err := bson.UnmarshalValue(t, data, &list); err != nil {
			return err
		}
		*v = ListValue(list)
	default:
		return fmt.Errorf("unsupported bson type %v for docmodel.Value", t)
	}
	return nil
}

// decodeNumericFallback handles int32/int64/double, which don't decode
// directly into Decimal's UnmarshalBSONValue (that only speaks Decimal128).
func decodeNumericFallback(t bsontype.Type, data []byte, v *Value) error {
	switch t {
	case bsontype.Int32:
		var i int32
		if err := bson.UnmarshalValue(t, data, &i); err != nil {
			return err
		}
		d, err := DecimalFromString(fmt.Sprintf("%d", i))
		if err != nil {
			return err
		}
		*v = NumberValue(d)
	case bsontype.Int64:
		var i int64
		if err := bson.UnmarshalValue(t, data, &i); err != nil {
			return err
		}
		d, err := DecimalFromString(fmt.Sprintf("%d", i))
		if err != nil {
			return err
		}
		*v = NumberValue(d)
	case bsontype.Double:
		var f float64
		if err := bson.UnmarshalValue(t, data, &f); err != nil {
			return err
		}
		d, err := DecimalFromString(fmt.Sprintf("%g", f))
		if err != nil {
			return err
		}
		*v = NumberValue(d)
	default:
		return fmt.Errorf("unsupported numeric bson type %v", t)
	}
	return nil
}

func jsonString(s string) []byte {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, r := range s {
		switch r {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, string(r)...)
		}
	}
	out = append(out, '"')
	return out
}

func marshalJSONList(vs []Value) ([]byte, error) {
	out := []byte{'['}
	for i, v := range vs {
		if i > 0 {
			out = append(out, ',')
		}
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	out = append(out, ']')
	return out, nil
}
