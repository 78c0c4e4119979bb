// Package docmodel defines the store-agnostic document shape the migration
// engine moves between adapters: Document, Value, FieldQuery, and
// DocumentPlan.
package docmodel

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Decimal is an arbitrary-precision number that survives both the JSON
// boundary (DynamoDB attributevalue encodes numbers as strings) and the BSON
// boundary (MongoDB's native Decimal128) without ever being widened to a
// binary float. See SPEC_FULL.md §3.
type Decimal struct {
	d decimal.Decimal
}

// NewDecimal wraps a shopspring decimal.Decimal.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{d: d}
}

// DecimalFromString parses a decimal literal exactly, with no float
// round-trip.
func DecimalFromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

func (v Decimal) String() string { return v.d.String() }

// Raw exposes the underlying decimal for numeric comparisons in FieldQuery
// evaluation.
func (v Decimal) Raw() decimal.Decimal { return v.d }

func (v Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.d.String() + `"`), nil
}

func (v *Decimal) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("unmarshal decimal %q: %w", s, err)
	}
	v.d = d
	return nil
}

// MarshalBSONValue encodes the decimal as a BSON Decimal128, which is the
// wire type that makes BatchBuffer.add's deep-copy round-trip lossless.
func (v Decimal) MarshalBSONValue() (bsontype.Type, []byte, error) {
	d128, err := primitive.ParseDecimal128(v.d.String())
	if err != nil {
		return 0, nil, fmt.Errorf("encode decimal %q as decimal128: %w", v.d.String(), err)
	}
	return bson.MarshalValue(d128)
}

func (v *Decimal) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var d128 primitive.Decimal128
	if err := bson.UnmarshalValue(t, data, &d128); err != nil {
		return fmt.Errorf("decode decimal128: %w", err)
	}
	d, err := decimal.NewFromString(d128.String())
	if err != nil {
		return fmt.Errorf("parse decimal128 %q: %w", d128.String(), err)
	}
	v.d = d
	return nil
}
