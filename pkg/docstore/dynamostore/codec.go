package dynamostore

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tigrankh/migration/pkg/docmodel"
)

// itemFromDocument and documentFromItem convert between docmodel.Document
// and DynamoDB's native AttributeValue tree directly, rather than through
// attributevalue.MarshalMap/UnmarshalMap: unmarshaling a DynamoDB Number
// into a bare interface{} widens it to float64, which is exactly the
// precision loss the decimal type exists to prevent (SPEC_FULL.md §3).
func itemFromDocument(doc docmodel.Document) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(doc))
	for k, v := range doc {
		av, err := attributeFromValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

func attributeFromValue(v docmodel.Value) (types.AttributeValue, error) {
	switch v.Kind() {
	case docmodel.KindNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case docmodel.KindString:
		s, _ := v.AsString()
		return &types.AttributeValueMemberS{Value: s}, nil
	case docmodel.KindNumber:
		n, _ := v.AsNumber()
		return &types.AttributeValueMemberN{Value: n.String()}, nil
	case docmodel.KindBool:
		b, _ := v.AsBool()
		return &types.AttributeValueMemberBOOL{Value: b}, nil
	case docmodel.KindDocument:
		d, _ := v.AsDocument()
		m, err := itemFromDocument(d)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case docmodel.KindList:
		l, _ := v.AsList()
		list := make([]types.AttributeValue, len(l))
		for i, item := range l {
			av, err := attributeFromValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = av
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind())
}

func documentFromItem(item map[string]types.AttributeValue) (docmodel.Document, error) {
	doc := make(docmodel.Document, len(item))
	for k, av := range item {
		v, err := valueFromAttribute(av)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}

func valueFromAttribute(av types.AttributeValue) (docmodel.Value, error) {
	switch t := av.(type) {
	case *types.AttributeValueMemberNULL:
		return docmodel.NullValue(), nil
	case *types.AttributeValueMemberS:
		return docmodel.StringValue(t.Value), nil
	case *types.AttributeValueMemberN:
		d, err := docmodel.DecimalFromString(t.Value)
		if err != nil {
			return docmodel.Value{}, err
		}
		return docmodel.NumberValue(d), nil
	case *types.AttributeValueMemberBOOL:
		return docmodel.BoolValue(t.Value), nil
	case *types.AttributeValueMemberM:
		d, err := documentFromItem(t.Value)
		if err != nil {
			return docmodel.Value{}, err
		}
		return docmodel.DocumentValue(d), nil
	case *types.AttributeValueMemberL:
		vs := make([]docmodel.Value, len(t.Value))
		for i, item := range t.Value {
			v, err := valueFromAttribute(item)
			if err != nil {
				return docmodel.Value{}, err
			}
			vs[i] = v
		}
		return docmodel.ListValue(vs), nil
	default:
		return docmodel.Value{}, fmt.Errorf("unsupported dynamodb attribute type %T", av)
	}
}
