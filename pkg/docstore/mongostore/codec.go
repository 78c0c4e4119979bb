package mongostore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tigrankh/migration/pkg/docmodel"
)

// bsonFromDocument and documentFromBSON bridge docmodel.Document to
// bson.M. Values marshal through docmodel.Value's own MarshalBSONValue
// (decimal.go, value.go), so a document built here round-trips through
// mongo-driver exactly as BatchBuffer's deep-copy round trip does.
func bsonFromDocument(doc docmodel.Document) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("mongostore: marshal document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("mongostore: unmarshal document: %w", err)
	}
	return m, nil
}

// bsonFromValue wraps a single value in a throwaway document so it can
// ride the same Marshal/Unmarshal round trip as a full document, rather
// than hand-decoding a bson.RawValue by type.
func bsonFromValue(v docmodel.Value) (interface{}, error) {
	wrapped := docmodel.Document{"v": v}
	raw, err := bson.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("mongostore: marshal value: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("mongostore: unmarshal value: %w", err)
	}
	return m["v"], nil
}

// documentFromBSON converts a decoded bson.M back into a docmodel.Document,
// returning the _id it found (a collection's documents are always keyed by
// a string _id under the key-model contract).
func documentFromBSON(raw bson.M) (docmodel.Document, string, error) {
	id, _ := raw["_id"].(string)
	body := bson.M{}
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		body[k] = v
	}
	encoded, err := bson.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("mongostore: re-marshal document: %w", err)
	}
	var doc docmodel.Document
	if err := bson.Unmarshal(encoded, &doc); err != nil {
		return nil, "", fmt.Errorf("mongostore: decode document: %w", err)
	}
	if id != "" {
		doc[docmodel.IDField] = docmodel.StringValue(id)
	}
	return doc, id, nil
}
