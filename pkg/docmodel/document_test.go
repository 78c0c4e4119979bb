package docmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentIDAndIsMigrated(t *testing.T) {
	doc := Document{
		IDField:         StringValue("abc-1"),
		IsMigratedField: BoolValue(true),
	}
	id, ok := doc.ID()
	assert.True(t, ok)
	assert.Equal(t, "abc-1", id)
	assert.True(t, doc.IsMigrated())
}

func TestDocumentIsMigratedDefaultsFalse(t *testing.T) {
	doc := Document{IDField: StringValue("abc-2")}
	assert.False(t, doc.IsMigrated())
}

func TestDocumentWithoutBookkeeping(t *testing.T) {
	doc := Document{
		IDField:         StringValue("abc-3"),
		IsMigratedField: BoolValue(true),
		MigratedAtField: StringValue("2026-01-01"),
		"name":          StringValue("hi"),
	}
	stripped := doc.WithoutBookkeeping()
	_, hasMigrated := stripped[IsMigratedField]
	_, hasMigratedAt := stripped[MigratedAtField]
	assert.False(t, hasMigrated)
	assert.False(t, hasMigratedAt)
	_, hasID := stripped[IDField]
	assert.True(t, hasID)
}

func TestDocumentCloneIsIndependent(t *testing.T) {
	doc := Document{IDField: StringValue("abc-4")}
	clone := doc.Clone()
	clone["new"] = StringValue("field")
	_, ok := doc["new"]
	assert.False(t, ok)
}
