package docmodel

import "fmt"

// IDField is the distinguished field every Document carries: a stable,
// unique-within-collection string id (SPEC_FULL.md §3).
const IDField = "id"

// IsMigratedField and MigratedAtField are bookkeeping fields a destination
// adapter must strip before writing (SPEC_FULL.md §4.2 key-model contract).
const (
	IsMigratedField = "is_migrated"
	MigratedAtField = "migrated_at"
)

// Document is an opaque, unordered string-keyed mapping, per SPEC_FULL.md §3.
type Document map[string]Value

// ID returns the document's id field. Callers that already trust the
// document's shape (anything past adapter ingestion) may use this without
// checking ok.
func (d Document) ID() (string, bool) {
	v, ok := d[IDField]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// IsMigrated reports the current is_migrated flag, defaulting to false when
// absent (a never-migrated row has no such field at all).
func (d Document) IsMigrated() bool {
	v, ok := d[IsMigratedField]
	if !ok {
		return false
	}
	b, _ := v.AsBool()
	return b
}

// WithoutBookkeeping returns a shallow copy with is_migrated/migrated_at
// removed, for writing to the destination (SPEC_FULL.md §4.2).
func (d Document) WithoutBookkeeping() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if k == IsMigratedField || k == MigratedAtField {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone performs a shallow top-level copy; Value itself is immutable once
// constructed (its slice/map fields are never mutated in place by this
// package), so a shallow copy is sufficient everywhere except BatchBuffer.add,
// which instead does a full BSON round-trip to additionally normalize
// decimal representation (SPEC_FULL.md §4.3).
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := []byte{'{'}
	first := true
	for k, v := range d {
		if !first {
			out = append(out, ',')
		}
		first = false
		out = append(out, jsonString(k)...)
		out = append(out, ':')
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		out = append(out, b...)
	}
	out = append(out, '}')
	return out, nil
}
