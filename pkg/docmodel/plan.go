package docmodel

import "fmt"

// Operation is one of the AND-combined comparisons a FieldQuery evaluates,
// per SPEC_FULL.md §3.
type Operation string

const (
	OpEq  Operation = "eq"
	OpGt  Operation = "gt"
	OpGte Operation = "gte"
	OpLt  Operation = "lt"
	OpLte Operation = "lte"
)

func (op Operation) Valid() bool {
	switch op {
	case OpEq, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// FieldQuery is one AND-combined condition in a DocumentPlan's queries list.
type FieldQuery struct {
	FieldName string
	Operation Operation
	Value     Value
}

// Matches evaluates this query against a single field value of a document.
// A missing field never matches (a post-scan filter treats absence as
// not-equal / not-ordered, consistent with the store adapters' own
// post-scan filtering in SPEC_FULL.md §4.2).
func (q FieldQuery) Matches(doc Document) bool {
	fv, ok := doc[q.FieldName]
	if !ok {
		return false
	}
	switch q.Operation {
	case OpEq:
		return fv.Equal(q.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := fv.Compare(q.Value)
		if !ok {
			return false
		}
		switch q.Operation {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		}
	}
	return false
}

// RelatedDocument declares an ordering dependency only; it is never joined
// at runtime (SPEC_FULL.md §3).
type RelatedDocument struct {
	Type          string
	RelationField string
}

// DocumentPlan describes one migration unit: a source collection, its
// queries, and its mutable progress. See SPEC_FULL.md §3 for the invariants
// a caller must preserve (AllFetched is monotone except via Reset,
// NumMigrated is monotone non-decreasing per run).
type DocumentPlan struct {
	Type                      string
	CollectionName            string
	SourceCollectionName      string
	DestinationCollectionName string
	Queries                   []FieldQuery
	QueryIndexName            string // empty means "no index", per SPEC_FULL.md §3
	RelatedDocument           *RelatedDocument
	BatchSize                 int

	// Mutable progress, updated by the engine as the plan runs; the engine
	// never clears it, in reset mode or otherwise.
	AllFetched  bool
	AllInserted bool
	NumMigrated int
}

// FindOne reports whether this plan's queries are a single `id eq <value>`
// condition, which some store adapters may special-case as a point lookup.
func (p *DocumentPlan) FindOne() bool {
	return len(p.Queries) == 1 && p.Queries[0].FieldName == IDField && p.Queries[0].Operation == OpEq
}

// Validate checks the structural invariants a DocumentPlan must hold before
// the engine can use it.
func (p *DocumentPlan) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("document plan: type is required")
	}
	if p.CollectionName == "" {
		return fmt.Errorf("document plan %q: collection_name is required", p.Type)
	}
	if p.SourceCollectionName == "" {
		return fmt.Errorf("document plan %q: source_collection_name is required", p.Type)
	}
	if p.DestinationCollectionName == "" {
		return fmt.Errorf("document plan %q: destination_collection_name is required", p.Type)
	}
	for i, q := range p.Queries {
		if q.FieldName == "" {
			return fmt.Errorf("document plan %q: queries[%d].field_name is required", p.Type, i)
		}
		if !q.Operation.Valid() {
			return fmt.Errorf("document plan %q: queries[%d].operation %q is invalid", p.Type, i, q.Operation)
		}
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("document plan %q: batch_size must be positive", p.Type)
	}
	return nil
}
