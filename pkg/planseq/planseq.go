// Package planseq sequences a migration run's DocumentPlans: it resolves
// related_document ordering dependencies into a concrete run order and
// hands the engine one plan at a time, tracking which plans have
// completed this run.
package planseq

import (
	"fmt"

	"github.com/tigrankh/migration/pkg/docmodel"
)

// Sequence is an ordered, stateful walk over a run's plans.
type Sequence struct {
	plans []*docmodel.DocumentPlan
	pos   int
}

// New orders plans so that any plan naming a related_document comes after
// the plan for that related type, per spec.md's Data Model: related_document
// declares an ordering dependency only, never a runtime join.
func New(plans []*docmodel.DocumentPlan) (*Sequence, error) {
	ordered, err := topoSort(plans)
	if err != nil {
		return nil, err
	}
	return &Sequence{plans: ordered}, nil
}

func topoSort(plans []*docmodel.DocumentPlan) ([]*docmodel.DocumentPlan, error) {
	byType := make(map[string]*docmodel.DocumentPlan, len(plans))
	for _, p := range plans {
		byType[p.Type] = p
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(plans))
	var out []*docmodel.DocumentPlan

	var visit func(p *docmodel.DocumentPlan) error
	visit = func(p *docmodel.DocumentPlan) error {
		switch state[p.Type] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("planseq: cyclic related_document dependency involving %q", p.Type)
		}
		state[p.Type] = visiting
		if p.RelatedDocument != nil {
			dep, ok := byType[p.RelatedDocument.Type]
			if !ok {
				return fmt.Errorf("planseq: plan %q references unknown related_document type %q", p.Type, p.RelatedDocument.Type)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[p.Type] = visited
		out = append(out, p)
		return nil
	}

	for _, p := range plans {
		if err := visit(p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Current returns the plan at the sequencer's position, or nil if the
// sequence is exhausted.
func (s *Sequence) Current() *docmodel.DocumentPlan {
	if s.Done() {
		return nil
	}
	return s.plans[s.pos]
}

// Advance moves to the next plan in sequence order.
func (s *Sequence) Advance() {
	if s.pos < len(s.plans) {
		s.pos++
	}
}

// Done reports whether every plan in this run has been advanced past.
func (s *Sequence) Done() bool {
	return s.pos >= len(s.plans)
}

// Plans returns the full ordered plan list, for status reporting.
func (s *Sequence) Plans() []*docmodel.DocumentPlan {
	return s.plans
}

// Reset rewinds the sequencer to the first plan without clearing any
// plan's mutable progress fields; nothing in this package or the engine
// clears them.
func (s *Sequence) Reset() {
	s.pos = 0
}
