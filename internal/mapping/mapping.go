// Package mapping classifies AI column suggestions and tracks user overrides.
//
// Confidence is server-authoritative and never changes after classification.
// Status is client-authoritative and only changes through Accept, Reject and Retarget.
package mapping

import (
	"strings"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/types"
)

type Status string

const (
	StatusAuto    Status = "auto"
	StatusManual  Status = "manual"
	StatusPending Status = "pending"
)

// AutoThreshold is the confidence at or above which a suggestion starts as auto.
const AutoThreshold = 0.90

type Mapping struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
	Status     Status  `json:"status"`
}

// Classify turns a raw suggestion into a mapping with its initial status.
func Classify(s types.MappingSuggestion) Mapping {
	m := Mapping{Source: s.Source, Target: s.Target, Confidence: s.Confidence, Status: StatusPending}
	if s.Confidence >= AutoThreshold {
		m.Status = StatusAuto
	}
	return m
}

// Set is the ordered mapping list of one upload. It is not safe for concurrent use.
type Set struct {
	items []Mapping
	index map[string]int
}

// NewSet classifies suggestions, keeping their order. A repeated source keeps its first suggestion.
func NewSet(suggestions []types.MappingSuggestion) *Set {
	s := &Set{index: make(map[string]int, len(suggestions))}
	for _, sg := range suggestions {
		if _, dup := s.index[sg.Source]; dup {
			continue
		}
		s.index[sg.Source] = len(s.items)
		s.items = append(s.items, Classify(sg))
	}
	return s
}

func (s *Set) find(source string) (*Mapping, error) {
	i, ok := s.index[source]
	if !ok {
		return nil, apperr.Validation("no mapping for column %q", source)
	}
	return &s.items[i], nil
}

// Accept forces status auto regardless of confidence.
func (s *Set) Accept(source string) (Mapping, error) {
	m, err := s.find(source)
	if err != nil {
		return Mapping{}, err
	}
	m.Status = StatusAuto
	return *m, nil
}

// Reject forces status pending.
func (s *Set) Reject(source string) (Mapping, error) {
	m, err := s.find(source)
	if err != nil {
		return Mapping{}, err
	}
	m.Status = StatusPending
	return *m, nil
}

// Retarget points source at a new target and marks it manual.
func (s *Set) Retarget(source, target string) (Mapping, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Mapping{}, apperr.Validation("target field for %q is required", source)
	}
	m, err := s.find(source)
	if err != nil {
		return Mapping{}, err
	}
	m.Target = target
	m.Status = StatusManual
	return *m, nil
}

func (s *Set) Get(source string) (Mapping, bool) {
	i, ok := s.index[source]
	if !ok {
		return Mapping{}, false
	}
	return s.items[i], true
}

// All returns a copy of the mappings in source order.
func (s *Set) All() []Mapping {
	if s == nil {
		return nil
	}
	return append([]Mapping(nil), s.items...)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Counts returns how many mappings are in each status.
func (s *Set) Counts() (auto, manual, pending int) {
	if s == nil {
		return 0, 0, 0
	}
	for _, m := range s.items {
		switch m.Status {
		case StatusAuto:
			auto++
		case StatusManual:
			manual++
		default:
			pending++
		}
	}
	return auto, manual, pending
}

// Suggestions renders the current targets for the transform call. Confidence is passed through untouched.
func (s *Set) Suggestions() []types.MappingSuggestion {
	if s == nil {
		return nil
	}
	out := make([]types.MappingSuggestion, 0, len(s.items))
	for _, m := range s.items {
		out = append(out, types.MappingSuggestion{Source: m.Source, Target: m.Target, Confidence: m.Confidence})
	}
	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	if s == nil {
		return nil
	}
	cp := &Set{items: append([]Mapping(nil), s.items...), index: make(map[string]int, len(s.index))}
	for k, v := range s.index {
		cp.index[k] = v
	}
	return cp
}
