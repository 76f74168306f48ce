// Package recommend aggregates recommendation candidates for display and fetches them for the Review stage.
package recommend

import (
	"math"
	"sort"

	"github.com/yourorg/fitment-ingest/internal/types"
)

// Component names, in display order.
const (
	BaseVehicleMatch = "baseVehicleMatch"
	PartTypeMatch    = "partTypeMatch"
	YearProximity    = "yearProximity"
	AttributeMatches = "attributeMatches"
)

// sumTolerance absorbs float rounding when comparing a server total to its components.
const sumTolerance = 1e-6

type Component struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Score is the displayed form of a confidence breakdown.
type Score struct {
	// Components lists only the components greater than zero.
	Components []Component `json:"components"`
	Total      float64     `json:"total"`
	// ServerTotal is false when the server omitted total and it was summed locally.
	ServerTotal bool `json:"serverTotal"`
	// Diverges marks a server total that differs from the component sum.
	Diverges bool `json:"diverges,omitempty"`
}

func components(b *types.ConfidenceBreakdown) []Component {
	return []Component{
		{BaseVehicleMatch, b.BaseVehicleMatch},
		{PartTypeMatch, b.PartTypeMatch},
		{YearProximity, b.YearProximity},
		{AttributeMatches, b.AttributeMatches},
	}
}

// Sum adds the four named components.
func Sum(b *types.ConfidenceBreakdown) float64 {
	if b == nil {
		return 0
	}
	var t float64
	for _, c := range components(b) {
		t += c.Value
	}
	return t
}

// Aggregate builds the display score. A server-supplied total is shown as is.
func Aggregate(b *types.ConfidenceBreakdown) Score {
	if b == nil {
		return Score{}
	}
	var s Score
	for _, c := range components(b) {
		if c.Value > 0 {
			s.Components = append(s.Components, c)
		}
	}
	sum := Sum(b)
	if b.Total != nil {
		s.Total = *b.Total
		s.ServerTotal = true
		s.Diverges = math.Abs(s.Total-sum) > sumTolerance
		return s
	}
	s.Total = sum
	return s
}

// Evidence is a source fitment with its attributes split by outcome.
type Evidence struct {
	FitmentID   string   `json:"fitmentId"`
	Description string   `json:"description,omitempty"`
	Matched     []string `json:"matched"`
	Differences []string `json:"differences"`
}

// Partition splits matchedAttributes into matched and differing names, each sorted.
func Partition(e types.SourceEvidence) Evidence {
	out := Evidence{FitmentID: e.FitmentID, Description: e.Description, Matched: []string{}, Differences: []string{}}
	for name, ok := range e.MatchedAttributes {
		if ok {
			out.Matched = append(out.Matched, name)
		} else {
			out.Differences = append(out.Differences, name)
		}
	}
	sort.Strings(out.Matched)
	sort.Strings(out.Differences)
	return out
}

// View is a candidate ready for display.
type View struct {
	types.Candidate
	Score    Score      `json:"score"`
	Evidence []Evidence `json:"evidence"`
}

func Present(c types.Candidate) View {
	v := View{Candidate: c, Score: Aggregate(c.ConfidenceBreakdown), Evidence: make([]Evidence, 0, len(c.SourceEvidence))}
	for _, e := range c.SourceEvidence {
		v.Evidence = append(v.Evidence, Partition(e))
	}
	return v
}

// PresentAll converts recommendations per part id.
func PresentAll(recs map[string][]types.Candidate) map[string][]View {
	out := make(map[string][]View, len(recs))
	for part, cands := range recs {
		views := make([]View, 0, len(cands))
		for _, c := range cands {
			views = append(views, Present(c))
		}
		out[part] = views
	}
	return out
}
