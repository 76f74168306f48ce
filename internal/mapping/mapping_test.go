package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/types"
)

func suggestions() []types.MappingSuggestion {
	return []types.MappingSuggestion{
		{Source: "Part #", Target: "part_id", Confidence: 0.98},
		{Source: "Make", Target: "make", Confidence: 0.90},
		{Source: "Mdl", Target: "model", Confidence: 0.95},
		{Source: "Yr", Target: "year", Confidence: 0.89},
		{Source: "Notes", Target: "", Confidence: 0.12},
	}
}

func TestClassifyThreshold(t *testing.T) {
	s := NewSet(suggestions())
	for _, m := range s.All() {
		assert.Equal(t, m.Confidence >= AutoThreshold, m.Status == StatusAuto, m.Source)
	}
	auto, manual, pending := s.Counts()
	assert.Equal(t, 3, auto)
	assert.Equal(t, 0, manual)
	assert.Equal(t, 2, pending)
}

func TestOverridesNeverTouchConfidence(t *testing.T) {
	s := NewSet(suggestions())

	m, err := s.Accept("Notes")
	require.NoError(t, err)
	assert.Equal(t, StatusAuto, m.Status)
	assert.Equal(t, 0.12, m.Confidence)

	m, err = s.Reject("Part #")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, 0.98, m.Confidence)

	m, err = s.Retarget("Yr", "year_start")
	require.NoError(t, err)
	assert.Equal(t, StatusManual, m.Status)
	assert.Equal(t, "year_start", m.Target)
	assert.Equal(t, 0.89, m.Confidence)

	got := s.Suggestions()
	assert.Equal(t, "year_start", got[3].Target)
	assert.Equal(t, 0.89, got[3].Confidence)
}

func TestUnknownColumnAndEmptyTarget(t *testing.T) {
	s := NewSet(suggestions())
	_, err := s.Accept("Colour")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Retarget("Make", "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	m, _ := s.Get("Make")
	assert.Equal(t, "make", m.Target)
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSet(suggestions())
	cp := s.Clone()
	_, err := cp.Reject("Make")
	require.NoError(t, err)

	orig, _ := s.Get("Make")
	assert.Equal(t, StatusAuto, orig.Status)
}
