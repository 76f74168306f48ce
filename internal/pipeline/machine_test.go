package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/fitment-ingest/internal/apperr"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func completeThrough(t *testing.T, m *Machine, last Stage) {
	t.Helper()
	m.SetUploadID("up-1")
	for s := StageUpload; s <= last; s++ {
		require.NoError(t, m.Enter(s))
		require.NoError(t, m.Advance(s, Outcome{Message: s.String() + " done"}))
	}
}

func TestEnterRequiresCompletedPredecessors(t *testing.T) {
	m := NewMachine(fixedClock())
	assert.ErrorIs(t, m.Enter(StageTransform), apperr.ErrSequenceViolation)

	m.SetUploadID("up-1")
	require.NoError(t, m.Enter(StageUpload))
	require.NoError(t, m.Advance(StageUpload, Outcome{}))
	assert.ErrorIs(t, m.Enter(StageTransform), apperr.ErrSequenceViolation)

	require.NoError(t, m.Enter(StageAIMapping))
	require.NoError(t, m.Advance(StageAIMapping, Outcome{Err: errors.New("mapping service down")}))
	assert.ErrorIs(t, m.Enter(StageTransform), apperr.ErrSequenceViolation)
	assert.Equal(t, StatusError, m.Status(StageAIMapping))
	assert.Equal(t, "mapping service down", m.State(StageAIMapping).Message)
}

func TestAIMappingNeedsUploadID(t *testing.T) {
	m := NewMachine(nil)
	require.NoError(t, m.Enter(StageUpload))
	require.NoError(t, m.Advance(StageUpload, Outcome{}))

	err := m.Enter(StageAIMapping)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, StatusPending, m.Status(StageAIMapping))
}

func TestOnlyOneStageInProgress(t *testing.T) {
	m := NewMachine(nil)
	completeThrough(t, m, StageAIMapping)
	require.NoError(t, m.Enter(StageTransform))

	assert.ErrorIs(t, m.Enter(StageTransform), apperr.ErrSequenceViolation)
	assert.ErrorIs(t, m.Enter(StageUpload), apperr.ErrSequenceViolation)
	active, ok := m.Active()
	assert.True(t, ok)
	assert.Equal(t, StageTransform, active)
}

func TestReenterResetsOnlyThatStage(t *testing.T) {
	m := NewMachine(fixedClock())
	completeThrough(t, m, StageReview)
	before := m.Snapshot()

	require.NoError(t, m.Enter(StageTransform))
	after := m.Snapshot()

	assert.Equal(t, StatusInProgress, after[StageTransform].Status)
	assert.Empty(t, after[StageTransform].Message)
	for _, s := range []Stage{StageUpload, StageAIMapping, StageValidate, StageReview} {
		assert.Equal(t, before[s], after[s], s.String())
	}
}

func TestAdvanceOutOfOrder(t *testing.T) {
	m := NewMachine(nil)
	assert.ErrorIs(t, m.Advance(StageUpload, Outcome{}), apperr.ErrSequenceViolation)
	completeThrough(t, m, StageUpload)
	assert.ErrorIs(t, m.Advance(StageUpload, Outcome{}), apperr.ErrSequenceViolation)
}

func TestRevertRestoresPreviousState(t *testing.T) {
	m := NewMachine(fixedClock())
	completeThrough(t, m, StageTransform)
	prev := m.State(StageTransform)

	require.NoError(t, m.Enter(StageTransform))
	require.NoError(t, m.Revert(StageTransform, prev))
	assert.Equal(t, prev, m.State(StageTransform))
	assert.ErrorIs(t, m.Revert(StageTransform, prev), apperr.ErrSequenceViolation)
}

func TestRestore(t *testing.T) {
	m := NewMachine(nil)
	completeThrough(t, m, StageValidate)

	n := NewMachine(nil)
	require.NoError(t, n.Restore(m.Snapshot(), m.UploadID()))
	assert.Equal(t, m.Snapshot(), n.Snapshot())
	assert.Equal(t, "up-1", n.UploadID())

	bad := m.Snapshot()
	bad[0].Status, bad[1].Status = StatusInProgress, StatusInProgress
	assert.ErrorIs(t, n.Restore(bad, ""), apperr.ErrSequenceViolation)
	assert.Error(t, n.Restore(bad[:2], ""))
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("validate")
	require.NoError(t, err)
	assert.Equal(t, StageValidate, s)

	s, err = ParseStage("2")
	require.NoError(t, err)
	assert.Equal(t, StageTransform, s)

	_, err = ParseStage("publish")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
