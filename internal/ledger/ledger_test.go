package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/types"
)

type fakeApprover struct {
	calls int
	got   []string
	err   error
}

func (f *fakeApprover) ApproveJobRows(_ context.Context, _ string, ids []string) (*types.ApproveResponse, error) {
	f.calls++
	f.got = ids
	if f.err != nil {
		return nil, f.err
	}
	return &types.ApproveResponse{ApprovedCount: len(ids)}, nil
}

func rows(n int, stable bool) []types.Row {
	out := make([]types.Row, n)
	for i := range out {
		out[i] = types.Row{"part": fmt.Sprintf("P%d", i)}
		if stable {
			out[i][StableKey] = fmt.Sprintf("nr-%d", i)
		}
	}
	return out
}

func TestIdentityDerivation(t *testing.T) {
	l := New(0)
	assert.Equal(t, DefaultWindow, l.Window())

	s := l.IDFor(Original, 3, types.Row{StableKey: "abc"})
	assert.False(t, s.IsProvisional())
	assert.Equal(t, "abc", s.String())

	n := l.IDFor(Original, 3, types.Row{StableKey: float64(42)})
	assert.Equal(t, "42", n.String())

	p := l.IDFor(AIGenerated, 7, types.Row{StableKey: ""})
	assert.True(t, p.IsProvisional())
	assert.Equal(t, "ai_7", p.String())
}

func TestSharedSetAcrossCollections(t *testing.T) {
	l := New(10)
	a := l.IDFor(Original, 0, types.Row{})
	b := l.IDFor(AIGenerated, 0, types.Row{})
	assert.NotEqual(t, a, b)

	on, err := l.Toggle(a)
	require.NoError(t, err)
	assert.True(t, on)
	_, err = l.Toggle(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"ai_0", "original_0"}, l.Selected())

	on, err = l.Toggle(a)
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, l.IsSelected(a))
	assert.True(t, l.IsSelected(b))
}

func TestSelectWindowNeverReachesPastWindow(t *testing.T) {
	l := New(100)
	all := rows(150, false)

	assert.Equal(t, 100, l.SelectWindow(Original, all))
	assert.Equal(t, 100, l.Len())
	assert.True(t, l.IsSelected(l.IDFor(Original, 99, all[99])))
	for i := 100; i < 150; i++ {
		assert.False(t, l.IsSelected(l.IDFor(Original, i, all[i])), "row %d", i)
	}
}

func TestToggleWindow(t *testing.T) {
	l := New(2)
	all := rows(3, true)
	outside := l.IDFor(Original, 2, all[2])
	_, err := l.Toggle(outside)
	require.NoError(t, err)
	_, err = l.Toggle(l.IDFor(Original, 0, all[0]))
	require.NoError(t, err)

	assert.True(t, l.ToggleWindow(Original, all))
	assert.Equal(t, []string{"nr-0", "nr-1", "nr-2"}, l.Selected())

	assert.False(t, l.ToggleWindow(Original, all))
	assert.Equal(t, []string{"nr-2"}, l.Selected())
}

func TestRebindDropsProvisionalIDs(t *testing.T) {
	l := New(10)
	prov := l.IDFor(Original, 0, types.Row{})
	stable := l.IDFor(Original, 1, types.Row{StableKey: "keep"})
	l.SelectAll([]RowID{prov, stable})

	l.Rebind()
	assert.Equal(t, []string{"keep"}, l.Selected())

	_, err := l.Toggle(prov)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, l.SelectAll([]RowID{prov}))

	fresh := l.IDFor(Original, 0, types.Row{})
	assert.NotEqual(t, prov, fresh)
	assert.Equal(t, prov.String(), fresh.String())
}

func TestApprove(t *testing.T) {
	t.Run("empty selection stays local", func(t *testing.T) {
		a := &fakeApprover{}
		_, err := New(0).Approve(context.Background(), a, "job-1")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Zero(t, a.calls)
	})

	t.Run("success clears", func(t *testing.T) {
		l := New(0)
		l.SelectWindow(AIGenerated, rows(3, true))
		a := &fakeApprover{}

		resp, err := l.Approve(context.Background(), a, "job-1")
		require.NoError(t, err)
		assert.Equal(t, 3, resp.ApprovedCount)
		assert.Equal(t, []string{"nr-0", "nr-1", "nr-2"}, a.got)
		assert.Zero(t, l.Len())
	})

	t.Run("failure keeps selection", func(t *testing.T) {
		l := New(0)
		l.SelectWindow(Original, rows(2, false))
		a := &fakeApprover{err: apperr.Remote(500, "", errors.New("boom"))}

		_, err := l.Approve(context.Background(), a, "job-1")
		assert.ErrorIs(t, err, apperr.ErrRemoteFailure)
		assert.Equal(t, 2, l.Len())
	})
}

func TestToggleAtRejectsEarlierGeneration(t *testing.T) {
	l := New(10)
	gen := l.Generation()
	seen := []types.Row{{StableKey: "A"}, {StableKey: "B"}}

	// a refetch reorders the rows; index 0 of the old view was A
	l.Rebind()
	current := []types.Row{seen[1], seen[0]}
	_, _, err := l.ToggleAt(Original, 0, current[0], gen)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = l.ToggleAt(Original, 2, types.Row{}, gen)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, l.Len())

	id, on, err := l.ToggleAt(Original, 1, current[1], l.Generation())
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, Stable("A"), id)

	id, on, err = l.ToggleAt(Original, 2, types.Row{}, l.Generation())
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, l.IDFor(Original, 2, types.Row{}), id)
	assert.Equal(t, []string{"A", "original_2"}, l.Selected())

	_, on, err = l.ToggleAt(Original, 1, current[1], l.Generation())
	require.NoError(t, err)
	assert.False(t, on)
}
