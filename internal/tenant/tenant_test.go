package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroContextHasNoTenant(t *testing.T) {
	var c Context
	_, err := c.Current()
	assert.ErrorIs(t, err, ErrNoTenant)
	assert.False(t, c.Valid(Tag{}))
}

func TestSwitchInvalidatesOldTags(t *testing.T) {
	c := New("acme")
	old, err := c.Current()
	require.NoError(t, err)
	assert.True(t, c.Valid(old))

	c.Switch("globex")
	assert.False(t, c.Valid(old))

	// switching back to the same id still invalidates earlier captures
	back := c.Switch("acme")
	assert.False(t, c.Valid(old))
	assert.True(t, c.Valid(back))
	assert.Equal(t, "acme", c.ID())
}

func TestOnSwitchHook(t *testing.T) {
	c := New("")
	var seen []Tag
	c.OnSwitch(func(tag Tag) { seen = append(seen, tag) })

	c.Switch("a")
	c.Switch("b")

	require.Len(t, seen, 2)
	assert.Equal(t, "b", seen[1].ID)
	assert.Greater(t, seen[1].Generation, seen[0].Generation)
}
