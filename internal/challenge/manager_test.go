package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IssueSingleLive(t *testing.T) {
	m := NewManager()

	ch, err := m.Issue("p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", ch.ID)
	assert.Same(t, ch, m.Current())
	assert.True(t, m.IsLive(ch))

	_, err = m.Issue("p2")
	assert.ErrorIs(t, err, ErrChallengeLive)
	assert.Same(t, ch, m.Current(), "failed issue must not replace the live challenge")
}

func TestManager_IssueEmptyID(t *testing.T) {
	m := NewManager()
	_, err := m.Issue("")
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.Nil(t, m.Current())
}

func TestManager_Supersede(t *testing.T) {
	m := NewManager()
	old, err := m.Issue("p1")
	require.NoError(t, err)

	next, err := m.Supersede(old, "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", next.ID)
	assert.Greater(t, next.IssuedAt, old.IssuedAt)
	assert.False(t, m.IsLive(old))
	assert.True(t, m.IsLive(next))

	// The old reference is dead for good.
	_, err = m.Supersede(old, "p3")
	assert.ErrorIs(t, err, ErrStaleChallenge)
	assert.ErrorIs(t, m.Retire(old), ErrStaleChallenge)
	assert.Same(t, next, m.Current())
}

func TestManager_SupersedeRequiresLive(t *testing.T) {
	m := NewManager()
	_, err := m.Supersede(nil, "p2")
	assert.ErrorIs(t, err, ErrStaleChallenge)

	ch, err := m.Issue("p1")
	require.NoError(t, err)
	_, err = m.Supersede(ch, "")
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.True(t, m.IsLive(ch))
}

func TestManager_Retire(t *testing.T) {
	m := NewManager()
	ch, err := m.Issue("p1")
	require.NoError(t, err)

	require.NoError(t, m.Retire(ch))
	assert.Nil(t, m.Current())
	assert.ErrorIs(t, m.Retire(ch), ErrStaleChallenge)

	// A fresh issue is allowed once nothing is live.
	again, err := m.Issue("p1")
	require.NoError(t, err)
	assert.NotSame(t, ch, again)
	assert.False(t, m.IsLive(ch), "same id, different issuance")
}

func TestManager_Reset(t *testing.T) {
	m := NewManager()
	ch, err := m.Issue("p1")
	require.NoError(t, err)

	m.Reset()
	assert.Nil(t, m.Current())
	assert.False(t, m.IsLive(ch))
	assert.False(t, m.IsLive(nil))
}

func TestManager_LogicalClockMonotonic(t *testing.T) {
	m := NewManager()
	var last uint64
	for i := 0; i < 5; i++ {
		ch, err := m.Issue("p")
		require.NoError(t, err)
		assert.Greater(t, ch.IssuedAt, last)
		last = ch.IssuedAt
		require.NoError(t, m.Retire(ch))
	}
}
