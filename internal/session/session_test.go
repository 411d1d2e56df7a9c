package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_StateTransitions(t *testing.T) {
	st, clk := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	_, inGrace := s.GraceDeadline()
	assert.False(t, inGrace)

	deadline := clk.Now().Add(30 * time.Second)
	require.NoError(t, s.EnterOwnerGrace(deadline))
	assert.Equal(t, StateOwnerGraceWait, s.State())

	got, inGrace := s.GraceDeadline()
	assert.True(t, inGrace)
	assert.Equal(t, deadline, got)

	var terr *TransitionError
	err = s.EnterOwnerGrace(deadline)
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StateOwnerGraceWait, terr.From)

	require.NoError(t, s.ResumeActive())
	assert.Equal(t, StateActive, s.State())
	assert.Error(t, s.ResumeActive())

	require.NoError(t, s.Expire())
	assert.Equal(t, StateExpired, s.State())
	assert.True(t, s.IsExpired(clk.Now()))

	assert.Error(t, s.Expire())
	assert.Error(t, s.EnterOwnerGrace(deadline))
	assert.Error(t, s.ResumeActive())
}

func TestSession_ExpireFromGrace(t *testing.T) {
	st, clk := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	require.NoError(t, s.EnterOwnerGrace(clk.Now().Add(time.Second)))
	require.NoError(t, s.Expire())

	_, inGrace := s.GraceDeadline()
	assert.False(t, inGrace)
}

func TestSession_ExpiredStateHidesSession(t *testing.T) {
	st, _ := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	require.NoError(t, s.Expire())

	_, err = st.FindByCode(s.Code)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "owner_grace_wait", StateOwnerGraceWait.String())
	assert.Equal(t, "expired", StateExpired.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestSession_DevicesOrderedByJoin(t *testing.T) {
	st, clk := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	clk.Add(time.Second)
	_, _, err = st.AddOrReconnectDevice(s.ID, "b", laptop("B"))
	require.NoError(t, err)
	clk.Add(time.Second)
	_, _, err = st.AddOrReconnectDevice(s.ID, "a", laptop("A"))
	require.NoError(t, err)

	devices := s.Devices()
	require.Len(t, devices, 3)
	assert.Equal(t, "owner", devices[0].ID)
	assert.Equal(t, "b", devices[1].ID)
	assert.Equal(t, "a", devices[2].ID)

	assert.Equal(t, []string{"a", "b", "owner"}, s.OnlineDeviceIDs())
	assert.True(t, s.IsOwner("owner"))
	assert.False(t, s.IsOwner("a"))
}
