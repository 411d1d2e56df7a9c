package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	return NewStore(clk, time.Hour), clk
}

func laptop(name string) models.DeviceInfo {
	return models.DeviceInfo{DisplayName: name, Kind: models.DeviceKindLaptop}
}

func TestStore_CreateSession(t *testing.T) {
	st, clk := newTestStore(t)

	s, err := st.CreateSession("owner", laptop("Owner laptop"))
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Regexp(t, `^[0-9]{6}$`, s.Code)
	assert.Equal(t, "owner", s.CreatedBy)
	assert.Equal(t, clk.Now(), s.CreatedAt)
	assert.Equal(t, clk.Now().Add(time.Hour), s.ExpiresAt)
	assert.Equal(t, StateActive, s.State())

	owner, ok := s.Owner()
	require.True(t, ok)
	assert.True(t, owner.Online)
	assert.Equal(t, models.DeviceKindLaptop, owner.Kind)

	found, err := st.FindByCode(s.Code)
	require.NoError(t, err)
	assert.Same(t, s, found)

	bound, ok := st.SessionOf("owner")
	require.True(t, ok)
	assert.Same(t, s, bound)
}

func TestStore_CreateSession_CodesAreSixDigits(t *testing.T) {
	st, _ := newTestStore(t)

	for i := 0; i < 200; i++ {
		s, err := st.CreateSession(fmt.Sprintf("dev-%d", i), laptop("d"))
		require.NoError(t, err)
		require.True(t, ValidCode(s.Code), "code %q", s.Code)

		found, err := st.FindByCode(s.Code)
		require.NoError(t, err)
		assert.Equal(t, s.ID, found.ID)
	}
	assert.Equal(t, 200, st.Len())
}

func TestStore_CreateSession_RetriesOnCollision(t *testing.T) {
	st, _ := newTestStore(t)
	codes := []string{"111111", "111111", "111111", "222222"}
	st.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first, err := st.CreateSession("a", laptop("A"))
	require.NoError(t, err)
	second, err := st.CreateSession("b", laptop("B"))
	require.NoError(t, err)

	assert.Equal(t, "111111", first.Code)
	assert.Equal(t, "222222", second.Code)
	assert.Empty(t, codes)
}

func TestStore_CreateSession_CodeSpaceExhausted(t *testing.T) {
	st, _ := newTestStore(t)
	st.newCode = func() (string, error) { return "123456", nil }

	_, err := st.CreateSession("a", laptop("A"))
	require.NoError(t, err)

	_, err = st.CreateSession("b", laptop("B"))
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestStore_CreateSession_ExpiredSessionFreesCode(t *testing.T) {
	st, clk := newTestStore(t)
	st.newCode = func() (string, error) { return "654321", nil }

	old, err := st.CreateSession("a", laptop("A"))
	require.NoError(t, err)

	clk.Add(time.Hour + time.Second)

	fresh, err := st.CreateSession("b", laptop("B"))
	require.NoError(t, err)
	assert.Equal(t, old.Code, fresh.Code)

	found, err := st.FindByCode("654321")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, found.ID)

	// Sweeping the old session must not release the new session's code
	st.Delete(old.ID)
	found, err = st.FindByCode("654321")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, found.ID)
}

func TestStore_CreateSession_RandomSourceError(t *testing.T) {
	st, _ := newTestStore(t)
	st.newCode = func() (string, error) { return "", errors.New("entropy gone") }

	_, err := st.CreateSession("a", laptop("A"))
	assert.EqualError(t, err, "entropy gone")
	assert.Equal(t, 0, st.Len())
}

func TestStore_FindByCode_LazyExpiry(t *testing.T) {
	st, clk := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	clk.Add(time.Hour)
	_, err = st.FindByCode(s.Code)
	assert.NoError(t, err, "still live exactly at expiresAt")

	clk.Add(time.Millisecond)
	_, err = st.FindByCode(s.Code)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Still stored until the sweep removes it
	_, ok := st.Lookup(s.ID)
	assert.True(t, ok)
}

func TestStore_FindByCode_Unknown(t *testing.T) {
	st, _ := newTestStore(t)

	_, err := st.FindByCode("000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AddOrReconnectDevice(t *testing.T) {
	st, clk := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	dev, reconnected, err := st.AddOrReconnectDevice(s.ID, "phone", models.DeviceInfo{DisplayName: "Phone", Kind: models.DeviceKindPhone})
	require.NoError(t, err)
	assert.False(t, reconnected)
	assert.True(t, dev.Online)
	assert.Equal(t, 2, s.DeviceCount())

	_, err = st.MarkOffline(s.ID, "phone")
	require.NoError(t, err)
	assert.Equal(t, 1, s.OnlineCount())

	clk.Add(time.Minute)
	dev, reconnected, err = st.AddOrReconnectDevice(s.ID, "phone", models.DeviceInfo{})
	require.NoError(t, err)
	assert.True(t, reconnected)
	assert.True(t, dev.Online)
	assert.Equal(t, "Phone", dev.DisplayName, "empty info keeps previous name")
	assert.Equal(t, clk.Now(), dev.LastSeen)
	assert.Equal(t, 2, s.DeviceCount())
	assert.Equal(t, 2, s.OnlineCount())
}

func TestStore_AddOrReconnectDevice_Twice(t *testing.T) {
	st, _ := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	_, first, err := st.AddOrReconnectDevice(s.ID, "b", laptop("B"))
	require.NoError(t, err)
	_, second, err := st.AddOrReconnectDevice(s.ID, "b", laptop("B"))
	require.NoError(t, err)

	assert.False(t, first)
	assert.True(t, second)
	assert.Equal(t, 2, s.DeviceCount())
}

func TestStore_AddOrReconnectDevice_UnknownSession(t *testing.T) {
	st, _ := newTestStore(t)

	_, _, err := st.AddOrReconnectDevice("missing", "b", laptop("B"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReturnedDevicesAreCopies(t *testing.T) {
	st, _ := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	dev, _ := s.Device("owner")
	dev.DisplayName = "mutated"

	again, _ := s.Device("owner")
	assert.Equal(t, "O", again.DisplayName)
}

func TestStore_Detach(t *testing.T) {
	st, _ := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)
	_, _, err = st.AddOrReconnectDevice(s.ID, "b", laptop("B"))
	require.NoError(t, err)

	dev, err := st.Detach(s.ID, "b")
	require.NoError(t, err)
	assert.False(t, dev.Online)

	_, ok := st.SessionOf("b")
	assert.False(t, ok)
	assert.True(t, s.HasDevice("b"), "detached devices remain listed offline")

	_, err = st.Detach(s.ID, "stranger")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStore_UpdateDevice(t *testing.T) {
	st, _ := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)

	name := "Work laptop"
	perms := models.PermissionSet{Files: true, Clipboard: true}
	dev, err := st.UpdateDevice(s.ID, "owner", models.DeviceUpdate{DisplayName: &name, Permissions: &perms})
	require.NoError(t, err)

	assert.Equal(t, "Work laptop", dev.DisplayName)
	assert.Equal(t, models.DeviceKindLaptop, dev.Kind)
	assert.True(t, dev.Permissions.Files)
	assert.False(t, dev.Permissions.Media)

	_, err = st.UpdateDevice(s.ID, "stranger", models.DeviceUpdate{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStore_RemoveSessionIfEmpty(t *testing.T) {
	st, _ := newTestStore(t)
	s, err := st.CreateSession("owner", laptop("O"))
	require.NoError(t, err)
	_, _, err = st.AddOrReconnectDevice(s.ID, "b", laptop("B"))
	require.NoError(t, err)

	_, err = st.MarkOffline(s.ID, "b")
	require.NoError(t, err)
	assert.False(t, st.RemoveSessionIfEmpty(s.ID))

	_, err = st.MarkOffline(s.ID, "owner")
	require.NoError(t, err)
	assert.True(t, st.RemoveSessionIfEmpty(s.ID))

	assert.Equal(t, 0, st.Len())
	_, err = st.FindByCode(s.Code)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := st.SessionOf("b")
	assert.False(t, ok)

	assert.False(t, st.RemoveSessionIfEmpty(s.ID))
}

func TestStore_Expired(t *testing.T) {
	st, clk := newTestStore(t)
	early, err := st.CreateSession("a", laptop("A"))
	require.NoError(t, err)

	clk.Add(30 * time.Minute)
	late, err := st.CreateSession("b", laptop("B"))
	require.NoError(t, err)

	assert.Empty(t, st.Expired(clk.Now()))

	clk.Add(31 * time.Minute)
	expired := st.Expired(clk.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, early.ID, expired[0].ID)

	clk.Add(time.Hour)
	expired = st.Expired(clk.Now())
	require.Len(t, expired, 2)
	assert.Equal(t, late.ID, expired[1].ID)
}

func TestStore_All(t *testing.T) {
	st, clk := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := st.CreateSession(id, laptop(id))
		require.NoError(t, err)
		clk.Add(time.Second)
	}

	all := st.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].CreatedBy)
	assert.Equal(t, "c", all[2].CreatedBy)
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("000000"))
	assert.True(t, ValidCode("482913"))
	assert.False(t, ValidCode("48291"))
	assert.False(t, ValidCode("4829134"))
	assert.False(t, ValidCode("48a913"))
	assert.False(t, ValidCode(""))
}
