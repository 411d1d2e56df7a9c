package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff-relay/handoff/internal/pkg/models"
	"github.com/handoff-relay/handoff/internal/session"
)

func TestSessionCreate(t *testing.T) {
	r := setupTestRelay(t)

	t.Run("owner receives code and expiry", func(t *testing.T) {
		c, _ := r.connect(t, "laptop-1")

		created := r.createSession(t, c, "Laptop")
		assert.True(t, session.ValidCode(created.Code))
		assert.NotEmpty(t, created.SessionID)
		assert.Equal(t, testEpoch.Add(time.Hour), created.ExpiresAt)
		expectNone(t, c)
	})

	t.Run("display name is required", func(t *testing.T) {
		c, _ := r.connect(t, "laptop-2")

		r.send(t, c, models.TypeSessionCreate, models.SessionCreatePayload{})
		p := expectError(t, c, CodeValidation)
		assert.Equal(t, models.TypeSessionCreate, p.RequestType)
	})

	t.Run("missing payload", func(t *testing.T) {
		c, _ := r.connect(t, "laptop-3")

		r.send(t, c, models.TypeSessionCreate, nil)
		expectError(t, c, CodeValidation)
	})

	t.Run("unknown device kind", func(t *testing.T) {
		c, _ := r.connect(t, "laptop-4")

		r.send(t, c, models.TypeSessionCreate, models.SessionCreatePayload{
			Device: models.DeviceInfo{DisplayName: "Laptop", Kind: "toaster"},
		})
		expectError(t, c, CodeValidation)
	})
}

func TestSessionJoin(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")

	joined := r.joinSession(t, b, created.Code, "Phone")
	assert.Equal(t, created.SessionID, joined.SessionID)
	assert.Equal(t, "A", joined.CreatedBy)
	require.Len(t, joined.Devices, 2)
	assert.Equal(t, "A", joined.Devices[0].ID)
	assert.Equal(t, "B", joined.Devices[1].ID)
	assert.True(t, joined.Devices[1].Online)

	ev := payloadOf[models.DeviceEvent](t, expectType(t, a, models.TypeDeviceConnected))
	assert.Equal(t, "B", ev.Device.ID)
	assert.Equal(t, "Phone", ev.Device.DisplayName)
	expectNone(t, b)

	t.Run("unknown code", func(t *testing.T) {
		c, _ := r.connect(t, "C")
		code := "000000"
		if created.Code == code {
			code = "000001"
		}
		r.send(t, c, models.TypeSessionJoin, models.SessionJoinPayload{
			Code:   code,
			Device: models.DeviceInfo{DisplayName: "Tablet"},
		})
		expectError(t, c, CodeSessionNotFound)
	})

	t.Run("malformed code", func(t *testing.T) {
		c, _ := r.connect(t, "D")
		r.send(t, c, models.TypeSessionJoin, models.SessionJoinPayload{
			Code:   "12ab56",
			Device: models.DeviceInfo{DisplayName: "Tablet"},
		})
		expectError(t, c, CodeValidation)
	})

	t.Run("no code and no session id", func(t *testing.T) {
		c, _ := r.connect(t, "E")
		r.send(t, c, models.TypeSessionJoin, nil)
		expectError(t, c, CodeValidation)
	})

	t.Run("new member needs a display name", func(t *testing.T) {
		c, _ := r.connect(t, "F")
		r.send(t, c, models.TypeSessionJoin, models.SessionJoinPayload{Code: created.Code})
		expectError(t, c, CodeValidation)
	})
}

func TestRejoinIsIdempotent(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")

	r.joinSession(t, b, created.Code, "Phone")
	joined := r.joinSession(t, b, created.Code, "Phone")
	assert.Len(t, joined.Devices, 2)

	detail, err := r.SessionDetail(context.Background(), created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.DeviceCount)
	assert.Equal(t, 2, detail.OnlineCount)
}

func TestRejoinBySessionIDWithoutPayload(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	drain(a)

	r.disconnect(t, b)
	expectType(t, a, models.TypeDeviceDisconnected)

	b2, _ := r.connect(t, "B")
	r.sendMessage(t, b2, &models.Message{Type: models.TypeSessionJoin, SessionID: created.SessionID})
	joined := payloadOf[models.SessionJoined](t, expectType(t, b2, models.TypeSessionJoined))
	require.Len(t, joined.Devices, 2)
	assert.Equal(t, "Phone", joined.Devices[1].DisplayName)

	ev := payloadOf[models.DeviceEvent](t, expectType(t, a, models.TypeDeviceConnected))
	assert.True(t, ev.Device.Online)
}

func TestOwnerGraceReconnect(t *testing.T) {
	r := setupTestRelay(t)
	ctx := context.Background()

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	drain(a)

	r.disconnect(t, a)
	gone := payloadOf[models.DeviceDisconnected](t, expectType(t, b, models.TypeDeviceDisconnected))
	assert.Equal(t, "A", gone.DeviceID)
	assert.False(t, gone.Left)

	detail, err := r.SessionDetail(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "owner_grace_wait", detail.State)
	require.NotNil(t, detail.GraceDeadline)
	assert.Equal(t, testEpoch.Add(30*time.Second), *detail.GraceDeadline)

	r.mock.Add(10 * time.Second)

	a2, _ := r.connect(t, "A")
	r.sendMessage(t, a2, &models.Message{Type: models.TypeSessionJoin, SessionID: created.SessionID})
	expectType(t, a2, models.TypeSessionJoined)
	expectType(t, b, models.TypeDeviceConnected)

	detail, err = r.SessionDetail(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "active", detail.State)
	assert.Nil(t, detail.GraceDeadline)

	// The cancelled timer must never fire
	r.mock.Add(time.Minute)
	r.run(t, func() {})
	expectNone(t, b)
	expectNone(t, a2)
}

func TestOwnerTimeout(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	c, _ := r.connect(t, "C")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	r.joinSession(t, c, created.Code, "Tablet")
	drain(a)
	drain(b)

	r.disconnect(t, a)
	expectType(t, b, models.TypeDeviceDisconnected)
	expectType(t, c, models.TypeDeviceDisconnected)

	r.mock.Add(29 * time.Second)
	r.run(t, func() {})
	expectNone(t, b)

	r.mock.Add(time.Second)
	for _, conn := range []*Conn{b, c} {
		env := await(t, conn, models.TypeSessionExpired)
		assert.Equal(t, created.SessionID, env.SessionID)
		assert.Equal(t, models.ExpiryOwnerTimeout, payloadOf[models.SessionExpired](t, env).Reason)
		assert.True(t, flushed(conn))
	}

	_, err := r.SessionDetail(context.Background(), created.SessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	// Exactly once
	r.mock.Add(time.Minute)
	r.run(t, func() {})
	expectNone(t, b)
	expectNone(t, c)
}

func TestOwnerLeaveEndsSessionImmediately(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	drain(a)

	start := r.mock.Now()
	r.send(t, a, models.TypeSessionLeave, nil)

	env := expectType(t, b, models.TypeSessionExpired)
	assert.Equal(t, models.ExpiryOwnerLeft, payloadOf[models.SessionExpired](t, env).Reason)
	assert.Equal(t, start, r.mock.Now())
	assert.True(t, flushed(b))

	// The owner is told too but keeps its connection
	expectType(t, a, models.TypeSessionExpired)
	assert.False(t, flushed(a))

	_, err := r.SessionDetail(context.Background(), created.SessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	// A later session_join with the old code fails
	r.send(t, a, models.TypeSessionJoin, models.SessionJoinPayload{
		Code:   created.Code,
		Device: models.DeviceInfo{DisplayName: "Laptop"},
	})
	expectError(t, a, CodeSessionNotFound)
}

func TestMemberLeave(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	drain(a)

	r.send(t, b, models.TypeSessionLeave, nil)
	gone := payloadOf[models.DeviceDisconnected](t, expectType(t, a, models.TypeDeviceDisconnected))
	assert.Equal(t, "B", gone.DeviceID)
	assert.True(t, gone.Left)
	expectNone(t, b)

	t.Run("left device can no longer route", func(t *testing.T) {
		r.send(t, b, models.TypeIntentSend, linkOpen(t, "A", "https://example.com"))
		expectError(t, b, CodeSessionNotFound)
	})

	t.Run("leave without a session", func(t *testing.T) {
		r.send(t, b, models.TypeSessionLeave, nil)
		expectError(t, b, CodeSessionNotFound)
	})
}

func TestJoiningAnotherSessionLeavesTheFirst(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	first := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, first.Code, "Phone")
	drain(a)

	second := r.createSession(t, b, "Phone")
	assert.NotEqual(t, first.SessionID, second.SessionID)

	gone := payloadOf[models.DeviceDisconnected](t, expectType(t, a, models.TypeDeviceDisconnected))
	assert.Equal(t, "B", gone.DeviceID)
	assert.True(t, gone.Left)

	detail, err := r.SessionDetail(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.OnlineCount)
}

func TestLastDeviceOfflineRemovesSession(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	created := r.createSession(t, a, "Laptop")

	r.disconnect(t, a)

	_, err := r.SessionDetail(context.Background(), created.SessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	// The code is released with the session
	_, err = r.LookupCode(context.Background(), created.Code)
	assert.ErrorIs(t, err, session.ErrNotFound)

	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.Connections)

	// No grace timer was left behind
	r.run(t, func() { assert.Empty(t, r.timers) })
}

func TestTTLSweep(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	drain(a)

	r.mock.Add(59 * time.Minute)
	r.run(t, r.sweep)
	expectNone(t, a)

	r.mock.Add(time.Minute + 10*time.Second)
	r.run(t, r.sweep)
	for _, conn := range []*Conn{a, b} {
		env := expectType(t, conn, models.TypeSessionExpired)
		assert.Equal(t, models.ExpiryTTL, payloadOf[models.SessionExpired](t, env).Reason)
		expectNone(t, conn)
	}

	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Sessions)
}

func TestDuplicateConnectionSupersedesOld(t *testing.T) {
	r := setupTestRelay(t)

	a, oldWS := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	drain(a)

	a2, _ := r.connect(t, "A")
	assert.True(t, oldWS.isClosed())

	// The stale connection's detach must not mark the owner offline
	r.run(t, func() { r.detach(a) })
	expectNone(t, b)

	detail, err := r.SessionDetail(context.Background(), created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "active", detail.State)

	r.send(t, b, models.TypeIntentSend, linkOpen(t, "A", "https://example.com"))
	expectType(t, a2, models.TypeIntentReceived)
}

func TestStopExpiresSessionsWithShutdown(t *testing.T) {
	r := setupTestRelay(t)

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	drain(a)

	require.NoError(t, r.Stop())

	for _, conn := range []*Conn{a, b} {
		env := expectType(t, conn, models.TypeSessionExpired)
		assert.Equal(t, models.ExpiryShutdown, payloadOf[models.SessionExpired](t, env).Reason)
		assert.True(t, flushed(conn))
	}

	assert.ErrorIs(t, r.Do(context.Background(), func() {}), ErrStopped)
}

func TestHistoryRecording(t *testing.T) {
	h := &fakeHistory{}
	r := setupTestRelay(t, WithHistory(h))

	a, _ := r.connect(t, "A")
	b, _ := r.connect(t, "B")
	created := r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")

	r.send(t, a, models.TypeSessionLeave, nil)

	require.Len(t, h.started, 1)
	assert.Equal(t, created.SessionID, h.started[0].ID)
	assert.Equal(t, created.Code, h.started[0].Code)
	assert.Equal(t, "A", h.started[0].CreatedBy)

	require.Len(t, h.ended, 1)
	assert.Equal(t, created.SessionID, h.ended[0].id)
	assert.Equal(t, models.ExpiryOwnerLeft, h.ended[0].reason)
	assert.Equal(t, 2, h.ended[0].devices)
}

// fakeHistory is only touched from the event loop
type fakeHistory struct {
	started []models.SessionRecord
	ended   []endedRecord
}

type endedRecord struct {
	id      string
	reason  string
	devices int
}

func (f *fakeHistory) SessionStarted(rec models.SessionRecord) {
	f.started = append(f.started, rec)
}

func (f *fakeHistory) SessionEnded(id string, endedAt time.Time, reason string, deviceCount int) {
	f.ended = append(f.ended, endedRecord{id: id, reason: reason, devices: deviceCount})
}
