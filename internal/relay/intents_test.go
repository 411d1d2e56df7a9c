package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

func linkOpen(t *testing.T, target, url string) models.IntentSendPayload {
	t.Helper()
	return models.IntentSendPayload{Intent: models.Intent{
		Type:         models.IntentLinkOpen,
		TargetDevice: target,
		AutoOpen:     true,
		Payload:      rawJSON(t, models.LinkOpenPayload{URL: url}),
	}}
}

// pair creates a session owned by A and joined by B with all queues empty
func pair(t *testing.T, r *testRelay) (a, b *Conn, created models.SessionCreated) {
	t.Helper()
	a, _ = r.connect(t, "A")
	b, _ = r.connect(t, "B")
	created = r.createSession(t, a, "Laptop")
	r.joinSession(t, b, created.Code, "Phone")
	drain(a)
	return a, b, created
}

func TestIntentSend(t *testing.T) {
	r := setupTestRelay(t)
	a, b, created := pair(t, r)

	r.send(t, a, models.TypeIntentSend, linkOpen(t, "B", "https://example.com"))

	env := expectType(t, b, models.TypeIntentReceived)
	assert.Equal(t, created.SessionID, env.SessionID)
	got := payloadOf[models.IntentReceived](t, env)
	assert.Equal(t, "A", got.SourceDevice)
	assert.Equal(t, models.IntentLinkOpen, got.Intent.Type)
	assert.Equal(t, "A", got.Intent.SourceDevice)
	assert.Equal(t, "B", got.Intent.TargetDevice)
	assert.NotEmpty(t, got.Intent.ID)
	assert.Equal(t, testEpoch.UnixMilli(), got.Intent.Timestamp)
	assert.True(t, got.Intent.AutoOpen)

	var link models.LinkOpenPayload
	require.NoError(t, json.Unmarshal(got.Intent.Payload, &link))
	assert.Equal(t, "https://example.com", link.URL)

	sent := payloadOf[models.IntentSent](t, expectType(t, a, models.TypeIntentSent))
	assert.Equal(t, got.Intent.ID, sent.IntentID)
	assert.Equal(t, "B", sent.TargetDevice)
	expectNone(t, a)
}

func TestIntentSendErrors(t *testing.T) {
	r := setupTestRelay(t)
	a, b, _ := pair(t, r)

	t.Run("target outside the session", func(t *testing.T) {
		r.send(t, a, models.TypeIntentSend, linkOpen(t, "stranger", "https://example.com"))
		expectError(t, a, CodeForbidden)
	})

	t.Run("missing target", func(t *testing.T) {
		r.send(t, a, models.TypeIntentSend, linkOpen(t, "", "https://example.com"))
		expectError(t, a, CodeValidation)
	})

	t.Run("invalid variant payload", func(t *testing.T) {
		r.send(t, a, models.TypeIntentSend, linkOpen(t, "B", ""))
		expectError(t, a, CodeValidation)
	})

	t.Run("unknown intent type", func(t *testing.T) {
		r.send(t, a, models.TypeIntentSend, models.IntentSendPayload{Intent: models.Intent{
			Type:         "teleport",
			TargetDevice: "B",
		}})
		expectError(t, a, CodeValidation)
	})

	t.Run("target is the sender", func(t *testing.T) {
		r.send(t, a, models.TypeIntentSend, linkOpen(t, "A", "https://example.com"))
		expectError(t, a, CodeValidation)
		expectNone(t, a)
	})

	t.Run("sender without a session", func(t *testing.T) {
		c, _ := r.connect(t, "C")
		r.send(t, c, models.TypeIntentSend, linkOpen(t, "B", "https://example.com"))
		expectError(t, c, CodeSessionNotFound)
	})

	t.Run("offline target", func(t *testing.T) {
		r.disconnect(t, b)
		drain(a)

		r.send(t, a, models.TypeIntentSend, linkOpen(t, "B", "https://example.com"))
		expectError(t, a, CodeTargetUnreachable)
	})
}

func TestIntentResponseReachesSender(t *testing.T) {
	r := setupTestRelay(t)
	a, b, _ := pair(t, r)

	r.send(t, b, models.TypeIntentRejected, models.IntentResponsePayload{
		IntentID:     "intent-1",
		IntentType:   models.IntentLinkOpen,
		TargetDevice: "A",
		Reason:       "busy",
	})

	env := expectType(t, a, models.TypeIntentRejected)
	resp := payloadOf[models.IntentResponsePayload](t, env)
	assert.Equal(t, "B", resp.FromDevice)
	assert.Equal(t, "intent-1", resp.IntentID)
	assert.Equal(t, "busy", resp.Reason)
	expectNone(t, b)

	r.send(t, b, models.TypeIntentAccepted, models.IntentResponsePayload{IntentID: "intent-2"})
	expectError(t, b, CodeValidation)
}

func TestClipboardBroadcast(t *testing.T) {
	r := setupTestRelay(t)
	a, b, created := pair(t, r)
	c, _ := r.connect(t, "C")
	r.joinSession(t, c, created.Code, "Tablet")
	drain(a)
	drain(b)

	r.send(t, a, models.TypeClipboardBroadcast, models.ClipboardBroadcastPayload{Text: "hello"})

	for _, conn := range []*Conn{b, c} {
		got := payloadOf[models.IntentReceived](t, expectType(t, conn, models.TypeIntentReceived))
		assert.Equal(t, models.IntentClipboardSync, got.Intent.Type)
		assert.Equal(t, conn.DeviceID(), got.Intent.TargetDevice)

		var clip models.ClipboardSyncPayload
		require.NoError(t, json.Unmarshal(got.Intent.Payload, &clip))
		assert.Equal(t, "hello", clip.Text)
	}

	result := payloadOf[models.BroadcastResult](t, expectType(t, a, models.TypeClipboardBroadcastSent))
	assert.Equal(t, 2, result.DevicesReached)
	assert.Equal(t, 2, result.TotalDevices)

	r.send(t, a, models.TypeClipboardBroadcast, models.ClipboardBroadcastPayload{})
	expectError(t, a, CodeValidation)
}

// Scenario: a laptop hands a link to a phone and the phone accepts it
func TestLinkHandoffRoundTrip(t *testing.T) {
	r := setupTestRelay(t)
	a, b, _ := pair(t, r)

	r.send(t, a, models.TypeIntentSend, linkOpen(t, "B", "https://example.com/article"))
	got := payloadOf[models.IntentReceived](t, expectType(t, b, models.TypeIntentReceived))
	expectType(t, a, models.TypeIntentSent)

	r.send(t, b, models.TypeIntentAccepted, models.IntentResponsePayload{
		IntentID:     got.Intent.ID,
		IntentType:   got.Intent.Type,
		TargetDevice: got.SourceDevice,
	})

	resp := payloadOf[models.IntentResponsePayload](t, expectType(t, a, models.TypeIntentAccepted))
	assert.Equal(t, got.Intent.ID, resp.IntentID)
	assert.Equal(t, "B", resp.FromDevice)
}

func TestIntentSendRequiresRejoinAfterReconnect(t *testing.T) {
	r := setupTestRelay(t)
	a, b, created := pair(t, r)

	r.disconnect(t, b)
	expectType(t, a, models.TypeDeviceDisconnected)

	b2, _ := r.connect(t, "B")
	r.send(t, b2, models.TypeIntentSend, linkOpen(t, "A", "https://example.com"))
	expectError(t, b2, CodeSessionNotFound)
	expectNone(t, a)

	r.send(t, b2, models.TypeClipboardBroadcast, models.ClipboardBroadcastPayload{Text: "hello"})
	expectError(t, b2, CodeSessionNotFound)
	expectNone(t, a)

	// Rejoining restores the right to send
	r.joinSession(t, b2, created.Code, "Phone")
	expectType(t, a, models.TypeDeviceConnected)
	r.send(t, b2, models.TypeIntentSend, linkOpen(t, "A", "https://example.com"))
	expectType(t, a, models.TypeIntentReceived)
	expectType(t, b2, models.TypeIntentSent)
}
