package relay

import (
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff-relay/handoff/internal/pkg/logger"
	"github.com/handoff-relay/handoff/internal/pkg/models"
)

func testEnvelope(msgType string) *models.Envelope {
	return models.NewEnvelope(msgType, "", nil, testEpoch)
}

func TestConnSendDropsWhenFull(t *testing.T) {
	dropped := 0
	c := newConn("A", &mockWebSocketConn{}, 1, time.Hour, time.Second, func() { dropped++ }, logger.Discard())

	assert.True(t, c.Send(testEnvelope("first")))
	assert.False(t, c.Send(testEnvelope("second")))
	assert.Equal(t, 1, dropped)

	assert.Equal(t, "first", next(t, c).Type)
}

func TestConnSendAfterClose(t *testing.T) {
	ws := &mockWebSocketConn{}
	c := newConn("A", ws, 4, time.Hour, time.Second, nil, logger.Discard())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, ws.isClosed())
	assert.False(t, c.Send(testEnvelope("late")))

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestConnWriter(t *testing.T) {
	ws := &mockWebSocketConn{}
	c := newConn("A", ws, 8, time.Hour, time.Second, nil, logger.Discard())
	c.start()

	c.Send(testEnvelope("one"))
	require.Eventually(t, func() bool { return len(ws.written()) == 1 }, time.Second, 5*time.Millisecond)

	c.Send(testEnvelope("two"))
	c.Send(testEnvelope("three"))
	c.CloseAfterFlush()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection was not closed after flush")
	}

	written := ws.written()
	require.Len(t, written, 3)
	assert.Equal(t, "three", written[2].(*models.Envelope).Type)
	assert.Contains(t, ws.controlFrames(), websocket.CloseMessage)
	assert.True(t, ws.isClosed())
}

func TestConnWriterPings(t *testing.T) {
	ws := &mockWebSocketConn{}
	c := newConn("A", ws, 8, 10*time.Millisecond, time.Second, nil, logger.Discard())
	c.start()
	defer c.Close()

	require.Eventually(t, func() bool {
		for _, f := range ws.controlFrames() {
			if f == websocket.PingMessage {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
