package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/handoff-relay/handoff/internal/config"
	"github.com/handoff-relay/handoff/internal/metrics"
	"github.com/handoff-relay/handoff/internal/pkg/logger"
	"github.com/handoff-relay/handoff/internal/pkg/models"
)

var testEpoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func testRelayConfig() *config.RelayConfig {
	return &config.RelayConfig{
		SessionTTL:       time.Hour,
		OwnerGracePeriod: 30 * time.Second,
		SweepInterval:    10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		SendBuffer:       64,
		MaxMessageSize:   1 << 20,
	}
}

type testRelay struct {
	*Server
	mock *clock.Mock
}

func setupTestRelay(t *testing.T, opts ...Option) *testRelay {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(testEpoch)

	s := New(testRelayConfig(), mock, metrics.New(), logger.Discard(), opts...)
	s.Start()
	t.Cleanup(func() { s.Stop() })

	return &testRelay{Server: s, mock: mock}
}

// connect attaches a device without starting its writer, so everything
// sent to it stays in the queue for the test to read
func (r *testRelay) connect(t *testing.T, deviceID string) (*Conn, *mockWebSocketConn) {
	t.Helper()
	ws := &mockWebSocketConn{}
	c := r.newConn(deviceID, ws)
	r.run(t, func() { r.attach(c) })
	return c, ws
}

func (r *testRelay) disconnect(t *testing.T, c *Conn) {
	t.Helper()
	c.Close()
	r.run(t, func() { r.detach(c) })
}

func (r *testRelay) run(t *testing.T, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Do(ctx, fn))
}

func (r *testRelay) send(t *testing.T, c *Conn, msgType string, payload any) {
	t.Helper()
	r.sendMessage(t, c, &models.Message{Type: msgType, Payload: rawJSON(t, payload)})
}

func (r *testRelay) sendMessage(t *testing.T, c *Conn, msg *models.Message) {
	t.Helper()
	r.run(t, func() { r.handleMessage(c, msg) })
}

// createSession makes c the owner of a new session
func (r *testRelay) createSession(t *testing.T, c *Conn, name string) models.SessionCreated {
	t.Helper()
	r.send(t, c, models.TypeSessionCreate, models.SessionCreatePayload{
		Device: models.DeviceInfo{DisplayName: name},
	})
	return payloadOf[models.SessionCreated](t, expectType(t, c, models.TypeSessionCreated))
}

// joinSession joins c by code and consumes the session_joined reply
func (r *testRelay) joinSession(t *testing.T, c *Conn, code, name string) models.SessionJoined {
	t.Helper()
	r.send(t, c, models.TypeSessionJoin, models.SessionJoinPayload{
		Code:   code,
		Device: models.DeviceInfo{DisplayName: name},
	})
	return payloadOf[models.SessionJoined](t, expectType(t, c, models.TypeSessionJoined))
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// next pops the oldest queued envelope
func next(t *testing.T, c *Conn) *models.Envelope {
	t.Helper()
	select {
	case env := <-c.send:
		return env
	default:
		require.FailNow(t, "no message queued", "device %s", c.DeviceID())
		return nil
	}
}

func expectType(t *testing.T, c *Conn, msgType string) *models.Envelope {
	t.Helper()
	env := next(t, c)
	require.Equal(t, msgType, env.Type, "payload: %+v", env.Payload)
	return env
}

func expectError(t *testing.T, c *Conn, code string) models.ErrorPayload {
	t.Helper()
	p := payloadOf[models.ErrorPayload](t, expectType(t, c, models.TypeError))
	require.Equal(t, code, p.Code, p.Message)
	return p
}

func expectNone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case env := <-c.send:
		require.FailNow(t, "unexpected message", "device %s got %s: %+v", c.DeviceID(), env.Type, env.Payload)
	default:
	}
}

// drain empties the queue
func drain(c *Conn) []*models.Envelope {
	var out []*models.Envelope
	for {
		select {
		case env := <-c.send:
			out = append(out, env)
		default:
			return out
		}
	}
}

// await waits for a message produced off the request path, e.g. by a timer
func await(t *testing.T, c *Conn, msgType string) *models.Envelope {
	t.Helper()
	var found *models.Envelope
	require.Eventually(t, func() bool {
		for _, env := range drain(c) {
			if env.Type == msgType && found == nil {
				found = env
			}
		}
		return found != nil
	}, 2*time.Second, 5*time.Millisecond, "device %s never got %s", c.DeviceID(), msgType)
	return found
}

func payloadOf[T any](t *testing.T, env *models.Envelope) T {
	t.Helper()
	p, ok := env.Payload.(T)
	require.True(t, ok, "payload of %s is %T", env.Type, env.Payload)
	return p
}

func flushed(c *Conn) bool {
	select {
	case <-c.flush:
		return true
	default:
		return false
	}
}

type mockWebSocketConn struct {
	mu       sync.Mutex
	messages []any
	control  []int
	closed   bool
}

func (m *mockWebSocketConn) WriteJSON(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, v)
	return nil
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.control = append(m.control, messageType)
	return nil
}

func (m *mockWebSocketConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockWebSocketConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (m *mockWebSocketConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWebSocketConn) written() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.messages...)
}

func (m *mockWebSocketConn) controlFrames() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.control...)
}
