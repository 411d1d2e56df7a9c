// Package client is a Go device client for the relay WebSocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/handoff-relay/handoff/internal/pkg/models"
)

const (
	defaultInboxSize = 256
	writeTimeout     = 10 * time.Second
)

// Event is one frame received from the relay
type Event struct {
	Type      string
	SessionID string
	Payload   json.RawMessage
	Timestamp int64
}

// Decode unmarshals the event payload into v
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// Option configures Dial
type Option func(*Client)

// WithDialer replaces websocket.DefaultDialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger logs transport events to l
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithInboxSize sets how many unread events are buffered before the reader blocks
func WithInboxSize(n int) Option {
	return func(c *Client) { c.inboxSize = n }
}

// Client is one device connection. Events are consumed either through
// Expect or Events, not both.
type Client struct {
	deviceID  string
	info      models.DeviceInfo
	dialer    *websocket.Dialer
	logger    *slog.Logger
	inboxSize int

	conn    *websocket.Conn
	writeMu sync.Mutex
	state   atomic.Int32

	mu   sync.Mutex
	join JoinState

	inbox     chan *Event
	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects deviceID to the relay mounted at baseURL, e.g.
// ws://host:9000/api/v1. info describes the device in create, join and register.
func Dial(ctx context.Context, baseURL, deviceID string, info models.DeviceInfo, opts ...Option) (*Client, error) {
	c := &Client{
		deviceID:  deviceID,
		info:      info,
		dialer:    websocket.DefaultDialer,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		inboxSize: defaultInboxSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	endpoint, err := relayURL(baseURL, deviceID)
	if err != nil {
		return nil, err
	}

	c.setState(Connecting)
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.setState(Errored)
		if resp != nil {
			return nil, fmt.Errorf("dialing relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing relay: %w", err)
	}

	c.conn = conn
	c.inbox = make(chan *Event, c.inboxSize)
	c.setState(Connected)
	c.logger.Info("Connected to relay", "url", endpoint, "device_id", deviceID)

	go c.readLoop()
	return c, nil
}

// relayURL appends /relay/ws?deviceId= to base, mapping http(s) to ws(s)
func relayURL(base, deviceID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid relay url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/relay/ws"
	q := u.Query()
	q.Set("deviceId", deviceID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DeviceID returns the id this client connected as
func (c *Client) DeviceID() string { return c.deviceID }

// State returns the transport state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// JoinState returns the last known session membership
func (c *Client) JoinState() JoinState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.join
}

func (c *Client) setJoin(js JoinState) {
	c.mu.Lock()
	c.join = js
	c.mu.Unlock()
}

// Events exposes the raw event stream. It is closed when the connection ends.
func (c *Client) Events() <-chan *Event {
	return c.inbox
}

func (c *Client) readLoop() {
	defer close(c.inbox)

	for {
		var msg models.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if c.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setState(Disconnected)
			} else {
				c.setState(Errored)
				c.logger.Warn("Relay connection lost", "device_id", c.deviceID, "error", err)
			}
			return
		}

		ev := &Event{Type: msg.Type, SessionID: msg.SessionID, Payload: msg.Payload, Timestamp: msg.UnixMilli()}
		c.track(ev)
		c.logger.Debug("Received event", "type", ev.Type)

		select {
		case c.inbox <- ev:
		case <-c.done:
			return
		}
	}
}

// track keeps JoinState in step with the frames that change membership
func (c *Client) track(ev *Event) {
	switch ev.Type {
	case models.TypeSessionCreated, models.TypeSessionJoined:
		var body struct {
			SessionID string `json:"sessionId"`
		}
		if err := ev.Decode(&body); err == nil {
			c.setJoin(JoinState{Phase: JoinSuccess, SessionID: body.SessionID})
		}
	case models.TypeSessionExpired:
		c.setJoin(JoinState{Phase: JoinIdle})
	case models.TypeError:
		var body models.ErrorPayload
		if err := ev.Decode(&body); err != nil {
			return
		}
		if body.RequestType == models.TypeSessionCreate || body.RequestType == models.TypeSessionJoin {
			c.setJoin(JoinState{Phase: JoinError, Message: body.Message})
		}
	}
}

// Send writes one frame. payload may be nil.
func (c *Client) Send(msgType string, payload any) error {
	msg := models.Message{
		Type:      msgType,
		DeviceID:  c.deviceID,
		Timestamp: float64(time.Now().UnixMilli()),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != Connected {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(&msg); err != nil {
		return fmt.Errorf("sending %s: %w", msgType, err)
	}
	return nil
}

// Expect waits for the next event whose type is one of types, discarding
// others on the way. An error frame not asked for is returned as *RelayError.
func (c *Client) Expect(ctx context.Context, types ...string) (*Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-c.inbox:
			if !ok {
				return nil, ErrClosed
			}
			for _, t := range types {
				if ev.Type == t {
					return ev, nil
				}
			}
			if ev.Type == models.TypeError {
				return nil, relayError(ev)
			}
		}
	}
}

func relayError(ev *Event) error {
	var body models.ErrorPayload
	if err := ev.Decode(&body); err != nil {
		return fmt.Errorf("undecodable error frame: %w", err)
	}
	return &RelayError{Code: body.Code, Message: body.Message, RequestType: body.RequestType}
}

// request sends one frame and decodes the reply of replyType into out
func (c *Client) request(ctx context.Context, msgType string, payload any, replyType string, out any) error {
	if err := c.Send(msgType, payload); err != nil {
		return err
	}
	ev, err := c.Expect(ctx, replyType)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return ev.Decode(out)
}

// Register adds the device to the global directory
func (c *Client) Register(ctx context.Context) error {
	return c.request(ctx, models.TypeDeviceRegister, c.info, models.TypeDeviceRegistered, nil)
}

// CreateSession creates a session owned by this device
func (c *Client) CreateSession(ctx context.Context) (*models.SessionCreated, error) {
	c.setJoin(JoinState{Phase: JoinInProgress})

	var created models.SessionCreated
	err := c.request(ctx, models.TypeSessionCreate, models.SessionCreatePayload{Device: c.info}, models.TypeSessionCreated, &created)
	if err != nil {
		c.failJoin(err)
		return nil, err
	}
	return &created, nil
}

// JoinSession joins the session with the given 6-digit code
func (c *Client) JoinSession(ctx context.Context, code string) (*models.SessionJoined, error) {
	c.setJoin(JoinState{Phase: JoinInProgress})

	var joined models.SessionJoined
	err := c.request(ctx, models.TypeSessionJoin, models.SessionJoinPayload{Code: code, Device: c.info}, models.TypeSessionJoined, &joined)
	if err != nil {
		c.failJoin(err)
		return nil, err
	}
	return &joined, nil
}

func (c *Client) failJoin(err error) {
	var rerr *RelayError
	msg := err.Error()
	if errors.As(err, &rerr) {
		msg = rerr.Message
	}
	c.setJoin(JoinState{Phase: JoinError, Message: msg})
}

// Leave leaves the current session. The relay does not acknowledge it.
func (c *Client) Leave() error {
	if err := c.Send(models.TypeSessionLeave, nil); err != nil {
		return err
	}
	c.setJoin(JoinState{Phase: JoinIdle})
	return nil
}

// SendIntent delivers intent to intent.TargetDevice and waits for the relay's ack
func (c *Client) SendIntent(ctx context.Context, intent models.Intent) (*models.IntentSent, error) {
	var sent models.IntentSent
	if err := c.request(ctx, models.TypeIntentSend, models.IntentSendPayload{Intent: intent}, models.TypeIntentSent, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// Close sends a close frame and tears the connection down
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.setState(Disconnected)
		c.writeMu.Unlock()

		close(c.done)
		err = c.conn.Close()
	})
	return err
}
