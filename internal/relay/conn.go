package relay

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/handoff-relay/handoff/internal/pkg/logger"
	"github.com/handoff-relay/handoff/internal/pkg/models"
)

// WebSocketConn interface for testability
type WebSocketConn interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Conn is one device's transport. Sends are queued and written by a
// dedicated goroutine so a slow receiver never stalls the event loop.
type Conn struct {
	deviceID string
	ws       WebSocketConn
	logger   *logger.Logger

	send   chan *models.Envelope
	flush  chan struct{}
	done   chan struct{}
	onDrop func()

	pingInterval time.Duration
	writeTimeout time.Duration

	flushOnce sync.Once
	closeOnce sync.Once
}

func newConn(deviceID string, ws WebSocketConn, buffer int, pingInterval, writeTimeout time.Duration, onDrop func(), log *logger.Logger) *Conn {
	if onDrop == nil {
		onDrop = func() {}
	}
	return &Conn{
		deviceID:     deviceID,
		ws:           ws,
		logger:       log,
		send:         make(chan *models.Envelope, buffer),
		flush:        make(chan struct{}),
		done:         make(chan struct{}),
		onDrop:       onDrop,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

// DeviceID returns the device bound to this connection
func (c *Conn) DeviceID() string {
	return c.deviceID
}

// Send queues msg. It never blocks: a full queue drops the message.
func (c *Conn) Send(msg *models.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		c.onDrop()
		c.logger.Warn("Send queue full, dropping message",
			"device_id", c.deviceID,
			"type", msg.Type,
		)
		return false
	}
}

// CloseAfterFlush writes whatever is queued, then closes
func (c *Conn) CloseAfterFlush() {
	c.flushOnce.Do(func() {
		close(c.flush)
	})
}

// Close tears the connection down immediately
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Done is closed once the connection is closed
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) start() {
	go c.writeLoop()
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.logger.Debug("Write failed", "device_id", c.deviceID, "error", err)
				c.Close()
				return
			}

		case <-c.flush:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(msg); err != nil {
						c.Close()
						return
					}
				default:
					c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
					c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
					c.Close()
					return
				}
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("Failed to send ping", "device_id", c.deviceID, "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(msg *models.Envelope) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(msg)
}
