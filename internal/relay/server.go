// Package relay is the session and presence core: it owns the connection
// registry, the session store and the global directory, and routes typed
// messages between connected devices.
//
// All state is mutated on a single event loop goroutine. Transport reads,
// disconnects, grace timers and the expiry sweep post closures to it.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/handoff-relay/handoff/internal/config"
	"github.com/handoff-relay/handoff/internal/directory"
	"github.com/handoff-relay/handoff/internal/metrics"
	"github.com/handoff-relay/handoff/internal/pkg/logger"
	"github.com/handoff-relay/handoff/internal/pkg/models"
	"github.com/handoff-relay/handoff/internal/registry"
	"github.com/handoff-relay/handoff/internal/session"
)

const eventQueueSize = 1024

// ErrStopped is returned by Do once the relay has shut down
var ErrStopped = errors.New("relay stopped")

// HistoryRecorder receives session lifecycle records
type HistoryRecorder interface {
	SessionStarted(rec models.SessionRecord)
	SessionEnded(id string, endedAt time.Time, reason string, deviceCount int)
}

// CredentialIssuer hands out TURN credentials for turn_request
type CredentialIssuer interface {
	TurnCredentials(deviceID string) models.TurnCredentials
}

// Option customizes a Server
type Option func(*Server)

// WithHistory records session starts and ends
func WithHistory(h HistoryRecorder) Option {
	return func(s *Server) { s.history = h }
}

// WithTurn enables turn_request
func WithTurn(issuer CredentialIssuer) Option {
	return func(s *Server) { s.turn = issuer }
}

type handlerFunc func(c *Conn, msg *models.Message) error

type graceTimer struct {
	timer *clock.Timer
	token uint64
}

// Server is the relay
type Server struct {
	config  *config.RelayConfig
	clock   clock.Clock
	logger  *logger.Logger
	metrics *metrics.Metrics
	history HistoryRecorder
	turn    CredentialIssuer

	// Owned by the event loop
	registry  *registry.Registry
	sessions  *session.Store
	directory *directory.Directory
	timers    map[string]*graceTimer
	nextToken uint64
	handlers  map[string]handlerFunc

	events   chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a relay. Call Start before accepting connections.
func New(cfg *config.RelayConfig, clk clock.Clock, m *metrics.Metrics, log *logger.Logger, opts ...Option) *Server {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:    cfg,
		clock:     clk,
		logger:    log.With("component", "relay"),
		metrics:   m,
		registry:  registry.New(clk.Now),
		sessions:  session.NewStore(clk, cfg.SessionTTL),
		directory: directory.New(),
		timers:    make(map[string]*graceTimer),
		events:    make(chan func(), eventQueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = s.routes()
	return s
}

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		models.TypeSessionCreate:          s.handleSessionCreate,
		models.TypeSessionJoin:            s.handleSessionJoin,
		models.TypeSessionLeave:           s.handleSessionLeave,
		models.TypeDeviceRegister:         s.handleDeviceRegister,
		models.TypeDeviceStatusUpdate:     s.handleDeviceStatusUpdate,
		models.TypeIntentSend:             s.handleIntentSend,
		models.TypeIntentAccepted:         s.handleIntentResponse,
		models.TypeIntentRejected:         s.handleIntentResponse,
		models.TypeClipboardBroadcast:     s.handleClipboardBroadcast,
		models.TypeGroupCreate:            s.handleGroupCreate,
		models.TypeGroupUpdate:            s.handleGroupUpdate,
		models.TypeGroupDelete:            s.handleGroupDelete,
		models.TypeGroupBroadcast:         s.handleGroupBroadcast,
		models.TypeWebRTCOffer:            s.handleSignal,
		models.TypeWebRTCAnswer:           s.handleSignal,
		models.TypeWebRTCICECandidate:     s.handleSignal,
		models.TypeSessionInvitation:      s.handleSessionInvitation,
		models.TypeInvitationResponse:     s.handleInvitationResponse,
		models.TypeNearbySessionBroadcast: s.handleNearbySessionBroadcast,
		models.TypeTurnRequest:            s.handleTurnRequest,
	}
}

// Start runs the event loop and the expiry sweep
func (s *Server) Start() {
	ticker := s.clock.Ticker(s.config.SweepInterval)

	s.wg.Add(1)
	go s.loop(ticker)

	s.logger.Info("Relay started",
		"session_ttl", s.config.SessionTTL,
		"owner_grace_period", s.config.OwnerGracePeriod,
		"sweep_interval", s.config.SweepInterval,
	)
}

// Stop expires every session, closes every connection and stops the loop
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping relay")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Do(ctx, s.teardown); err != nil {
			s.logger.Warn("Relay teardown did not complete", "error", err)
		}

		s.cancel()
		s.wg.Wait()
		s.logger.Info("Relay stopped")
	})
	return nil
}

func (s *Server) teardown() {
	for _, sess := range s.sessions.All() {
		s.expire(sess, models.ExpiryShutdown)
	}
	n := s.registry.CloseAll()
	s.metrics.SetConnections(0)
	s.logger.Info("Closed all connections", "count", n)
}

func (s *Server) loop(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case fn := <-s.events:
			fn()
		case <-ticker.C:
			s.sweep()
		case <-s.ctx.Done():
			return
		}
	}
}

// post schedules fn on the event loop. It reports false after Stop.
func (s *Server) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Do runs fn on the event loop and waits for it to finish
func (s *Server) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrStopped
	}
}

// RegisterRoutes registers the relay routes with Fiber
func (s *Server) RegisterRoutes(router fiber.Router) {
	relay := router.Group("/relay")

	// WebSocket endpoint: /relay/ws?deviceId=xxx
	relay.Get("/ws", s.wsMiddleware(), s.handleWebSocket())
}

// wsMiddleware validates WebSocket upgrade requests
func (s *Server) wsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		if !validDeviceID(c.Query("deviceId")) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing or invalid deviceId parameter",
			})
		}

		return c.Next()
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket() fiber.Handler {
	return websocket.New(func(ws *websocket.Conn) {
		deviceID := ws.Query("deviceId")
		c := s.newConn(deviceID, ws)

		if !s.post(func() { s.attach(c) }) {
			ws.Close()
			return
		}
		c.start()

		defer func() {
			c.Close()
			s.post(func() { s.detach(c) })
		}()

		ws.SetReadLimit(s.config.MaxMessageSize)
		ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			s.post(func() { s.registry.Touch(deviceID) })
			return ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		})

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				s.logger.Debug("WebSocket read error", "device_id", deviceID, "error", err)
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

			var msg models.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				// A frame that is not an envelope ends the connection
				s.logger.Warn("Malformed message, closing connection",
					"device_id", deviceID,
					"error", err,
				)
				return
			}

			if !s.post(func() { s.handleMessage(c, &msg) }) {
				return
			}
		}
	})
}

func (s *Server) newConn(deviceID string, ws WebSocketConn) *Conn {
	return newConn(deviceID, ws,
		s.config.SendBuffer,
		s.config.PingInterval,
		s.config.WriteTimeout,
		s.metrics.MessageDropped,
		s.logger,
	)
}

// attach binds a new connection, closing any connection it supersedes
func (s *Server) attach(c *Conn) {
	if prev := s.registry.Register(c); prev != nil {
		s.logger.Warn("Duplicate connection detected, closing old connection",
			"device_id", c.DeviceID(),
		)
		prev.Close()
	}
	s.metrics.SetConnections(s.registry.Count())

	s.logger.Info("Device connected", "device_id", c.DeviceID())
}

// detach runs presence handling for a closed connection. A connection that
// was already superseded is ignored.
func (s *Server) detach(c *Conn) {
	id := c.DeviceID()
	if !s.registry.Unregister(id, c) {
		return
	}
	s.metrics.SetConnections(s.registry.Count())
	s.directory.Unregister(id)

	if sess, ok := s.sessions.SessionOf(id); ok {
		s.handleDisconnect(sess, id)
	}

	s.logger.Info("Device disconnected", "device_id", id)
}

// handleMessage processes one inbound message to completion
func (s *Server) handleMessage(c *Conn, msg *models.Message) {
	s.registry.Touch(c.DeviceID())

	s.logger.Debug("Received message",
		"from", c.DeviceID(),
		"type", msg.Type,
		"session_id", msg.SessionID,
	)

	var err error
	if msg.DeviceID != "" && msg.DeviceID != c.DeviceID() {
		err = invalid("deviceId", "does not match the connection")
	} else if h, ok := s.handlers[msg.Type]; ok {
		err = h(c, msg)
	} else {
		err = &unknownTypeError{msgType: msg.Type}
	}

	if err != nil {
		s.sendError(c, msg.Type, err)
	}
}

func (s *Server) envelope(msgType, sessionID string, payload any) *models.Envelope {
	return models.NewEnvelope(msgType, sessionID, payload, s.clock.Now())
}

// sendTo queues env for a device with a live connection
func (s *Server) sendTo(deviceID string, env *models.Envelope) bool {
	h, ok := s.registry.Resolve(deviceID)
	if !ok {
		return false
	}
	return h.Send(env)
}

// sendError reports a recoverable failure back to the requesting device
func (s *Server) sendError(c *Conn, requestType string, err error) {
	code := errorCode(err)
	if code == CodeInternal {
		s.logger.Error("Request failed", "device_id", c.DeviceID(), "type", requestType, "error", err)
	} else {
		s.logger.Warn("Request rejected",
			"device_id", c.DeviceID(),
			"type", requestType,
			"code", code,
			"error", err,
		)
	}

	c.Send(s.envelope(models.TypeError, "", models.ErrorPayload{
		Message:     err.Error(),
		Code:        code,
		RequestType: requestType,
	}))
}
