package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/handoff-relay/handoff/internal/apikey"
	"github.com/handoff-relay/handoff/internal/config"
	"github.com/handoff-relay/handoff/internal/middleware"
	"github.com/handoff-relay/handoff/internal/pkg/models"
	"github.com/handoff-relay/handoff/internal/relay"
)

// Relay is the part of the relay the API reads from
type Relay interface {
	RegisterRoutes(router fiber.Router)
	Sessions(ctx context.Context) ([]relay.SessionSummary, error)
	SessionDetail(ctx context.Context, id string) (*relay.SessionDetail, error)
	LookupCode(ctx context.Context, code string) (*relay.CodeLookup, error)
	Directory(ctx context.Context, username string) ([]models.DirectoryEntry, error)
	Stats(ctx context.Context) (relay.Stats, error)
}

// HistoryStore serves ended and running session records
type HistoryStore interface {
	ListSessionRecords(limit int) ([]*models.SessionRecord, error)
	GetSessionRecord(id string) (*models.SessionRecord, error)
}

// SecretRotator applies a new TURN secret to the running TURN server
type SecretRotator interface {
	UpdateSecret(secret string)
}

// Server represents the REST API server
type Server struct {
	app       *fiber.App
	cfg       *config.APIConfig
	relay     Relay
	history   HistoryStore
	issuer    CredentialIssuer
	rotator   SecretRotator
	metrics   http.Handler
	tlsConfig *tls.Config
	logger    *slog.Logger
}

// Option configures optional collaborators
type Option func(*Server)

// WithHistory serves /history from store
func WithHistory(store HistoryStore) Option {
	return func(s *Server) { s.history = store }
}

// WithTurn serves ICE servers and credentials from issuer. rotator may be nil.
func WithTurn(issuer CredentialIssuer, rotator SecretRotator) Option {
	return func(s *Server) {
		s.issuer = issuer
		s.rotator = rotator
	}
}

// WithMetrics exposes h at /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTLS serves HTTPS
func WithTLS(tlsConfig *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = tlsConfig }
}

// New creates a new API server
func New(cfg *config.APIConfig, r Relay, log *slog.Logger, opts ...Option) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Handoff REST API",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} HANDOFF [INFO] [API] ${status} ${method} ${path} ${latency}\n",
		TimeFormat: "2006/01/02 15:04:05",
	}))

	if len(cfg.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowMethods: "GET,POST",
			AllowHeaders: "Origin,Content-Type,Accept,Authorization",
		}))
	}

	s := &Server{
		app:    app,
		cfg:    cfg,
		relay:  r,
		logger: log,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	return s
}

// setupRoutes configures all API routes. Public routes and the device
// WebSocket are registered before the key-protected group.
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics))
	}

	api := s.app.Group("/api/v1")

	api.Get("/health", s.handleHealth)
	api.Get("/sessions/lookup/:code", s.handleLookupCode)

	// Devices connect at /api/v1/relay/ws
	s.relay.RegisterRoutes(api)

	protected := api.Group("", middleware.APIKeyAuth(apikey.NewVerifier(s.cfg.APIKey.Hash)))
	{
		protected.Get("/sessions", s.handleListSessions)
		protected.Get("/sessions/:id", s.handleGetSession)
		protected.Get("/directory", s.handleDirectory)
		protected.Get("/history", s.handleListHistory)
		protected.Get("/history/:id", s.handleGetHistory)

		protected.Get("/ice-servers", s.handleGetICEServers)
		protected.Post("/credentials", s.handleGenerateCredentials)
		protected.Post("/admin/secrets", s.handleRotateSecrets)
	}
}

// Start starts the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)

	if s.tlsConfig != nil {
		s.logger.Info("Starting HTTPS server with TLS", "addr", addr)

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to create listener: %w", err)
		}
		return s.app.Listener(tls.NewListener(ln, s.tlsConfig))
	}

	s.logger.Info("Starting HTTP server (no TLS)", "addr", addr)
	return s.app.Listen(addr)
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	s.logger.Info("Stopping REST API server")
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

// App returns the underlying Fiber app (useful for testing)
func (s *Server) App() *fiber.App {
	return s.app
}

// errorHandler is the global error handler
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(&ApiResponse{
		Success: false,
		Error: &ApiError{
			Code:    code,
			Message: message,
		},
	})
}
