package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/handoff-relay/handoff/internal/relay"
	"github.com/handoff-relay/handoff/internal/session"
	"github.com/handoff-relay/handoff/internal/storage"
	"github.com/handoff-relay/handoff/internal/turn"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	maxCredentialTTL    = 48 * 60 * 60
	relayQueryTimeout   = 2 * time.Second
)

// CredentialIssuer hands out TURN credentials
type CredentialIssuer interface {
	Issue(deviceID string, ttl int) turn.Credentials
	ICEServers(deviceID string) ([]turn.ICEServer, turn.Credentials)
	UpdateSecret(secret string, ttl int)
}

func (s *Server) relayContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), relayQueryTimeout)
}

// relayError maps relay query errors onto HTTP responses
func (s *Server) relayError(c *fiber.Ctx, err error) error {
	var verr *relay.ValidationError
	switch {
	case errors.As(err, &verr):
		return ErrorCodedResp(c, fiber.StatusBadRequest, relay.CodeValidation, verr.Error())
	case errors.Is(err, session.ErrNotFound):
		return ErrorCodedResp(c, fiber.StatusNotFound, relay.CodeSessionNotFound, "Session not found")
	case errors.Is(err, relay.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodedResp(c, fiber.StatusServiceUnavailable, relay.CodeUnavailable, "Relay unavailable")
	default:
		s.logger.Error("Relay query failed", "path", c.Path(), "error", err)
		return ErrorCodedResp(c, fiber.StatusInternalServerError, relay.CodeInternal, "Relay query failed")
	}
}

// Health check endpoint
func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := s.relayContext(c)
	defer cancel()

	stats, err := s.relay.Stats(ctx)
	if err != nil {
		return s.relayError(c, err)
	}

	return SuccessResp(c, fiber.Map{
		"status":      "ok",
		"time":        time.Now().UTC().Format(time.RFC3339),
		"sessions":    stats.Sessions,
		"connections": stats.Connections,
	})
}

// Join preview for a code; public so a device can check a code before connecting
func (s *Server) handleLookupCode(c *fiber.Ctx) error {
	ctx, cancel := s.relayContext(c)
	defer cancel()

	found, err := s.relay.LookupCode(ctx, c.Params("code"))
	if err != nil {
		return s.relayError(c, err)
	}
	return SuccessResp(c, found)
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	ctx, cancel := s.relayContext(c)
	defer cancel()

	list, err := s.relay.Sessions(ctx)
	if err != nil {
		return s.relayError(c, err)
	}
	return ListResp(c, list, len(list))
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	ctx, cancel := s.relayContext(c)
	defer cancel()

	detail, err := s.relay.SessionDetail(ctx, c.Params("id"))
	if err != nil {
		return s.relayError(c, err)
	}
	return SuccessResp(c, detail)
}

// List registered devices, optionally ?username=
func (s *Server) handleDirectory(c *fiber.Ctx) error {
	ctx, cancel := s.relayContext(c)
	defer cancel()

	entries, err := s.relay.Directory(ctx, c.Query("username"))
	if err != nil {
		return s.relayError(c, err)
	}
	return ListResp(c, entries, len(entries))
}

func (s *Server) handleListHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return ErrorUnavailableResp(c, "Session history is disabled")
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		return ErrorBadRequestResp(c, "limit must be between 1 and 500")
	}

	records, err := s.history.ListSessionRecords(limit)
	if err != nil {
		s.logger.Error("Failed to list session history", "error", err)
		return ErrorInternalServerErrorResp(c, "Failed to list session history")
	}
	return ListResp(c, records, len(records))
}

func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return ErrorUnavailableResp(c, "Session history is disabled")
	}

	rec, err := s.history.GetSessionRecord(c.Params("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return ErrorNotFoundResp(c, "Session record not found")
	}
	if err != nil {
		s.logger.Error("Failed to load session record", "error", err)
		return ErrorInternalServerErrorResp(c, "Failed to load session record")
	}
	return SuccessResp(c, rec)
}

// Get ICE servers configuration for a device
func (s *Server) handleGetICEServers(c *fiber.Ctx) error {
	if s.issuer == nil {
		return ErrorUnavailableResp(c, "TURN is not enabled")
	}

	deviceID := c.Query("device_id")
	if deviceID == "" {
		return ErrorBadRequestResp(c, "device_id query parameter is required")
	}

	servers, creds := s.issuer.ICEServers(deviceID)
	return SuccessResp(c, fiber.Map{
		"ice_servers": servers,
		"expires":     creds.Expires.Format(time.RFC3339),
	})
}

// Generate TURN credentials
func (s *Server) handleGenerateCredentials(c *fiber.Ctx) error {
	if s.issuer == nil {
		return ErrorUnavailableResp(c, "TURN is not enabled")
	}

	var req struct {
		DeviceID string `json:"device_id"`
		TTL      int    `json:"ttl,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return ErrorBadRequestResp(c, "Invalid request body")
	}
	if req.DeviceID == "" {
		return ErrorBadRequestResp(c, "device_id is required")
	}
	if req.TTL < 0 || req.TTL > maxCredentialTTL {
		return ErrorBadRequestResp(c, "ttl must be between 0 and 172800 seconds")
	}

	creds := s.issuer.Issue(req.DeviceID, req.TTL)
	return SuccessResp(c, fiber.Map{
		"username": creds.Username,
		"password": creds.Password,
		"ttl":      creds.TTL,
		"expires":  creds.Expires.Format(time.RFC3339),
	})
}

// Rotate the TURN secret (admin endpoint)
func (s *Server) handleRotateSecrets(c *fiber.Ctx) error {
	if s.issuer == nil {
		return ErrorUnavailableResp(c, "TURN is not enabled")
	}

	var req struct {
		Secret string `json:"secret"`
		TTL    int    `json:"ttl,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return ErrorBadRequestResp(c, "Invalid request body")
	}
	if req.Secret == "" {
		return ErrorBadRequestResp(c, "secret is required")
	}

	s.issuer.UpdateSecret(req.Secret, req.TTL)
	if s.rotator != nil {
		s.rotator.UpdateSecret(req.Secret)
	}

	s.logger.Info("TURN secret rotated", "ttl", req.TTL)

	return SuccessResp(c, fiber.Map{
		"message": "Secret rotated",
	})
}
