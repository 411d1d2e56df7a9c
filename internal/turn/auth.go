package turn

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/turn/v4"
)

// Auth modes
const (
	ModeREST   = "rest"
	ModeStatic = "static"
)

// AuthHandler answers pion's long-term credential lookups. STUN message
// integrity is checked against the single key returned here, so REST mode
// only ever accepts credentials signed with the current secret.
type AuthHandler struct {
	logger *slog.Logger
	now    func() time.Time
	lookup func(username, realm string) (password string, ok bool)

	mu     sync.RWMutex
	secret string

	users map[string]string // static mode: username -> password
}

// NewAuthHandler creates a handler for mode ("rest" or "static").
// Any other mode rejects every request.
func NewAuthHandler(mode, secret string, users map[string]string, logger *slog.Logger) *AuthHandler {
	h := &AuthHandler{
		logger: logger,
		now:    time.Now,
		secret: secret,
		users:  users,
	}

	switch mode {
	case ModeREST:
		h.lookup = h.restPassword
	case ModeStatic:
		h.lookup = h.staticPassword
	default:
		logger.Error("Unknown TURN auth mode, rejecting all requests", "mode", mode)
		h.lookup = func(string, string) (string, bool) { return "", false }
	}
	return h
}

// AuthenticateRequest is the pion/turn AuthHandler
func (h *AuthHandler) AuthenticateRequest(username, realm string, srcAddr net.Addr) ([]byte, bool) {
	password, ok := h.lookup(username, realm)
	if !ok {
		return nil, false
	}

	h.logger.Debug("TURN auth accepted", "username", username, "addr", srcAddr.String())
	return turn.GenerateAuthKey(username, realm, password), true
}

// restPassword derives the coturn-style password for <expiry>:<deviceID>
// after checking the expiry window
func (h *AuthHandler) restPassword(username, _ string) (string, bool) {
	expiry, deviceID, err := ParseUsername(username)
	if err != nil {
		h.logger.Warn("TURN auth rejected", "username", username, "error", err)
		return "", false
	}

	now := h.now()
	switch {
	case !expiry.After(now):
		h.logger.Warn("TURN auth rejected: credential expired", "device_id", deviceID, "expired_at", expiry)
		return "", false
	case expiry.After(now.Add(maxCredentialLifetime)):
		h.logger.Warn("TURN auth rejected: expiry too far ahead", "device_id", deviceID, "expiry", expiry)
		return "", false
	}

	h.mu.RLock()
	secret := h.secret
	h.mu.RUnlock()

	if secret == "" {
		h.logger.Warn("TURN auth rejected: no secret configured", "device_id", deviceID)
		return "", false
	}
	return Password(secret, username), true
}

func (h *AuthHandler) staticPassword(username, _ string) (string, bool) {
	password, ok := h.users[username]
	if !ok {
		h.logger.Warn("TURN auth rejected: unknown static user", "username", username)
	}
	return password, ok
}

// UpdateSecret swaps the REST secret. Credentials signed with the previous
// secret stop working immediately.
func (h *AuthHandler) UpdateSecret(secret string) {
	h.mu.Lock()
	h.secret = secret
	h.mu.Unlock()

	h.logger.Info("TURN secret rotated")
}
