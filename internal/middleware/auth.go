package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/handoff-relay/handoff/internal/apikey"
)

// APIError is the error body of a rejected request
type APIError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// APIResponse mirrors the API envelope so auth failures look like any other error
type APIResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error,omitempty"`
}

// ErrorUnauthorizedResp returns a 401 Unauthorized error response
func ErrorUnauthorizedResp(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(&APIResponse{
		Error: &APIError{
			Code:    fiber.StatusUnauthorized,
			Message: message,
		},
	})
}

// APIKeyAuth requires "Authorization: Bearer hnd_..." matching the verifier's hash
func APIKeyAuth(v *apikey.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return ErrorUnauthorizedResp(c, "Missing Authorization header")
		}

		scheme, key, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ErrorUnauthorizedResp(c, "Invalid Authorization header format. Expected: Bearer <api_key>")
		}

		key = strings.TrimSpace(key)
		if !apikey.ValidateFormat(key) {
			return ErrorUnauthorizedResp(c, "Invalid API key format")
		}
		if !v.Verify(key) {
			return ErrorUnauthorizedResp(c, "Invalid API key")
		}

		c.Locals("api_key_fingerprint", apikey.Fingerprint(key))
		return c.Next()
	}
}
