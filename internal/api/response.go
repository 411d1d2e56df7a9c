package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// ApiResponseMeta contains metadata for API responses
type ApiResponseMeta struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Count     *int       `json:"count,omitempty"`
}

// ApiError represents a structured API error
type ApiError struct {
	Code    int         `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Detail  interface{} `json:"detail,omitempty"`
}

// ApiResponse is the standard API response structure
type ApiResponse struct {
	Success bool             `json:"success"`
	Data    interface{}      `json:"data,omitempty"`
	Error   *ApiError        `json:"error,omitempty"`
	Meta    *ApiResponseMeta `json:"meta,omitempty"`
}

// SuccessResp returns a successful response with optional metadata
func SuccessResp(c *fiber.Ctx, data interface{}, meta ...ApiResponseMeta) error {
	resp := ApiResponse{
		Success: true,
		Data:    data,
	}
	if len(meta) > 0 {
		resp.Meta = &meta[0]
	}
	return c.Status(fiber.StatusOK).JSON(&resp)
}

// ListResp returns a list with its length in the metadata
func ListResp(c *fiber.Ctx, data interface{}, count int) error {
	now := time.Now().UTC()
	return SuccessResp(c, data, ApiResponseMeta{Timestamp: &now, Count: &count})
}

// ErrorResp returns an error response
func ErrorResp(c *fiber.Ctx, err ApiError) error {
	code := fiber.StatusBadRequest
	if err.Code != 0 {
		code = err.Code
	}
	return c.Status(code).JSON(&ApiResponse{Error: &err})
}

// ErrorCodedResp returns an error whose detail carries the relay's wire error code,
// so REST clients can switch on the same codes WebSocket clients see
func ErrorCodedResp(c *fiber.Ctx, status int, code, message string) error {
	return ErrorResp(c, ApiError{
		Code:    status,
		Message: message,
		Detail:  fiber.Map{"code": code},
	})
}

// ErrorCodeResp returns an error response with a specific HTTP status code
func ErrorCodeResp(c *fiber.Ctx, code int, message ...string) error {
	msg := "API Error"
	if len(message) > 0 {
		msg = message[0]
	}
	return ErrorResp(c, ApiError{
		Code:    code,
		Message: msg,
	})
}

// ErrorNotFoundResp returns a 404 Not Found error response
func ErrorNotFoundResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusNotFound, message...)
}

// ErrorBadRequestResp returns a 400 Bad Request error response
func ErrorBadRequestResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusBadRequest, message...)
}

// ErrorUnavailableResp returns a 503 Service Unavailable error response
func ErrorUnavailableResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusServiceUnavailable, message...)
}

// ErrorInternalServerErrorResp returns a 500 Internal Server Error response
func ErrorInternalServerErrorResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusInternalServerError, message...)
}
