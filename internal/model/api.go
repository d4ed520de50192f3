package model

import (
	"fmt"
	"strings"
	"time"
)

// Request field limits. These bound what a caller can push into prompts and
// Postgres TEXT/JSONB columns.
const (
	MaxUserIDLen  = 128
	MaxDays       = 365
	DefaultDays   = 7
	MaxContextLen = 16 * 1024 // serialized context patch, bytes
)

// ValidateRunRequest checks the caller-facing arguments before any stage runs.
// A violation here is a FatalInput error: the run is rejected outright.
func ValidateRunRequest(req RunRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(req.UserID) > MaxUserIDLen {
		return fmt.Errorf("user_id exceeds maximum length of %d characters", MaxUserIDLen)
	}
	if req.Days <= 0 {
		return fmt.Errorf("days must be positive")
	}
	if req.Days > MaxDays {
		return fmt.Errorf("days exceeds maximum of %d", MaxDays)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnavailable   = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /v1/auth/token.
type AuthTokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /v1/auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
