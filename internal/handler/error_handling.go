package handler

import (
	"net/http"

	"progression-server/internal/orchestrator"
)

// Error codes for transport-level failures.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation"
	ErrCodeTokenInvalid = "token_invalid"
	ErrCodeTokenExpired = "token_expired"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeInternal     = "internal"
)

// ErrorResponse is returned when a request never reaches the orchestrator.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusForKind maps a classified action failure onto an HTTP status.
// The response body still carries the user-facing text.
func statusForKind(kind orchestrator.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case orchestrator.KindValidation:
		return http.StatusBadRequest
	case orchestrator.KindNotFound:
		return http.StatusNotFound
	case orchestrator.KindStateConflict, orchestrator.KindExpired, orchestrator.KindInsufficientBalance:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
