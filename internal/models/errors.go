package models

import "errors"

// Application-wide standard errors
var (
	// Progression engine errors
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("resource not found")
	ErrStateConflict       = errors.New("state conflict")
	ErrExpired             = errors.New("expired")
	ErrConcurrentUpdate    = errors.New("record was modified concurrently") // Версия записи не совпала

	// Inter-service authentication errors
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)

// IsStateConflict reports whether err is a state conflict, including lost optimistic updates.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict) || errors.Is(err, ErrConcurrentUpdate)
}
