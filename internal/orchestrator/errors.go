package orchestrator

import (
	"context"
	"errors"

	"progression-server/internal/metrics"
	"progression-server/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrorKind определяет тип ошибки для централизованной обработки.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindNotFound            ErrorKind = "not_found"
	KindStateConflict       ErrorKind = "state_conflict"
	KindExpired             ErrorKind = "expired"
	KindStorage             ErrorKind = "storage"
	KindInternal            ErrorKind = "internal"
)

// IsDomain reports whether the kind is a typed engine error rather than an infrastructure failure.
func (k ErrorKind) IsDomain() bool {
	switch k {
	case KindValidation, KindInsufficientBalance, KindNotFound, KindStateConflict, KindExpired:
		return true
	}
	return false
}

var userMessages = map[ErrorKind]string{
	KindValidation:          "No pude procesar eso, revisa los datos e inténtalo otra vez.",
	KindInsufficientBalance: "No tienes suficientes besitos para esto.",
	KindNotFound:            "No encontré lo que buscas.",
	KindStateConflict:       "Esa opción ya no está disponible.",
	KindExpired:             "Esta misión ya expiró.",
	KindStorage:             "Algo salió mal. Inténtalo de nuevo en un momento.",
	KindInternal:            "Algo salió mal. Inténtalo de nuevo en un momento.",
}

// Classify maps an error onto the error taxonomy.
func Classify(err error) ErrorKind {
	var pgErr *pgconn.PgError
	var connErr *pgconn.ConnectError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrBadRequest):
		return KindValidation
	case errors.Is(err, models.ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, models.ErrNotFound):
		return KindNotFound
	case errors.Is(err, models.ErrExpired):
		return KindExpired
	case models.IsStateConflict(err):
		return KindStateConflict
	case errors.As(err, &pgErr), errors.As(err, &connErr), errors.Is(err, pgx.ErrTxClosed), pgconn.Timeout(err):
		return KindStorage
	}
	return KindInternal
}

// ErrorContext describes a failed action.
type ErrorContext struct {
	UserID    int64
	Operation string
	Err       error
}

// ActionError is the classified, user-facing form of a failure.
type ActionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// ErrorHandler централизованно обрабатывает ошибки действий пользователя.
type ErrorHandler struct {
	logger *zap.Logger
}

func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger.Named("ErrorHandler")}
}

// Handle logs the failure at a level matching its kind and returns the user-facing error.
func (h *ErrorHandler) Handle(ctx context.Context, errCtx ErrorContext) *ActionError {
	kind := Classify(errCtx.Err)
	if errors.Is(errCtx.Err, context.Canceled) && ctx.Err() != nil {
		kind = KindInternal
	}
	logFields := []zap.Field{
		zap.Int64("user_id", errCtx.UserID),
		zap.String("operation", errCtx.Operation),
		zap.String("error_kind", string(kind)),
		zap.Error(errCtx.Err),
	}

	switch kind {
	case KindValidation, KindNotFound:
		h.logger.Info("Action rejected", logFields...)
	case KindInsufficientBalance, KindStateConflict, KindExpired:
		h.logger.Warn("Action conflicts with user state", logFields...)
	case KindStorage:
		h.logger.Error("Storage error, action rolled back", logFields...)
	default:
		h.logger.Error("Internal error, action rolled back", logFields...)
	}
	metrics.ActionErrorsTotal.WithLabelValues(string(kind)).Inc()

	return &ActionError{Kind: kind, Message: userMessages[kind], Err: errCtx.Err}
}
