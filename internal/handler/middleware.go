package handler

import (
	"errors"
	"net/http"
	"time"

	"progression-server/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	InterServiceTokenHeader = "X-Internal-Service-Token"
	RequestIDHeader         = "X-Request-ID"

	// SourceServiceKey хранит subject межсервисного токена в gin.Context.
	SourceServiceKey = "source_service"
)

// ZapLogger логирует запросы через zap. /health и /metrics не логируются.
func ZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
			path = path + "?" + rawQuery
		}
		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", requestID),
		}
		if source, ok := c.Get(SourceServiceKey); ok {
			fields = append(fields, zap.Any("source_service", source))
		}

		if len(c.Errors) > 0 {
			for _, ginErr := range c.Errors.ByType(gin.ErrorTypeAny) {
				log.Error("Request error", append(fields, zap.Error(ginErr.Err))...)
			}
			return
		}
		status := c.Writer.Status()
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("Server error", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("Client error", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	}
}

// InterServiceAuth проверяет X-Internal-Service-Token.
func InterServiceAuth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.With(zap.String("path", c.Request.URL.Path))

		tokenString := c.GetHeader(InterServiceTokenHeader)
		if tokenString == "" {
			log.Warn("X-Internal-Service-Token header missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: ErrCodeUnauthorized, Message: "Missing inter-service token"})
			return
		}

		claims, err := verifier.VerifyInterServiceToken(c.Request.Context(), tokenString)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: ErrCodeTokenExpired, Message: "Inter-service token expired"})
			case errors.Is(err, models.ErrTokenInvalid), errors.Is(err, models.ErrTokenMalformed):
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: ErrCodeTokenInvalid, Message: "Invalid inter-service token"})
			default:
				log.Error("Unexpected inter-service token verification error", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Code: ErrCodeInternal, Message: "Token verification failed"})
			}
			return
		}

		c.Set(SourceServiceKey, claims.Subject)
		c.Next()
	}
}
