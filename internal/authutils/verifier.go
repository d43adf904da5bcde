package authutils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"progression-server/internal/clock"
	"progression-server/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InterServiceClaims are carried by X-Internal-Service-Token. Subject is the calling service.
type InterServiceClaims struct {
	RequestingService string `json:"requesting_service,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier проверяет межсервисные JWT токены (HMAC).
type JWTVerifier struct {
	secret []byte
	clock  clock.Clock
	logger *zap.Logger
}

// NewJWTVerifier создает новый экземпляр JWTVerifier. Если логгер nil, используется Noop.
func NewJWTVerifier(secret string, clk clock.Clock, logger *zap.Logger) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("inter-service secret cannot be empty")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTVerifier{
		secret: []byte(secret),
		clock:  clk,
		logger: logger.Named("JWTVerifier"),
	}, nil
}

// VerifyInterServiceToken проверяет подпись и срок действия токена и возвращает claims.
func (v *JWTVerifier) VerifyInterServiceToken(ctx context.Context, tokenString string) (*InterServiceClaims, error) {
	log := v.logger.With(zap.String("tokenSnippet", tokenSnippet(tokenString)))
	claims := &InterServiceClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Warn("Unexpected signing method", zap.Any("alg", token.Header["alg"]))
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock.Now), jwt.WithExpirationRequired())

	if err != nil {
		log.Warn("Failed to parse or verify inter-service token", zap.Error(err))
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, models.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, models.ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, models.ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, models.ErrTokenInvalid
	}
	if claims.Subject == "" {
		log.Warn("Inter-service token missing subject")
		return nil, fmt.Errorf("%w: subject missing", models.ErrTokenInvalid)
	}

	log.Debug("Inter-service token verified", zap.String("subject", claims.Subject), zap.String("issuer", claims.Issuer))
	return claims, nil
}

// GenerateInterServiceToken подписывает короткоживущий токен для вызова сервиса от имени subject.
func GenerateInterServiceToken(secret, issuer, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("inter-service secret cannot be empty")
	}
	claims := &InterServiceClaims{
		RequestingService: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// tokenSnippet возвращает безопасную для логгирования часть токена.
func tokenSnippet(tokenString string) string {
	limit := 15
	if len(tokenString) > limit {
		return tokenString[:limit] + "..."
	}
	return tokenString
}
