package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"progression-server/internal/interfaces"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	userLockKeyPrefix      = "progression:lock:user:"
	defaultLockTTL         = 30 * time.Second
	defaultLockRetryPeriod = 25 * time.Millisecond
)

// Удаляем ключ только если он все еще принадлежит нам.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisUserLocker serializes actions of one user across service instances.
// The lock expires after ttl so a crashed holder cannot block the user forever.
type RedisUserLocker struct {
	client      redis.UniversalClient
	ttl         time.Duration
	retryPeriod time.Duration
	logger      *zap.Logger
}

var _ interfaces.UserLocker = (*RedisUserLocker)(nil)

func NewRedisUserLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisUserLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisUserLocker{
		client:      client,
		ttl:         ttl,
		retryPeriod: defaultLockRetryPeriod,
		logger:      logger.Named("RedisUserLocker"),
	}
}

// Lock blocks until the lock is acquired or ctx is done.
func (l *RedisUserLocker) Lock(ctx context.Context, userID int64) (func(), error) {
	key := fmt.Sprintf("%s%d", userLockKeyPrefix, userID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock for user %d: %w", userID, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryPeriod)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// context.Background: снимаем блокировку даже после отмены запроса
			released, err := releaseLockScript.Run(context.Background(), l.client, []string{key}, token).Int()
			if err != nil {
				l.logger.Error("Failed to release user lock", zap.Int64("user_id", userID), zap.Error(err))
				return
			}
			if released == 0 {
				l.logger.Warn("User lock expired before release", zap.Int64("user_id", userID), zap.Duration("ttl", l.ttl))
			}
		})
	}, nil
}
