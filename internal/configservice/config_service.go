package configservice

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"go.uber.org/zap"
)

// Ключи игровой конфигурации и значения по умолчанию.
const (
	KeyPointsPerMessage          = "points.per_message"
	KeyPointsPerReaction         = "points.per_reaction"
	KeyPointsPerPoll             = "points.per_poll"
	KeyVIPMultiplier             = "points.vip_multiplier"
	KeyDailyGift                 = "points.daily_gift"
	KeyNarrativeProgressionPts   = "narrative.progression_points"
	KeyNarrativeEntryFragment    = "narrative.entry_fragment"
	KeyLevels                    = "gamification.levels"
	KeyLevelAchievements         = "gamification.level_achievements"
	KeyEmotionalDefaultCharacter = "emotional.default_character"
	KeyMemoryForgetAfter         = "emotional.memory_forget_after"

	DefaultPointsPerMessage          = 5
	DefaultPointsPerReaction         = 1
	DefaultPointsPerPoll             = 3
	DefaultVIPMultiplier             = 2.0
	DefaultDailyGift                 = 10
	DefaultNarrativeProgressionPts   = 5
	DefaultNarrativeEntryFragment    = models.DefaultEntryFragmentKey
	DefaultEmotionalDefaultCharacter = "Diana"
	DefaultMemoryForgetAfter         = 30 * 24 * time.Hour
)

// ConfigService is a thread-safe cache of dot-path configuration values loaded from dynamic_configs.
// It is passed explicitly to every engine constructor.
type ConfigService struct {
	logger  *zap.Logger
	repo    interfaces.DynamicConfigRepository
	db      interfaces.DBTX
	mu      sync.RWMutex
	configs map[string]string
}

// NewConfigService создает сервис и загружает начальные значения из БД.
func NewConfigService(ctx context.Context, repo interfaces.DynamicConfigRepository, logger *zap.Logger, db interfaces.DBTX) (*ConfigService, error) {
	cs := &ConfigService{
		logger:  logger.Named("ConfigService"),
		repo:    repo,
		db:      db,
		configs: make(map[string]string),
	}
	if err := cs.Reload(ctx); err != nil {
		cs.logger.Error("Failed to load dynamic configs", zap.Error(err))
		return nil, err
	}
	cs.logger.Info("Dynamic configs loaded", zap.Int("count", cs.Len()))
	return cs, nil
}

// NewStatic builds a service over fixed values, without a repository.
func NewStatic(values map[string]string, logger *zap.Logger) *ConfigService {
	configs := make(map[string]string, len(values))
	for k, v := range values {
		configs[k] = v
	}
	return &ConfigService{logger: logger.Named("ConfigService"), configs: configs}
}

// Reload replaces the cache with the current contents of the repository.
func (cs *ConfigService) Reload(ctx context.Context) error {
	if cs.repo == nil {
		return nil
	}
	configs, err := cs.repo.GetAll(ctx, cs.db)
	if err != nil {
		return err
	}
	fresh := make(map[string]string, len(configs))
	for _, cfg := range configs {
		fresh[cfg.Key] = cfg.Value
	}
	cs.mu.Lock()
	cs.configs = fresh
	cs.mu.Unlock()
	return nil
}

// Len returns the number of cached keys.
func (cs *ConfigService) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.configs)
}

func (cs *ConfigService) get(key string) (string, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	val, ok := cs.configs[key]
	return val, ok
}

// GetString возвращает строковое значение или значение по умолчанию.
func (cs *ConfigService) GetString(key string, defaultValue string) string {
	val, ok := cs.get(key)
	if !ok || strings.TrimSpace(val) == "" {
		return defaultValue
	}
	return val
}

// GetInt возвращает целочисленное значение или значение по умолчанию.
func (cs *ConfigService) GetInt(key string, defaultValue int) int {
	strVal, ok := cs.get(key)
	if !ok {
		return defaultValue
	}
	intVal, err := strconv.Atoi(strings.TrimSpace(strVal))
	if err != nil {
		cs.logger.Warn("Failed to parse int config, using default", zap.String("key", key), zap.String("value", strVal), zap.Error(err), zap.Int("default", defaultValue))
		return defaultValue
	}
	return intVal
}

// GetFloat возвращает float64 значение или значение по умолчанию.
func (cs *ConfigService) GetFloat(key string, defaultValue float64) float64 {
	strVal, ok := cs.get(key)
	if !ok {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(strings.TrimSpace(strVal), 64)
	if err != nil {
		cs.logger.Warn("Failed to parse float config, using default", zap.String("key", key), zap.String("value", strVal), zap.Error(err), zap.Float64("default", defaultValue))
		return defaultValue
	}
	return floatVal
}

// GetDuration возвращает time.Duration значение или значение по умолчанию.
func (cs *ConfigService) GetDuration(key string, defaultValue time.Duration) time.Duration {
	strVal, ok := cs.get(key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(strVal))
	if err != nil {
		cs.logger.Warn("Failed to parse duration config, using default", zap.String("key", key), zap.String("value", strVal), zap.Error(err), zap.Duration("default", defaultValue))
		return defaultValue
	}
	return d
}

// Update обновляет значение в кэше. Вызывается консьюмером config_update_exchange.
func (cs *ConfigService) Update(config models.DynamicConfig) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.logger.Info("Updating dynamic config in cache", zap.String("key", config.Key), zap.String("new_value", config.Value))
	cs.configs[config.Key] = config.Value
}
