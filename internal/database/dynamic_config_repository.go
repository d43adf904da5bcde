package database

import (
	"context"
	"fmt"

	"progression-server/internal/interfaces"
	"progression-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"go.uber.org/zap"
)

const (
	getDynamicConfigByKeyQuery = `SELECT key, value, description, created_at, updated_at FROM dynamic_configs WHERE key = $1`
	getAllDynamicConfigsQuery  = `SELECT key, value, description, created_at, updated_at FROM dynamic_configs ORDER BY key`
	upsertDynamicConfigQuery   = `
        INSERT INTO dynamic_configs (key, value, description)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            description = COALESCE(NULLIF(EXCLUDED.description, ''), dynamic_configs.description)
            -- updated_at обновляется триггером
    `
)

type pgDynamicConfigRepository struct {
	logger *zap.Logger
}

var _ interfaces.DynamicConfigRepository = (*pgDynamicConfigRepository)(nil)

// NewPgDynamicConfigRepository создает новый экземпляр репозитория динамических настроек.
func NewPgDynamicConfigRepository(logger *zap.Logger) interfaces.DynamicConfigRepository {
	return &pgDynamicConfigRepository{logger: logger.Named("DynamicConfigRepo")}
}

// GetByKey возвращает настройку по ее ключу.
func (r *pgDynamicConfigRepository) GetByKey(ctx context.Context, querier interfaces.DBTX, key string) (*models.DynamicConfig, error) {
	var config models.DynamicConfig
	if err := pgxscan.Get(ctx, querier, &config, getDynamicConfigByKeyQuery, key); err != nil {
		if err = WrapNotFound(err); err == models.ErrNotFound {
			r.logger.Warn("Dynamic config not found by key", zap.String("query_key", key))
			return nil, err
		}
		r.logger.Error("Error getting dynamic config by key", zap.String("query_key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get dynamic config by key %s: %w", key, err)
	}
	return &config, nil
}

// GetAll возвращает все динамические настройки.
func (r *pgDynamicConfigRepository) GetAll(ctx context.Context, querier interfaces.DBTX) ([]*models.DynamicConfig, error) {
	configs := []*models.DynamicConfig{}
	if err := pgxscan.Select(ctx, querier, &configs, getAllDynamicConfigsQuery); err != nil {
		r.logger.Error("Error getting all dynamic configs", zap.Error(err))
		return nil, fmt.Errorf("failed to get all dynamic configs: %w", err)
	}
	return configs, nil
}

// Upsert создает или обновляет настройку.
func (r *pgDynamicConfigRepository) Upsert(ctx context.Context, querier interfaces.DBTX, config *models.DynamicConfig) error {
	if _, err := querier.Exec(ctx, upsertDynamicConfigQuery, config.Key, config.Value, config.Description); err != nil {
		r.logger.Error("Error upserting dynamic config", zap.String("key", config.Key), zap.Error(err))
		return fmt.Errorf("failed to upsert dynamic config with key %s: %w", config.Key, err)
	}
	r.logger.Info("Dynamic config upserted successfully", zap.String("key", config.Key))
	return nil
}
