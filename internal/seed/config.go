package seed

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config настраивает seed CLI. Файл необязателен, переменные окружения переопределяют его.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"SEED_DATABASE_DSN" env-required:"true"`
}

type RabbitMQConfig struct {
	URL string `yaml:"url" env:"RABBITMQ_URL"`
	// Не рассылать config_update после `config set`. Пустой URL тоже отключает рассылку
	SkipConfigUpdates bool `yaml:"skip_config_updates" env:"SEED_SKIP_CONFIG_UPDATES"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// LoadConfig reads path when it exists and the environment otherwise.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
			}
			return &cfg, nil
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации из окружения: %w", err)
	}
	return &cfg, nil
}
