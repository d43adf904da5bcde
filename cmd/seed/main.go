package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"progression-server/internal/clock"
	"progression-server/internal/database"
	"progression-server/internal/logger"
	"progression-server/internal/messaging"
	"progression-server/internal/models"
	"progression-server/internal/seed"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "seed",
		Short:         "Content and configuration tool for progression-server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "seed.yml", "path to seed config (env overrides)")

	root.AddCommand(newContentCmd(), newConfigCmd(), newMigrateCmd())
	return root
}

// env собирает то, что нужно каждой подкоманде.
type env struct {
	cfg *seed.Config
	log *zap.Logger
}

func loadEnv() (*env, error) {
	cfg, err := seed.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: "console", ServiceName: "seed"})
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log}, nil
}

func newContentCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Upsert fragments, choices, achievements, missions, profiles and configs from YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open content file: %w", err)
			}
			defer f.Close()
			content, err := seed.Decode(f)
			if err != nil {
				return err
			}

			pool, err := database.NewPool(cmd.Context(), database.PoolConfig{DSN: e.cfg.Database.DSN, MaxConns: 2}, e.log)
			if err != nil {
				return err
			}
			defer pool.Close()

			loader := seed.NewLoader(database.NewTxManager(pool, e.log), seed.Repositories{
				Content:      database.NewPgStoryContentRepository(e.log),
				Achievements: database.NewPgAchievementRepository(e.log),
				Missions:     database.NewPgMissionRepository(e.log),
				Emotional:    database.NewPgEmotionalRepository(e.log),
				Configs:      database.NewPgDynamicConfigRepository(e.log),
			}, clock.Real{}, e.log)

			summary, err := loader.Apply(cmd.Context(), content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fragments=%d choices=%d achievements=%d missions=%d profiles=%d configs=%d\n",
				summary.Fragments, summary.Choices, summary.Achievements, summary.Missions, summary.Profiles, summary.Configs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "content YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage dynamic gameplay configuration",
	}

	var description string
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Upsert a dynamic config value and notify running servers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			pool, err := database.NewPool(cmd.Context(), database.PoolConfig{DSN: e.cfg.Database.DSN, MaxConns: 1}, e.log)
			if err != nil {
				return err
			}
			defer pool.Close()

			cfg := &models.DynamicConfig{Key: args[0], Value: args[1], Description: description}
			if err := database.NewPgDynamicConfigRepository(e.log).Upsert(cmd.Context(), pool, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", cfg.Key, cfg.Value)

			if e.cfg.RabbitMQ.SkipConfigUpdates || e.cfg.RabbitMQ.URL == "" {
				e.log.Info("Config update notification skipped", zap.String("key", cfg.Key))
				return nil
			}
			return notifyConfigUpdate(cmd.Context(), e, models.ConfigUpdatePayload{Key: cfg.Key, Value: cfg.Value})
		},
	}
	set.Flags().StringVarP(&description, "description", "d", "", "description stored with the value")

	cmd.AddCommand(set)
	return cmd
}

func notifyConfigUpdate(ctx context.Context, e *env, payload models.ConfigUpdatePayload) error {
	conn, err := amqp.Dial(e.cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("config saved but RabbitMQ is unavailable: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	publisher, err := messaging.NewConfigUpdatePublisher(ch, e.log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return publisher.Publish(ctx, payload)
}

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			if down {
				if err := database.RollbackMigrations(e.cfg.Database.DSN); err != nil {
					return err
				}
				e.log.Warn("All migrations rolled back")
				return nil
			}
			return database.ApplyMigrations(e.cfg.Database.DSN, e.log)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	return cmd
}
