package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"progression-server/internal/authutils"
	"progression-server/internal/clock"
	"progression-server/internal/config"
	"progression-server/internal/configservice"
	"progression-server/internal/database"
	"progression-server/internal/emotional"
	"progression-server/internal/eventbus"
	"progression-server/internal/gamification"
	"progression-server/internal/handler"
	"progression-server/internal/interfaces"
	"progression-server/internal/logger"
	"progression-server/internal/messaging"
	"progression-server/internal/narrative"
	"progression-server/internal/orchestrator"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, ServiceName: cfg.ServiceID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("progression-server stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("progression-server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting progression-server",
		zap.String("env", cfg.Env),
		zap.String("port", cfg.Port),
		zap.String("db", cfg.RedactedDSN()),
		zap.String("lock_backend", cfg.LockBackend),
	)

	// --- PostgreSQL ---
	if cfg.AutoMigrate {
		if err := database.ApplyMigrations(cfg.GetDSN(), log); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}
	pool, err := database.NewPool(ctx, database.PoolConfig{
		DSN:         cfg.GetDSN(),
		MaxConns:    cfg.DBMaxConns,
		IdleTimeout: cfg.DBIdleTimeout,
	}, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	// --- Gameplay configuration ---
	configRepo := database.NewPgDynamicConfigRepository(log)
	cfgService, err := configservice.NewConfigService(ctx, configRepo, log, pool)
	if err != nil {
		return fmt.Errorf("failed to load dynamic configs: %w", err)
	}

	// --- RabbitMQ ---
	mqConn, err := connectRabbitMQ(ctx, cfg.RabbitMQURL, cfg.RabbitMQConnectRetries, log)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer mqConn.Close()

	clk := clock.Real{}
	publishCh, err := mqConn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open publish channel: %w", err)
	}
	eventPublisher, err := messaging.NewEventPublisher(publishCh, cfg.ProgressionExchange, clk, log)
	if err != nil {
		return err
	}
	defer eventPublisher.Close()

	// --- User lock ---
	locker, closeLocker, err := setupLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	// --- Engines ---
	bus := eventbus.New(log)
	ledger := gamification.NewLedger(
		database.NewPgPointsRepository(log),
		database.NewPgAchievementRepository(log),
		database.NewPgMissionRepository(log),
		bus, cfgService, clk, log,
	)
	emotionalModel := emotional.NewModel(database.NewPgEmotionalRepository(log), emotional.NewKeywordAnalyzer(), bus, cfgService, clk, log)
	narrativeEngine := narrative.NewEngine(
		database.NewPgStoryContentRepository(log),
		database.NewPgNarrativeStateRepository(log),
		ledger, emotionalModel, bus, cfgService, clk, log,
	)
	orch := orchestrator.New(orchestrator.Deps{
		Session:   database.NewTxManager(pool, log),
		Locker:    locker,
		Ledger:    ledger,
		Emotional: emotionalModel,
		Narrative: narrativeEngine,
		Bus:       bus,
		Broker:    eventPublisher,
		Config:    cfgService,
		Clock:     clk,
	}, log)

	// Порядок важен: обработчики вызываются в порядке регистрации, outbox последним.
	bus.AutoSubscribe("gamification", ledger)
	bus.AutoSubscribe("narrative", narrativeEngine)
	bus.AutoSubscribe("outbox", orch)

	// --- HTTP ---
	verifier, err := authutils.NewJWTVerifier(cfg.InterServiceSecret, clk, log)
	if err != nil {
		return err
	}
	router := setupRouter(cfg, log)
	handler.NewProgressionHandler(orch, verifier, log).RegisterRoutes(router)
	ginprometheus.NewPrometheus("gin").Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if cfg.ConfigUpdatesConsumer {
		consumerCh, err := mqConn.Channel()
		if err != nil {
			return fmt.Errorf("failed to open consumer channel: %w", err)
		}
		consumer, err := messaging.NewConfigUpdateConsumer(consumerCh, cfgService, log)
		if err != nil {
			_ = consumerCh.Close()
			return err
		}
		g.Go(func() error {
			return consumer.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down HTTP server...", zap.Duration("timeout", cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func setupRouter(cfg *config.Config, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(handler.ZapLogger(log))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", handler.InterServiceTokenHeader, handler.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)
	return router
}

func setupLocker(ctx context.Context, cfg *config.Config, log *zap.Logger) (interfaces.UserLocker, func(), error) {
	if cfg.LockBackend != config.LockBackendRedis {
		log.Info("Using in-process user locker")
		return orchestrator.NewLocalUserLocker(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	log.Info("Using Redis user locker", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.LockTTL))
	return database.NewRedisUserLocker(client, cfg.LockTTL, log), func() { _ = client.Close() }, nil
}

func connectRabbitMQ(ctx context.Context, url string, maxRetries int, log *zap.Logger) (*amqp.Connection, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryDelay := 5 * time.Second
	var err error
	for i := 0; i < maxRetries; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			log.Info("Connected to RabbitMQ")
			return conn, nil
		}
		log.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, err
}
