package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"venue-sync-engine/config"
	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	"venue-sync-engine/internal/repository/postgres"
	"venue-sync-engine/internal/service/health"
	"venue-sync-engine/internal/service/oauth"
	"venue-sync-engine/internal/service/queue"
	"venue-sync-engine/internal/service/recovery"
	"venue-sync-engine/internal/service/scheduler"
	"venue-sync-engine/internal/service/vault"
	"venue-sync-engine/internal/service/worker"
	"venue-sync-engine/internal/transport/api"
	"venue-sync-engine/internal/transport/middleware"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Загружаем и проверяем конфигурацию
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Подключаемся к БД
	db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Выполняем миграции
	if err := postgres.RunMigrations(db.DB, cfg.MigrationPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Инициализируем репозитории
	integrationRepo := postgres.NewIntegrationRepository(db)
	credentialRepo := postgres.NewCredentialRepository(db)
	taskRepo := postgres.NewTaskRepository(db)
	healthRepo := postgres.NewHealthRepository(db)

	// Хранилище секретов
	credVault, err := vault.NewVault(cfg.EncryptionKeys, cfg.ActiveKeyVersion, credentialRepo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize vault")
	}

	// Реестр адаптеров заполняется один раз на старте
	// Боевые адаптеры живут вне ядра и подключаются здесь же
	registry := provider.NewRegistry()
	if cfg.Env != "production" {
		mock := provider.NewMockProvider()
		mock.WebhookSecret = cfg.WebhookSecret
		registry.Register(domain.IntegrationSquare, mock)
		registry.Register(domain.IntegrationSalesforce, mock)
		registry.Register(domain.IntegrationQuickbooks, mock)
	}

	// Сервисы ядра
	queueCfg := queue.DefaultConfig()
	queueCfg.DefaultMaxAttempts = cfg.MaxAttempts
	queueCfg.DefaultTTL = cfg.TaskTTL
	queueSvc := queue.NewService(taskRepo, queueCfg)

	recoveryCfg := recovery.DefaultConfig()
	recoveryCfg.BaseDelay = cfg.RetryBaseDelay
	recoveryCfg.MaxDelay = cfg.RetryMaxDelay
	recoveryCfg.StaleAfter = cfg.StaleAfter
	recoverySvc := recovery.NewService(taskRepo, integrationRepo, credVault, registry, recoveryCfg)

	healthMon := health.NewMonitor(integrationRepo, taskRepo, healthRepo, credVault, registry, health.DefaultConfig())
	oauthMgr := oauth.NewManager(credVault, registry, integrationRepo)

	workerCfg := worker.DefaultConfig()
	workerCfg.Workers = cfg.Workers
	workerCfg.CallTimeout = cfg.CallTimeout
	pool := worker.NewPool(queueSvc, recoverySvc, credVault, registry, integrationRepo, workerCfg)

	backgroundSvc := scheduler.NewService(oauthMgr, healthMon, recoverySvc, queueSvc)

	// Создаем Echo сервер
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recovery())
	e.Use(echoMiddleware.CORS())

	authMiddleware := middleware.NewAuthMiddleware(integrationRepo, cfg.JWTSecret)
	api.SetupRoutes(e, integrationRepo, credVault, queueSvc, healthMon, oauthMgr, registry, authMiddleware)

	// Запускаем фоновые компоненты
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := backgroundSvc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start background scheduler")
	}
	pool.Start(ctx)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil {
			log.Info().Err(err).Msg("server stopped")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	backgroundSvc.Stop()
	cancel()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server shutdown failed")
	}
}
