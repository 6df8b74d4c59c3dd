package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"stockipv/server/internal/api"
	"stockipv/server/internal/config"
	"stockipv/server/internal/database"
	"stockipv/server/internal/logger"
	"stockipv/server/internal/repository"
	"stockipv/server/internal/repository/memory"
	"stockipv/server/internal/repository/postgres"
	"stockipv/server/internal/services"
	"stockipv/server/internal/utils"
)

func main() {
	// .env необязателен (в production переменные задаются окружением)
	envErr := godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.Environment)
	if envErr != nil {
		logger.Log.Info("ℹ️ .env файл не найден, используем переменные окружения системы")
	} else {
		logger.Log.Info("✅ Переменные окружения загружены из .env файла")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, reportDB, err := openStore(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("❌ Не удалось открыть хранилище")
	}
	defer database.ClosePostgres(db)

	if cfg.SeedFile != "" {
		cat, err := services.LoadCatalogFile(ctx, store, cfg.SeedFile)
		if err != nil {
			logger.Log.WithError(err).Fatalf("❌ Ошибка загрузки каталога %s", cfg.SeedFile)
		}
		logger.Log.Infof("✅ Каталог загружен: %s (%d объектов)", cfg.SeedFile, len(cat.Refs))
	}

	auth := services.NewAuthService(store, cfg.JWTSecret)
	if err := auth.EnsureAdmin(ctx, cfg.AdminLogin, cfg.AdminPassword); err != nil {
		logger.Log.WithError(err).Fatal("❌ Ошибка создания администратора")
	}

	// Получатели событий собираются после сервисов (отчетам нужен IPVService)
	var publishers services.MultiPublisher
	events := services.PublisherFunc(func(ctx context.Context, ev services.TurnEvent) error {
		return publishers.Publish(ctx, ev)
	})

	uoms := services.NewUoMService(store)
	locs := services.NewLocationService(store)
	stock := services.NewStockService(store, locs)
	boms := services.NewBOMService(store, uoms)
	turns := services.NewIPVService(store, stock, boms, uoms, locs, services.IPVConfig{
		SequencePrefix: cfg.SequencePrefix,
		GroupPicking:   cfg.GroupPicking,
	}, events)
	workplaces := services.NewWorkplaceService(store)
	reports := services.NewReportService(store, turns, reportDB)

	hub := api.GlobalHub
	go hub.Run(ctx)

	// Redis: события через pub/sub (несколько инстансов) и кеш карточек смен
	var cache *api.TurnCache
	redisClient, err := database.ConnectRedis(cfg.RedisURL, cfg.RedisSentinelAddrs, cfg.RedisMasterName)
	if err != nil {
		logger.Log.WithError(err).Warn("⚠️ Redis недоступен, события идут напрямую в WebSocket")
		publishers = append(publishers, hub)
	} else {
		defer database.CloseRedis(redisClient)
		redisUtil := utils.NewRedisClient(redisClient)
		cache = api.NewTurnCache(redisUtil, time.Duration(cfg.ViewCacheTTLSec)*time.Second)
		publishers = append(publishers, cache, api.NewRedisEventPublisher(redisUtil))
		go api.RelayRedisEvents(ctx, redisUtil, hub)
	}

	var sales *api.KafkaSalesConsumer
	if cfg.KafkaEnabled() {
		writer := api.NewKafkaEventWriter(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert)
		defer writer.Close()
		publishers = append(publishers, writer)

		sales = api.NewKafkaSalesConsumer(cfg.KafkaBrokers, cfg.KafkaSalesTopic, cfg.KafkaGroupID, turns, cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert)
	} else {
		logger.Log.Info("ℹ️ KAFKA_BROKERS не задан, Kafka отключена")
	}

	if cfg.SFTPEnabled() {
		publishers = append(publishers, services.NewReportUploader(reports, services.SFTPConfig{
			Host:      cfg.SFTPHost,
			Port:      cfg.SFTPPort,
			User:      cfg.SFTPUser,
			Password:  cfg.SFTPPassword,
			RemoteDir: cfg.SFTPRemoteDir,
		}))
		logger.Log.Infof("📤 Отчеты закрытия смен выгружаются на %s:%d", cfg.SFTPHost, cfg.SFTPPort)
	}

	// Список получателей собран, дальше смены могут меняться
	if sales != nil {
		sales.Start()
		defer sales.Stop()
	}

	// gRPC сервер смен
	grpcServer, healthServer := api.NewGRPCServer(turns, auth)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Log.WithError(err).Fatalf("❌ Не удалось открыть порт gRPC %s", cfg.GRPCPort)
	}
	go func() {
		logger.Log.Infof("🚀 gRPC сервер запущен на :%s", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Log.WithError(err).Error("❌ gRPC сервер остановлен с ошибкой")
		}
	}()

	router := api.SetupRouter(api.RouterDeps{
		Turns:      turns,
		Workplaces: workplaces,
		Reports:    reports,
		Auth:       auth,
		Hub:        hub,
		Cache:      cache,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Log.Infof("🚀 HTTP сервер запущен на :%s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.WithError(err).Fatal("❌ HTTP сервер остановлен с ошибкой")
		}
	}()

	<-ctx.Done()
	logger.Log.Info("🛑 Остановка сервиса...")

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Warn("⚠️ HTTP сервер остановлен принудительно")
	}
	grpcServer.GracefulStop()
	logger.Log.Info("✅ Сервис остановлен")
}

// openStore открывает хранилище по IPV_STORAGE: postgres (по умолчанию) или memory
func openStore(cfg *config.Config) (repository.Store, *gorm.DB, *sqlx.DB, error) {
	switch cfg.StorageMode {
	case "memory":
		logger.Log.Warn("⚠️ Хранилище в памяти: данные не переживут перезапуск")
		return memory.New(), nil, nil, nil
	case "postgres", "":
	default:
		return nil, nil, nil, fmt.Errorf("неизвестный режим хранилища %q", cfg.StorageMode)
	}

	logger.Log.Infof("📋 DATABASE_URL: %s", maskPassword(cfg.DatabaseURL))
	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.Environment != "production")
	if err != nil {
		return nil, nil, nil, err
	}
	if err := postgres.Migrate(db); err != nil {
		return nil, nil, nil, fmt.Errorf("ошибка миграции: %w", err)
	}
	reportDB, err := database.Sqlx(db)
	if err != nil {
		return nil, nil, nil, err
	}
	return postgres.New(db), db, reportDB, nil
}

// maskPassword скрывает учетные данные в строке подключения
func maskPassword(url string) string {
	idx := strings.Index(url, "@")
	schemeIdx := strings.Index(url, "://")
	if idx < 0 || schemeIdx < 0 || schemeIdx > idx {
		return url
	}
	return url[:schemeIdx+3] + "***@" + url[idx+1:]
}
