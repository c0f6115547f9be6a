// Точка входа LARS Uploader — сервис загрузки ресурсов в репозиторий.
// Загружает конфигурацию, подключает backend репозитория (каталог, PostgreSQL
// или REST), создаёт сервис загрузки с общим кэшем видимости, запускает
// мониторинг зависимостей и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/lars-uploader/internal/api/handlers"
	"github.com/bigkaa/goartstore/lars-uploader/internal/api/middleware"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client/cached"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client/dirclient"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client/pgclient"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client/restclient"
	"github.com/bigkaa/goartstore/lars-uploader/internal/config"
	"github.com/bigkaa/goartstore/lars-uploader/internal/database"
	"github.com/bigkaa/goartstore/lars-uploader/internal/server"
	"github.com/bigkaa/goartstore/lars-uploader/internal/service"
	"github.com/bigkaa/goartstore/lars-uploader/internal/strategy"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("LARS Uploader запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("backend", cfg.Backend),
		slog.String("location", cfg.Location()),
	)

	ctx := context.Background()

	// 3. Backend репозитория
	var (
		wc   client.WriteClient
		pgDB *sql.DB
	)
	switch cfg.Backend {
	case config.BackendPostgres:
		logger.Info("Применение миграций БД...")
		if _, err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
		var pool *pgxpool.Pool
		pool, err = database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		wc = pgclient.New(pool, cfg.Location())
	case config.BackendREST:
		wc, err = restclient.New(cfg.RESTURL, cfg.RESTCACertPath, cfg.RESTTimeout, logger)
		if err != nil {
			logger.Error("Ошибка создания REST-клиента", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		dc := dirclient.New(cfg.DataDir, logger)
		if err := dc.Init(); err != nil {
			logger.Error("Ошибка инициализации репозитория", slog.String("error", err.Error()))
			os.Exit(1)
		}
		wc = dc
	}

	// 4. Кэш записей ресурсов
	if cfg.AssetCacheSize > 0 {
		wc = cached.New(wc, cfg.AssetCacheSize, cfg.AssetCacheTTL)
		logger.Info("Кэш ресурсов включён",
			slog.Int("size", cfg.AssetCacheSize),
			slog.Duration("ttl", cfg.AssetCacheTTL),
		)
	}
	conn := client.NewConnection(cfg.Location(), wc)

	if err := conn.ReadClient().CheckStatus(ctx); err != nil {
		logger.Warn("Репозиторий недоступен при запуске", slog.String("error", err.Error()))
	}

	// 5. Сервисы
	visibility := strategy.NewVisibilityCache(logger)
	uploadSvc := service.NewUploadService(conn, visibility, service.UploadOptions{
		DefaultStrategy:       cfg.DefaultStrategy,
		DefaultTargetState:    cfg.DefaultTargetState,
		EditionChecking:       cfg.EditionChecking,
		AttachmentConcurrency: cfg.AttachmentConcurrency,
	}, logger)

	// 6. topologymetrics — мониторинг backend (ошибки не блокируют запуск)
	if cfg.DephealthEnabled && cfg.Backend != config.BackendDirectory {
		dephealthSvc, dephealthErr := service.NewDephealthService(
			"lars-uploader",
			cfg.DephealthGroup,
			service.DependencyTarget{Backend: cfg.Backend, DB: pgDB, URL: cfg.Location()},
			cfg.DephealthCheckInterval,
			logger,
		)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
		} else {
			if startErr := dephealthSvc.Start(ctx); startErr != nil {
				logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
			} else {
				defer dephealthSvc.Stop()
			}
		}
	}

	// 7. API handlers
	healthHandler := handlers.NewHealthHandler(service.NewBackendReadinessChecker(conn), visibility)
	apiHandler := handlers.NewAPIHandler(healthHandler, uploadSvc, cfg.MaxUploadBytes, logger)

	// 8. HTTP-сервер: метрики, логирование запросов
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("LARS Uploader остановлен")
}

