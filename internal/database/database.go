// Пакет database — хранилище PostgreSQL для backend postgres:
// пул подключений pgxpool и схема репозитория ресурсов (golang-migrate).
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/lars-uploader/internal/config"
)

// applicationName — имя клиента в pg_stat_activity.
const applicationName = "lars-uploader"

// ErrDirtySchema — предыдущая миграция прервана, схема репозитория
// в промежуточном состоянии и требует ручного исправления.
var ErrDirtySchema = errors.New("схема репозитория ресурсов в состоянии dirty")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect открывает пул подключений к репозиторию и проверяет его ping.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN репозитория %s: %w", cfg.Location(), err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("пул подключений к %s: %w", cfg.Location(), err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("репозиторий %s недоступен: %w", cfg.Location(), err)
	}

	logger.Info("Репозиторий PostgreSQL подключён",
		slog.String("location", cfg.Location()),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// Migrate приводит схему репозитория (assets, attachments) к последней
// версии и возвращает её номер. Схема в состоянии dirty не изменяется:
// возвращается ErrDirtySchema.
func Migrate(cfg *config.Config, logger *slog.Logger) (uint, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("источник миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return 0, fmt.Errorf("миграции репозитория %s: %w", cfg.Location(), err)
	}
	defer m.Close()

	before, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("версия схемы: %w", err)
	}
	if dirty {
		return before, fmt.Errorf("%w: версия %d", ErrDirtySchema, before)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return before, fmt.Errorf("применение миграций: %w", err)
	}

	after, _, err := m.Version()
	if err != nil {
		return before, fmt.Errorf("версия схемы: %w", err)
	}
	if after != before {
		logger.Info("Схема репозитория обновлена",
			slog.String("location", cfg.Location()),
			slog.Uint64("from", uint64(before)),
			slog.Uint64("to", uint64(after)),
		)
	} else {
		logger.Debug("Схема репозитория актуальна", slog.Uint64("version", uint64(after)))
	}
	return after, nil
}
