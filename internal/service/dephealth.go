// dephealth.go — интеграция с topologymetrics SDK для мониторинга backend репозитория.
//
// LARS Uploader мониторит одну зависимость в зависимости от backend:
//   - postgres — SQL checker через существующий pgxpool (connection pool mode, critical)
//   - rest — HTTP checker к списку ресурсов удалённого репозитория (critical)
//
// Каталоговый backend не мониторится.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigkaa/goartstore/lars-uploader/internal/config"
)

// ErrNoDependency — для backend нет зависимости, которую можно мониторить.
var ErrNoDependency = errors.New("нет зависимостей для мониторинга")

// DependencyTarget — описание backend для мониторинга.
type DependencyTarget struct {
	// Backend — тип backend (postgres, rest)
	Backend string
	// DB — *sql.DB из pgxpool через stdlib.OpenDBFromPool() (для postgres)
	DB *sql.DB
	// URL — URL backend (для метрик/лейблов; для rest также адрес проверки)
	URL string
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	name   string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(
	serviceID string,
	group string,
	target DependencyTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, target, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	target DependencyTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, target, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	target DependencyTarget,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	depOpts := []dephealth.DependencyOption{
		dephealth.FromURL(target.URL),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(true),
	}

	var (
		dep  dephealth.Option
		name string
	)
	switch target.Backend {
	case config.BackendPostgres:
		if target.DB == nil {
			return nil, errors.New("postgres: не задан *sql.DB")
		}
		name = "postgresql"
		dep = dephealth.AddDependency(name, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(target.DB)), depOpts...)
	case config.BackendREST:
		healthPath, err := restHealthPath(target.URL)
		if err != nil {
			return nil, err
		}
		depOpts = append(depOpts, dephealth.WithHTTPHealthPath(healthPath))
		if strings.HasPrefix(target.URL, "https://") {
			depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		name = "asset-repository"
		dep = dephealth.HTTP(name, depOpts...)
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrNoDependency, target.Backend)
	}

	opts := make([]dephealth.Option, 0, 2+len(extraOpts))
	opts = append(opts, dephealth.WithLogger(logger), dep)
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		name:   name,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// restHealthPath возвращает путь проверки REST-репозитория: базовый путь + /assets.
func restHealthPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("некорректный URL репозитория %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("некорректный URL репозитория %q: схема должна быть http или https", rawURL)
	}
	return strings.TrimRight(u.Path, "/") + "/assets", nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.String("dependency", ds.name))
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
