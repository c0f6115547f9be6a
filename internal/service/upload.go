// Пакет service — сервисный слой LARS Uploader.
// upload.go — загрузка ресурсов по стратегиям, переходы состояний,
// управление кэшем видимости.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
	"github.com/bigkaa/goartstore/lars-uploader/internal/resource"
	"github.com/bigkaa/goartstore/lars-uploader/internal/strategy"
)

// Prometheus-метрики загрузок.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lars_uploads_total",
		Help: "Общее количество загрузок ресурсов по стратегиям и результату.",
	}, []string{"strategy", "result"})
	uploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lars_upload_duration_seconds",
		Help:    "Длительность загрузки ресурса в секундах.",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})
	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lars_state_transitions_total",
		Help: "Общее количество выполненных действий жизненного цикла.",
	}, []string{"action"})
)

// AttachmentUpload — вложение в запросе загрузки.
type AttachmentUpload struct {
	// Meta — метаданные вложения
	Meta model.Attachment
	// Content — содержимое (nil для вложений-ссылок)
	Content []byte
}

// UploadParams — параметры загрузки ресурса.
type UploadParams struct {
	// Asset — запись ресурса (без ID)
	Asset *model.Asset
	// Attachments — вложения
	Attachments []AttachmentUpload
	// Strategy — имя стратегии (пустое — стратегия по умолчанию)
	Strategy string
	// TargetState — целевое состояние (пустое — по умолчанию стратегии)
	TargetState lifecycle.State
	// ReplaceID — ресурс, заменяемый стратегией replace (опционально)
	ReplaceID string
	// DeleteID — дополнительный ресурс для удаления (add_then_delete, add_then_hide_old)
	DeleteID string
}

// UploadResult — результат загрузки.
type UploadResult struct {
	// Asset — итоговая запись ресурса
	Asset *model.Asset
	// Strategy — применённая стратегия
	Strategy string
	// MatchedIDs — ресурсы с тем же ключом идентичности на момент загрузки
	MatchedIDs []string
}

// UploadOptions — параметры сервиса загрузки.
type UploadOptions struct {
	DefaultStrategy       string
	DefaultTargetState    lifecycle.State
	EditionChecking       bool
	AttachmentConcurrency int
}

// UploadService — сервис загрузки ресурсов.
// Владеет кэшем видимости, общим для всех загрузок add_then_hide_old.
type UploadService struct {
	conn   client.Connection
	cache  *strategy.VisibilityCache
	opts   UploadOptions
	logger *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
func NewUploadService(conn client.Connection, cache *strategy.VisibilityCache, opts UploadOptions, logger *slog.Logger) *UploadService {
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = strategy.NameAddThenHideOld
	}
	if opts.AttachmentConcurrency <= 0 {
		opts.AttachmentConcurrency = resource.DefaultAttachmentConcurrency
	}
	return &UploadService{
		conn:   conn,
		cache:  cache,
		opts:   opts,
		logger: logger.With(slog.String("component", "upload_service")),
	}
}

// Upload загружает ресурс выбранной стратегией.
//
// Поток:
//  1. Выбор стратегии и разрешение явно заданных ресурсов (replace/delete)
//  2. Генерация полей (vanity URL, проверка applies-to и редакций)
//  3. Поиск совпадений по ключу идентичности
//  4. Выполнение стратегии
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	if params.Asset == nil {
		return nil, fmt.Errorf("%w: запись ресурса не задана", ErrValidation)
	}
	if params.Asset.ID != "" {
		return nil, fmt.Errorf("%w: новый ресурс не должен содержать ID", ErrValidation)
	}
	if params.TargetState != "" && !params.TargetState.IsValid() {
		return nil, fmt.Errorf("%w: недопустимое целевое состояние %q", ErrValidation, params.TargetState)
	}

	name := params.Strategy
	if name == "" {
		name = s.opts.DefaultStrategy
	}
	start := time.Now()

	result, err := s.upload(ctx, name, params)
	uploadDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		uploadsTotal.WithLabelValues(name, "error").Inc()
		s.logger.Error("Ошибка загрузки ресурса",
			slog.String("strategy", name),
			slog.String("name", params.Asset.Name),
			slog.String("type", string(params.Asset.Type)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	uploadsTotal.WithLabelValues(name, "ok").Inc()
	s.logger.Info("Ресурс загружен",
		slog.String("strategy", name),
		slog.String("resource_id", result.Asset.ID),
		slog.String("state", string(result.Asset.State)),
		slog.String("vanity_url", result.Asset.VanityURL),
		slog.Int("matches", len(result.MatchedIDs)),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (s *UploadService) upload(ctx context.Context, name string, params UploadParams) (*UploadResult, error) {
	strat, err := s.strategyFor(ctx, name, params)
	if err != nil {
		return nil, err
	}

	candidate := resource.New(s.conn, params.Asset.WithoutAttachments(),
		resource.WithAttachmentConcurrency(s.opts.AttachmentConcurrency))
	for _, att := range params.Attachments {
		if att.Content == nil {
			if !att.Meta.IsLink() {
				return nil, fmt.Errorf("%w: вложение %q без содержимого", ErrValidation, att.Meta.Name)
			}
			candidate.AddAttachment(att.Meta, nil)
			continue
		}
		candidate.AddAttachment(att.Meta, bytesSource(att.Content))
	}

	if err := candidate.GenerateFields(strat.PerformEditionChecking()); err != nil {
		return nil, err
	}

	matches, err := strat.FindMatchingResources(ctx, candidate)
	if err != nil {
		return nil, err
	}
	matchedIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		matchedIDs = append(matchedIDs, m.ID())
	}
	s.logger.Debug("Найдены совпадения",
		slog.String("vanity_url", candidate.Asset.VanityURL),
		slog.Any("matched_ids", matchedIDs),
	)

	uploaded, err := strat.UploadAsset(ctx, candidate, matches)
	// Остальные стратегии не ведут кэш видимости, а могли опубликовать,
	// изменить или удалить видимый ресурс (в том числе до ошибки).
	if name != strategy.NameAddThenHideOld && candidate.Asset.Type.WebDisplayable() {
		s.cache.Invalidate()
	}
	if err != nil {
		return nil, err
	}
	return &UploadResult{Asset: uploaded.Asset, Strategy: name, MatchedIDs: matchedIDs}, nil
}

// strategyFor создаёт стратегию по имени.
func (s *UploadService) strategyFor(ctx context.Context, name string, params UploadParams) (strategy.UploadStrategy, error) {
	target := params.TargetState
	if target == "" {
		target = s.opts.DefaultTargetState
	}
	opts := strategy.Options{
		TargetState:     target,
		EditionChecking: s.opts.EditionChecking,
		Logger:          s.logger,
	}

	switch name {
	case strategy.NameAddNew:
		return strategy.NewAddNew(s.conn, opts), nil
	case strategy.NameReplace:
		explicit, err := s.optionalResource(ctx, params.ReplaceID)
		if err != nil {
			return nil, err
		}
		return strategy.NewAssetOnlyReplacement(s.conn, opts, explicit), nil
	case strategy.NameAddThenDelete:
		extra, err := s.optionalResource(ctx, params.DeleteID)
		if err != nil {
			return nil, err
		}
		return strategy.NewAddThenDelete(s.conn, opts, extra), nil
	case strategy.NameAddThenHideOld:
		extra, err := s.optionalResource(ctx, params.DeleteID)
		if err != nil {
			return nil, err
		}
		return strategy.NewAddThenHideOld(s.conn, opts, extra, s.cache), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

func (s *UploadService) optionalResource(ctx context.Context, id string) (*resource.Resource, error) {
	if id == "" {
		return nil, nil
	}
	asset, err := s.conn.ReadClient().GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	return resource.New(s.conn, asset, resource.WithAttachmentConcurrency(s.opts.AttachmentConcurrency)), nil
}

// GetAsset возвращает запись ресурса.
func (s *UploadService) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return s.conn.ReadClient().GetAsset(ctx, id)
}

// MoveToState переводит ресурс в target и возвращает запись и историю шагов.
// При ошибке на промежуточном шаге история содержит выполненные шаги.
func (s *UploadService) MoveToState(ctx context.Context, id string, target lifecycle.State) (*model.Asset, []lifecycle.TransitionRecord, error) {
	asset, err := s.conn.ReadClient().GetAsset(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	r := resource.New(s.conn, asset)

	history, err := r.MoveToState(ctx, target)
	for _, rec := range history {
		stateTransitionsTotal.WithLabelValues(string(rec.Action)).Inc()
	}
	if err != nil {
		s.logger.Warn("Переход состояния не выполнен",
			slog.String("resource_id", id),
			slog.String("target", string(target)),
			slog.Int("completed_hops", len(history)),
			slog.String("error", err.Error()),
		)
		return nil, history, err
	}

	// Изменение состояния меняет видимость ресурса на сайте.
	if len(history) > 0 && r.Asset.Type.WebDisplayable() {
		s.cache.Invalidate()
	}
	s.logger.Info("Состояние ресурса изменено",
		slog.String("resource_id", id),
		slog.String("state", string(r.State())),
		slog.Int("hops", len(history)),
	)
	return r.Asset, history, nil
}

// RebuildVisibilityCache перестраивает кэш видимости и возвращает число записей.
func (s *UploadService) RebuildVisibilityCache(ctx context.Context) (int, error) {
	if err := s.cache.Rebuild(ctx, s.conn.ReadClient(), ""); err != nil {
		return 0, err
	}
	n := s.cache.Len()
	s.logger.Info("Кэш видимости перестроен", slog.Int("entries", n))
	return n, nil
}

func bytesSource(data []byte) resource.ContentSource {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}
