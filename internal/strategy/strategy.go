// Пакет strategy — стратегии загрузки ресурса в репозиторий.
//
// Стратегия получает ресурс-кандидат и найденные совпадения (ресурсы с тем же
// ключом идентичности) и решает, какие операции записи выполнить:
//   - AddNew — всегда создать новый ресурс;
//   - AssetOnlyReplacement — обновить запись существующего ресурса на месте;
//   - AddThenDelete — создать новый ресурс, затем удалить совпадения;
//   - AddThenHideOld — как AddThenDelete, плюс скрыть прежнего владельца vanity URL.
//
// Порядок операций: вложения после получения ID записи, удаление
// совпадений только после перехода нового ресурса в целевое состояние.
package strategy

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/resource"
)

// Имена стратегий.
const (
	NameAddNew         = "add_new"
	NameReplace        = "replace"
	NameAddThenDelete  = "add_then_delete"
	NameAddThenHideOld = "add_then_hide_old"
)

// Prometheus-метрики стратегий.
var (
	deletedResourcesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lars_strategy_deleted_resources_total",
		Help: "Общее количество ресурсов, удалённых стратегиями загрузки.",
	}, []string{"strategy"})
	hiddenResourcesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lars_strategy_hidden_resources_total",
		Help: "Общее количество ресурсов, скрытых при публикации нового владельца vanity URL.",
	})
)

// UploadStrategy — политика загрузки ресурса.
type UploadStrategy interface {
	// Name возвращает имя стратегии.
	Name() string
	// UploadAsset загружает candidate с учётом совпадений matches и
	// возвращает итоговый ресурс.
	UploadAsset(ctx context.Context, candidate *resource.Resource, matches []*resource.Resource) (*resource.Resource, error)
	// FindMatchingResources ищет ресурсы с тем же ключом идентичности.
	FindMatchingResources(ctx context.Context, candidate *resource.Resource) ([]*resource.Resource, error)
	// PerformEditionChecking — проверять ли редакции продукта при генерации полей.
	PerformEditionChecking() bool
}

// Options — общие параметры стратегий.
type Options struct {
	// TargetState — целевое состояние нового ресурса (пустое — по умолчанию стратегии)
	TargetState lifecycle.State
	// EditionChecking — проверка редакций продукта
	EditionChecking bool
	// Logger — logger (обязателен)
	Logger *slog.Logger
}

// base — общая часть стратегий.
type base struct {
	name            string
	conn            client.Connection
	editionChecking bool
	logger          *slog.Logger
}

func newBase(name string, conn client.Connection, opts Options) base {
	return base{
		name:            name,
		conn:            conn,
		editionChecking: opts.EditionChecking,
		logger: opts.Logger.With(
			slog.String("component", "strategy"),
			slog.String("strategy", name),
		),
	}
}

func (b *base) Name() string { return b.name }

func (b *base) PerformEditionChecking() bool { return b.editionChecking }

func (b *base) FindMatchingResources(ctx context.Context, candidate *resource.Resource) ([]*resource.Resource, error) {
	return resource.FindMatchingResources(ctx, b.conn, candidate)
}

// uploadAndMove создаёт ресурс и переводит его в target.
func (b *base) uploadAndMove(ctx context.Context, candidate *resource.Resource, target lifecycle.State) error {
	if err := candidate.Upload(ctx); err != nil {
		return err
	}
	b.logger.Info("Ресурс создан",
		slog.String("resource_id", candidate.ID()),
		slog.String("name", candidate.Asset.Name),
		slog.Int("attachments", len(candidate.Asset.Attachments)),
	)

	history, err := candidate.MoveToState(ctx, target)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		b.logger.Info("Ресурс переведён в целевое состояние",
			slog.String("resource_id", candidate.ID()),
			slog.String("state", string(candidate.State())),
			slog.Int("hops", len(history)),
		)
	}
	return nil
}

// AddNew всегда создаёт новый ресурс и не изменяет существующие.
type AddNew struct {
	base
	target lifecycle.State
}

// NewAddNew создаёт стратегию AddNew. Целевое состояние по умолчанию — draft.
func NewAddNew(conn client.Connection, opts Options) *AddNew {
	target := opts.TargetState
	if target == "" {
		target = lifecycle.StateDraft
	}
	return &AddNew{base: newBase(NameAddNew, conn, opts), target: target}
}

// UploadAsset создаёт candidate и переводит его в целевое состояние. matches игнорируются.
func (s *AddNew) UploadAsset(ctx context.Context, candidate *resource.Resource, _ []*resource.Resource) (*resource.Resource, error) {
	if err := s.uploadAndMove(ctx, candidate, s.target); err != nil {
		return nil, err
	}
	return candidate, nil
}
