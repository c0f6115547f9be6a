package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/matching"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
	"github.com/bigkaa/goartstore/lars-uploader/internal/resource"
)

// Prometheus-метрики кэша видимости.
var (
	visibilityRebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lars_visibility_cache_rebuilds_total",
		Help: "Общее количество полных перестроений кэша видимости.",
	})
	visibilityLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lars_visibility_cache_lookups_total",
		Help: "Общее количество обращений к кэшу видимости.",
	}, []string{"result"})
)

// VisibilityCache — отображение vanity URL → видимый опубликованный ресурс.
//
// Все операции чтения-изменения выполняются под одним мьютексом.
// Заполнение (полное сканирование репозитория) выполняется под тем же
// мьютексом от начала до конца, поэтому наполовину заполненный кэш
// не наблюдается. Обращения к backend вне заполнения мьютекс не держат.
//
// Кэш не глобальный: владелец (сервис загрузки) создаёт его и передаёт
// стратегиям AddThenHideOld.
type VisibilityCache struct {
	mu        sync.Mutex
	populated bool
	entries   map[string]*model.Asset
	// conflicts — vanity URL, на которых при сканировании найдено
	// несколько видимых ресурсов без однозначного победителя
	conflicts map[string][]string
	logger    *slog.Logger
}

// NewVisibilityCache создаёт пустой кэш видимости.
func NewVisibilityCache(logger *slog.Logger) *VisibilityCache {
	return &VisibilityCache{
		entries:   make(map[string]*model.Asset),
		conflicts: make(map[string][]string),
		logger:    logger.With(slog.String("component", "visibility_cache")),
	}
}

// EnsurePopulated заполняет кэш сканированием репозитория, если он пуст.
func (c *VisibilityCache) EnsurePopulated(ctx context.Context, rc client.ReadClient) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.populated {
		return nil
	}
	return c.populateLocked(ctx, rc, "")
}

// Rebuild сбрасывает кэш и заполняет его заново, пропуская ресурс excludeID
// (ресурс, загрузка которого ещё не завершена).
func (c *VisibilityCache) Rebuild(ctx context.Context, rc client.ReadClient, excludeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return c.populateLocked(ctx, rc, excludeID)
}

// Invalidate сбрасывает кэш. Следующий EnsurePopulated выполнит сканирование.
func (c *VisibilityCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *VisibilityCache) resetLocked() {
	c.populated = false
	c.entries = make(map[string]*model.Asset)
	c.conflicts = make(map[string][]string)
}

// populateLocked сканирует репозиторий. Учитываются только видимые
// опубликованные ресурсы отображаемых на сайте типов.
func (c *VisibilityCache) populateLocked(ctx context.Context, rc client.ReadClient, excludeID string) error {
	assets, err := rc.GetAllAssets(ctx)
	if err != nil {
		return fmt.Errorf("заполнение кэша видимости: %w", err)
	}

	for _, a := range assets {
		if a.ID == excludeID && excludeID != "" {
			continue
		}
		if !visibleAndPublished(a) {
			continue
		}
		key := a.VanityURL
		if key == "" {
			key = resource.VanityURL(a)
		}
		if ids, conflicted := c.conflicts[key]; conflicted {
			c.conflicts[key] = append(ids, a.ID)
			continue
		}
		current, exists := c.entries[key]
		if !exists {
			c.entries[key] = a.Clone()
			continue
		}
		if keeper := matching.ReturnNonBetaResourceOrNull(a, current); keeper != nil {
			c.entries[key] = keeper.Clone()
			continue
		}
		c.logger.Warn("Несколько видимых ресурсов на одном vanity URL",
			slog.String("vanity_url", key),
			slog.String("resource_id", current.ID),
			slog.String("other_resource_id", a.ID),
		)
		c.conflicts[key] = []string{current.ID, a.ID}
		delete(c.entries, key)
	}

	c.populated = true
	visibilityRebuildsTotal.Inc()
	c.logger.Debug("Кэш видимости заполнен",
		slog.Int("entries", len(c.entries)),
		slog.Int("conflicts", len(c.conflicts)),
		slog.Int("scanned", len(assets)),
	)
	return nil
}

// Lookup возвращает копию текущего владельца vanity URL или nil.
// Для vanity URL с конфликтом возвращает ошибку согласованности.
func (c *VisibilityCache) Lookup(vanityURL string) (*model.Asset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(vanityURL)
}

// Resolve возвращает владельца vanity URL. Если кэш сброшен (Invalidate,
// Forget конфликта), он заполняется заново без ресурса excludeID.
func (c *VisibilityCache) Resolve(ctx context.Context, rc client.ReadClient, vanityURL, excludeID string) (*model.Asset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.populated {
		if err := c.populateLocked(ctx, rc, excludeID); err != nil {
			return nil, err
		}
	}
	return c.lookupLocked(vanityURL)
}

func (c *VisibilityCache) lookupLocked(vanityURL string) (*model.Asset, error) {
	if ids, conflicted := c.conflicts[vanityURL]; conflicted {
		return nil, resource.NewConsistencyError(
			fmt.Sprintf("несколько видимых ресурсов на vanity URL %s", vanityURL), ids...)
	}
	current, ok := c.entries[vanityURL]
	if !ok {
		visibilityLookupsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}
	visibilityLookupsTotal.WithLabelValues("hit").Inc()
	return current.Clone(), nil
}

// Conflict возвращает ID видимых ресурсов, конфликтующих на vanity URL,
// или nil, если конфликта нет.
func (c *VisibilityCache) Conflict(vanityURL string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.conflicts[vanityURL]
	if !ok {
		return nil
	}
	return append([]string(nil), ids...)
}

// Put назначает asset владельцем vanity URL, если текущий владелец
// по-прежнему expectedID (пустая строка — владельца нет).
// Иначе кэш не изменяется и возвращается ошибка согласованности с обоими ресурсами.
// Сброшенный кэш не изменяется: следующее заполнение прочитает backend.
func (c *VisibilityCache) Put(vanityURL, expectedID string, asset *model.Asset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.populated {
		return nil
	}

	currentID := ""
	if current, ok := c.entries[vanityURL]; ok {
		currentID = current.ID
	}
	if currentID != expectedID {
		return resource.NewConsistencyError(
			fmt.Sprintf("владелец vanity URL %s изменился параллельной загрузкой", vanityURL),
			asset.ID, currentID)
	}
	c.entries[vanityURL] = asset.Clone()
	return nil
}

// Forget удаляет из кэша записи, владельцы которых удалены.
// Если в конфликте остаётся не больше одного ресурса, кэш сбрасывается:
// оставшегося владельца определит следующее заполнение.
func (c *VisibilityCache) Forget(ids ...string) {
	if len(ids) == 0 {
		return
	}
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, a := range c.entries {
		if removed[a.ID] {
			delete(c.entries, key)
		}
	}
	for key, conflicting := range c.conflicts {
		left := conflicting[:0:0]
		for _, id := range conflicting {
			if !removed[id] {
				left = append(left, id)
			}
		}
		if len(left) == len(conflicting) {
			continue
		}
		if len(left) <= 1 {
			c.resetLocked()
			return
		}
		c.conflicts[key] = left
	}
}

// Len возвращает количество vanity URL в кэше.
func (c *VisibilityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Populated сообщает, заполнен ли кэш.
func (c *VisibilityCache) Populated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.populated
}

func visibleAndPublished(a *model.Asset) bool {
	return a.IsVisible() && a.State == lifecycle.StatePublished && a.Type.WebDisplayable()
}
