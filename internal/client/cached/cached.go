// Пакет cached — read-through LRU-кэш записей ресурсов поверх WriteClient.
// Обёртка над hashicorp/golang-lru/v2/expirable.
//
// Кэшируется только GetAsset. GetAllAssets читает backend напрямую и кэш
// не заполняет. Любая запись, затрагивающая ресурс (обновление, удаление,
// вложения, переход состояния), удаляет его из кэша.
// Кэш per-process: изменения, сделанные другими процессами, видны
// не позже истечения TTL.
package cached

import (
	"context"
	"io"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lars_asset_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей ресурсов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lars_asset_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей ресурсов.",
	})
)

// Client — WriteClient с кэшем записей ресурсов.
type Client struct {
	client.WriteClient
	cache *expirable.LRU[string, *model.Asset]
}

// New создаёт кэширующую обёртку.
// maxSize — максимальное количество записей, ttl — время жизни записи.
func New(inner client.WriteClient, maxSize int, ttl time.Duration) *Client {
	return &Client{
		WriteClient: inner,
		cache:       expirable.NewLRU[string, *model.Asset](maxSize, nil, ttl),
	}
}

// GetAsset возвращает копию записи из кэша или читает её из backend.
func (c *Client) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	if asset, ok := c.cache.Get(id); ok {
		cacheHitsTotal.Inc()
		return asset.Clone(), nil
	}
	cacheMissesTotal.Inc()

	asset, err := c.WriteClient.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, asset.Clone())
	return asset, nil
}

// Uncached возвращает backend без кэша.
func (c *Client) Uncached() client.ReadClient {
	return c.WriteClient
}

// UpdateAsset обновляет запись и удаляет её из кэша.
func (c *Client) UpdateAsset(ctx context.Context, id string, asset *model.Asset) error {
	defer c.cache.Remove(id)
	return c.WriteClient.UpdateAsset(ctx, id, asset)
}

// DeleteAsset удаляет запись и её копию в кэше.
func (c *Client) DeleteAsset(ctx context.Context, id string) error {
	defer c.cache.Remove(id)
	return c.WriteClient.DeleteAsset(ctx, id)
}

// AddAttachment добавляет вложение и удаляет запись ресурса из кэша.
func (c *Client) AddAttachment(ctx context.Context, assetID string, att *model.Attachment, content io.Reader) (string, error) {
	defer c.cache.Remove(assetID)
	return c.WriteClient.AddAttachment(ctx, assetID, att, content)
}

// DeleteAttachment удаляет вложение и запись ресурса из кэша.
func (c *Client) DeleteAttachment(ctx context.Context, assetID, attachmentID string) error {
	defer c.cache.Remove(assetID)
	return c.WriteClient.DeleteAttachment(ctx, assetID, attachmentID)
}

// UpdateState выполняет действие жизненного цикла и удаляет запись из кэша.
func (c *Client) UpdateState(ctx context.Context, id string, action lifecycle.StateAction) error {
	defer c.cache.Remove(id)
	return c.WriteClient.UpdateState(ctx, id, action)
}

// Purge очищает кэш.
func (c *Client) Purge() {
	c.cache.Purge()
}

// Len возвращает количество записей в кэше.
func (c *Client) Len() int {
	return c.cache.Len()
}
