// Пакет dirclient — backend репозитория в локальной директории.
//
// Каждый ресурс хранится в файле <id>.asset.json (метаданные и список
// вложений), содержимое вложений — в файлах <id>/<attachmentId>.
// Все операции записи выполняются атомарно: temp → fsync → rename.
// Операции изменения одного ресурса сериализуются мьютексом клиента.
package dirclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
)

// Client — клиент репозитория в директории.
type Client struct {
	root   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт клиент для директории root. Директория не создаётся:
// её наличие проверяет CheckStatus.
func New(root string, logger *slog.Logger) *Client {
	return &Client{
		root:   root,
		logger: logger.With(slog.String("component", "dirclient")),
	}
}

// Init создаёт директорию репозитория, если она не существует.
func (c *Client) Init() error {
	if err := os.MkdirAll(c.root, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию репозитория %s: %w", c.root, err)
	}
	return nil
}

// Location возвращает путь к директории репозитория.
func (c *Client) Location() string {
	return c.root
}

// CheckStatus проверяет, что директория существует и является директорией.
func (c *Client) CheckStatus(_ context.Context) error {
	info, err := os.Stat(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.wrap("check_status", fmt.Errorf("директория %s: %w", c.root, client.ErrNotFound))
		}
		return c.wrap("check_status", err)
	}
	if !info.IsDir() {
		return c.wrap("check_status", fmt.Errorf("%s: %w", c.root, client.ErrNotADirectory))
	}
	return nil
}

// GetAllAssets читает все записи ресурсов. Невалидные файлы пропускаются с предупреждением.
// Результат упорядочен по ID.
func (c *Client) GetAllAssets(_ context.Context) ([]*model.Asset, error) {
	paths, err := scanAssetFiles(c.root)
	if err != nil {
		return nil, c.wrap("get_all_assets", err)
	}

	assets := make([]*model.Asset, 0, len(paths))
	for _, path := range paths {
		asset, err := readAssetFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("Пропущен невалидный файл ресурса",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		asset.ID = idFromAssetFile(path)
		assets = append(assets, asset)
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return assets, nil
}

// GetAsset читает запись ресурса по ID.
func (c *Client) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	asset, err := c.load(id)
	if err != nil {
		return nil, c.wrap("get_asset", err)
	}
	return asset, nil
}

// GetAttachment открывает файл содержимого вложения.
func (c *Client) GetAttachment(_ context.Context, assetID, attachmentID string) (io.ReadCloser, error) {
	asset, err := c.load(assetID)
	if err != nil {
		return nil, c.wrap("get_attachment", err)
	}
	if asset.FindAttachment(attachmentID) == nil {
		return nil, c.wrap("get_attachment",
			fmt.Errorf("вложение %s ресурса %s: %w", attachmentID, assetID, client.ErrNotFound))
	}

	f, err := os.Open(filepath.Join(attachmentDir(c.root, assetID), attachmentID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, c.wrap("get_attachment",
				fmt.Errorf("содержимое вложения %s: %w", attachmentID, client.ErrNotFound))
		}
		return nil, c.wrap("get_attachment", err)
	}
	return f, nil
}

// AddAsset создаёт запись ресурса в состоянии draft.
func (c *Client) AddAsset(_ context.Context, asset *model.Asset) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	stored := asset.WithoutAttachments()
	stored.ID = uuid.New().String()
	stored.State = lifecycle.StateDraft
	stored.CreatedAt = &now
	stored.UpdatedAt = &now

	if err := writeAssetFile(assetFilePath(c.root, stored.ID), stored); err != nil {
		return "", c.wrap("add_asset", err)
	}
	return stored.ID, nil
}

// UpdateAsset перезаписывает поля ресурса, сохраняя ID, состояние, вложения и время создания.
func (c *Client) UpdateAsset(_ context.Context, id string, asset *model.Asset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.load(id)
	if err != nil {
		return c.wrap("update_asset", err)
	}

	now := time.Now().UTC()
	updated := asset.WithoutAttachments()
	updated.ID = id
	updated.State = existing.State
	updated.Attachments = existing.Attachments
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = &now

	return c.wrap("update_asset", writeAssetFile(assetFilePath(c.root, id), updated))
}

// DeleteAsset удаляет запись ресурса и содержимое его вложений.
func (c *Client) DeleteAsset(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(assetFilePath(c.root, id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.wrap("delete_asset", fmt.Errorf("ресурс %s: %w", id, client.ErrNotFound))
		}
		return c.wrap("delete_asset", err)
	}
	if err := os.RemoveAll(attachmentDir(c.root, id)); err != nil {
		return c.wrap("delete_asset", fmt.Errorf("ошибка удаления вложений ресурса %s: %w", id, err))
	}
	return nil
}

// AddAttachment сохраняет содержимое вложения и добавляет его в запись ресурса.
// Размер и CRC вычисляются при записи. Для вложений-ссылок содержимое не сохраняется.
func (c *Client) AddAttachment(_ context.Context, assetID string, att *model.Attachment, content io.Reader) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	asset, err := c.load(assetID)
	if err != nil {
		return "", c.wrap("add_attachment", err)
	}

	stored := *att
	stored.ID = uuid.New().String()
	stored.AssetID = assetID

	if content != nil && !att.IsLink() {
		blob, err := writeBlob(filepath.Join(attachmentDir(c.root, assetID), stored.ID), content)
		if err != nil {
			return "", c.wrap("add_attachment", err)
		}
		stored.Size = blob.Size
		stored.CRC = blob.CRC
	}

	asset.Attachments = append(asset.Attachments, stored)
	if err := writeAssetFile(assetFilePath(c.root, assetID), asset); err != nil {
		return "", c.wrap("add_attachment", err)
	}
	return stored.ID, nil
}

// DeleteAttachment удаляет вложение из записи ресурса и его содержимое.
func (c *Client) DeleteAttachment(_ context.Context, assetID, attachmentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	asset, err := c.load(assetID)
	if err != nil {
		return c.wrap("delete_attachment", err)
	}

	kept := asset.Attachments[:0]
	found := false
	for _, a := range asset.Attachments {
		if a.ID == attachmentID {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return c.wrap("delete_attachment",
			fmt.Errorf("вложение %s ресурса %s: %w", attachmentID, assetID, client.ErrNotFound))
	}
	asset.Attachments = kept

	if err := writeAssetFile(assetFilePath(c.root, assetID), asset); err != nil {
		return c.wrap("delete_attachment", err)
	}

	blobPath := filepath.Join(attachmentDir(c.root, assetID), attachmentID)
	if err := os.Remove(blobPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return c.wrap("delete_attachment", err)
	}
	return nil
}

// UpdateState применяет действие жизненного цикла к ресурсу.
// Недопустимое для текущего состояния действие возвращает lifecycle.TransitionError.
func (c *Client) UpdateState(_ context.Context, id string, action lifecycle.StateAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	asset, err := c.load(id)
	if err != nil {
		return c.wrap("update_state", err)
	}

	next, err := lifecycle.Apply(asset.State, action)
	if err != nil {
		var te *lifecycle.TransitionError
		if errors.As(err, &te) {
			te.ResourceID = id
		}
		return err
	}

	now := time.Now().UTC()
	asset.State = next
	asset.UpdatedAt = &now
	return c.wrap("update_state", writeAssetFile(assetFilePath(c.root, id), asset))
}

// load читает запись ресурса; отсутствие файла — client.ErrNotFound.
func (c *Client) load(id string) (*model.Asset, error) {
	asset, err := readAssetFile(assetFilePath(c.root, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ресурс %s: %w", id, client.ErrNotFound)
		}
		return nil, err
	}
	asset.ID = id
	return asset, nil
}

func (c *Client) wrap(op string, err error) error {
	return client.Wrap(c.root, op, err)
}
