// Пакет client — контракты доступа к репозиторию ресурсов.
//
// ReadClient и WriteClient — узкие интерфейсы, через которые ядро загрузки
// работает с backend (директория, PostgreSQL, REST). Connection связывает пару
// клиентов с расположением репозитория, которое попадает в сообщения об ошибках.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
)

// Sentinel-ошибки backend.
var (
	// ErrNotFound — ресурс, вложение или репозиторий не найдены
	ErrNotFound = errors.New("не найдено")
	// ErrNotADirectory — расположение репозитория не является директорией
	ErrNotADirectory = errors.New("не является директорией")
	// ErrReadOnly — соединение открыто только для чтения
	ErrReadOnly = errors.New("репозиторий доступен только для чтения")
)

// ReadClient — чтение ресурсов и вложений.
type ReadClient interface {
	// CheckStatus проверяет доступность репозитория.
	CheckStatus(ctx context.Context) error
	// GetAllAssets возвращает все ресурсы репозитория.
	GetAllAssets(ctx context.Context) ([]*model.Asset, error)
	// GetAsset возвращает ресурс по ID или ErrNotFound.
	GetAsset(ctx context.Context, id string) (*model.Asset, error)
	// GetAttachment открывает содержимое вложения. Вызывающий код закрывает поток.
	GetAttachment(ctx context.Context, assetID, attachmentID string) (io.ReadCloser, error)
}

// WriteClient — чтение и изменение ресурсов.
type WriteClient interface {
	ReadClient

	// AddAsset создаёт запись ресурса (без вложений) в состоянии draft и возвращает её ID.
	AddAsset(ctx context.Context, asset *model.Asset) (string, error)
	// UpdateAsset перезаписывает поля ресурса. ID, состояние и вложения не меняются.
	UpdateAsset(ctx context.Context, id string, asset *model.Asset) error
	// DeleteAsset удаляет запись ресурса.
	DeleteAsset(ctx context.Context, id string) error
	// AddAttachment сохраняет вложение и возвращает его ID.
	// Для вложений-ссылок (LinkType) content может быть nil.
	AddAttachment(ctx context.Context, assetID string, att *model.Attachment, content io.Reader) (string, error)
	// DeleteAttachment удаляет вложение ресурса.
	DeleteAttachment(ctx context.Context, assetID, attachmentID string) error
	// UpdateState выполняет действие жизненного цикла над ресурсом.
	UpdateState(ctx context.Context, id string, action lifecycle.StateAction) error
}

// Connection — соединение с репозиторием.
type Connection interface {
	// Location — расположение репозитория (путь, URL или DSN без пароля).
	Location() string
	// ReadClient возвращает клиент чтения.
	ReadClient() ReadClient
	// WriteClient возвращает клиент записи или ErrReadOnly.
	WriteClient() (WriteClient, error)
}

// Uncacher — клиент с локальным кэшем, который умеет вернуть backend без кэша.
type Uncacher interface {
	Uncached() ReadClient
}

// Fresh возвращает клиент, читающий напрямую из backend.
// Нужен там, где устаревшая запись недопустима: проверка, что ресурс
// ещё существует, перед изменением его видимости.
func Fresh(rc ReadClient) ReadClient {
	if u, ok := rc.(Uncacher); ok {
		return u.Uncached()
	}
	return rc
}

// connection — реализация Connection поверх готового клиента.
type connection struct {
	location string
	client   WriteClient
	readOnly bool
}

// NewConnection создаёт соединение с доступом на запись.
func NewConnection(location string, c WriteClient) Connection {
	return &connection{location: location, client: c}
}

// NewReadOnlyConnection создаёт соединение, запрещающее запись.
func NewReadOnlyConnection(location string, c WriteClient) Connection {
	return &connection{location: location, client: c, readOnly: true}
}

func (c *connection) Location() string { return c.location }

func (c *connection) ReadClient() ReadClient { return c.client }

func (c *connection) WriteClient() (WriteClient, error) {
	if c.readOnly {
		return nil, &BackendError{Location: c.location, Op: "write", Err: ErrReadOnly}
	}
	return c.client, nil
}

// BackendError — ошибка обращения к backend с расположением репозитория.
type BackendError struct {
	Location string // Расположение репозитория
	Op       string // Операция (get_asset, add_attachment, ...)
	Err      error  // Исходная ошибка
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("репозиторий %s: %s: %v", e.Location, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Wrap оборачивает ошибку backend в BackendError. nil остаётся nil,
// уже обёрнутая ошибка не оборачивается повторно.
func Wrap(location, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Location: location, Op: op, Err: err}
}

// IsNotFound проверяет, что ошибка означает отсутствие объекта.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
