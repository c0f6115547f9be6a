// Пакет restclient — HTTP-клиент REST-сервера репозитория.
// Поддерживает TLS с кастомным CA (LARS_REST_CA_CERT_PATH).
//
// Ресурсы REST:
//
//	GET    /assets                              — все записи
//	POST   /assets                              — создание записи
//	GET    /assets/{id}                         — запись
//	PUT    /assets/{id}                         — обновление полей
//	DELETE /assets/{id}                         — удаление
//	PUT    /assets/{id}/state                   — действие жизненного цикла
//	POST   /assets/{id}/attachments             — вложение (multipart: info + content)
//	GET    /assets/{id}/attachments/{attId}     — содержимое вложения
//	DELETE /assets/{id}/attachments/{attId}     — удаление вложения
package restclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
)

// maxErrorBody — максимальный размер тела ответа об ошибке, попадающего в сообщение.
const maxErrorBody = 4096

// Client — HTTP-клиент REST-сервера репозитория.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт REST-клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата REST-сервера: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат REST-сервера добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "rest_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Location возвращает базовый URL REST-сервера.
func (c *Client) Location() string {
	return c.baseURL
}

// CheckStatus проверяет доступность REST-сервера (GET /assets?limit=1).
func (c *Client) CheckStatus(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/assets?limit=1", nil, "")
	if err != nil {
		return c.wrap("check_status", err)
	}
	resp.Body.Close()
	return nil
}

// GetAllAssets возвращает все записи репозитория.
func (c *Client) GetAllAssets(ctx context.Context) ([]*model.Asset, error) {
	var assets []*model.Asset
	if err := c.doJSON(ctx, http.MethodGet, "/assets", nil, &assets); err != nil {
		return nil, c.wrap("get_all_assets", err)
	}
	return assets, nil
}

// GetAsset возвращает запись ресурса.
func (c *Client) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var asset model.Asset
	if err := c.doJSON(ctx, http.MethodGet, assetPath(id), nil, &asset); err != nil {
		return nil, c.wrap("get_asset", err)
	}
	return &asset, nil
}

// GetAttachment открывает поток содержимого вложения. Вызывающий код закрывает поток.
func (c *Client) GetAttachment(ctx context.Context, assetID, attachmentID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, attachmentPath(assetID, attachmentID), nil, "")
	if err != nil {
		return nil, c.wrap("get_attachment", err)
	}
	return resp.Body, nil
}

// AddAsset создаёт запись ресурса и возвращает назначенный сервером ID.
func (c *Client) AddAsset(ctx context.Context, asset *model.Asset) (string, error) {
	var created model.Asset
	if err := c.doJSON(ctx, http.MethodPost, "/assets", asset.WithoutAttachments(), &created); err != nil {
		return "", c.wrap("add_asset", err)
	}
	if created.ID == "" {
		return "", c.wrap("add_asset", fmt.Errorf("сервер не вернул ID ресурса"))
	}
	return created.ID, nil
}

// UpdateAsset перезаписывает поля ресурса.
func (c *Client) UpdateAsset(ctx context.Context, id string, asset *model.Asset) error {
	body := asset.WithoutAttachments()
	body.ID = id
	return c.wrap("update_asset", c.doJSON(ctx, http.MethodPut, assetPath(id), body, nil))
}

// DeleteAsset удаляет запись ресурса.
func (c *Client) DeleteAsset(ctx context.Context, id string) error {
	return c.wrap("delete_asset", c.doJSON(ctx, http.MethodDelete, assetPath(id), nil, nil))
}

// AddAttachment отправляет вложение multipart-запросом:
// часть "attachmentInfo" — метаданные JSON, часть "content" — содержимое.
func (c *Client) AddAttachment(ctx context.Context, assetID string, att *model.Attachment, content io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	info, err := json.Marshal(att)
	if err != nil {
		return "", c.wrap("add_attachment", fmt.Errorf("ошибка сериализации вложения: %w", err))
	}
	if err := mw.WriteField("attachmentInfo", string(info)); err != nil {
		return "", c.wrap("add_attachment", err)
	}
	if content != nil && !att.IsLink() {
		part, err := mw.CreateFormFile("content", att.Name)
		if err != nil {
			return "", c.wrap("add_attachment", err)
		}
		if _, err := io.Copy(part, content); err != nil {
			return "", c.wrap("add_attachment", fmt.Errorf("ошибка чтения содержимого: %w", err))
		}
	}
	if err := mw.Close(); err != nil {
		return "", c.wrap("add_attachment", err)
	}

	resp, err := c.do(ctx, http.MethodPost,
		assetPath(assetID)+"/attachments?name="+url.QueryEscape(att.Name), &buf, mw.FormDataContentType())
	if err != nil {
		return "", c.wrap("add_attachment", err)
	}
	defer resp.Body.Close()

	var created model.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", c.wrap("add_attachment", fmt.Errorf("декодирование ответа: %w", err))
	}
	if created.ID == "" {
		return "", c.wrap("add_attachment", fmt.Errorf("сервер не вернул ID вложения"))
	}
	return created.ID, nil
}

// DeleteAttachment удаляет вложение ресурса.
func (c *Client) DeleteAttachment(ctx context.Context, assetID, attachmentID string) error {
	return c.wrap("delete_attachment",
		c.doJSON(ctx, http.MethodDelete, attachmentPath(assetID, attachmentID), nil, nil))
}

// stateRequest — тело PUT /assets/{id}/state.
type stateRequest struct {
	Action lifecycle.StateAction `json:"action"`
}

// UpdateState выполняет действие жизненного цикла.
// Ответ 409 Conflict означает, что действие недопустимо в текущем состоянии.
func (c *Client) UpdateState(ctx context.Context, id string, action lifecycle.StateAction) error {
	err := c.doJSON(ctx, http.MethodPut, assetPath(id)+"/state", stateRequest{Action: action}, nil)
	var se *statusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		return &lifecycle.TransitionError{
			Code:       lifecycle.CodeInvalidTransition,
			ResourceID: id,
			Action:     action,
			Message:    se.Body,
		}
	}
	return c.wrap("update_state", err)
}

// statusError — ответ сервера с кодом вне 2xx.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("сервер вернул статус %d: %s", e.StatusCode, e.Body)
}

// Unwrap сопоставляет 404 с client.ErrNotFound.
func (e *statusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return client.ErrNotFound
	}
	return nil
}

// do выполняет запрос и возвращает ответ с кодом 2xx.
// Для остальных кодов тело ответа читается и возвращается statusError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("REST-сервер вернул ошибку",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return nil, &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

// doJSON выполняет JSON-запрос. in == nil — без тела, out == nil — ответ не декодируется.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ошибка сериализации запроса: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) wrap(op string, err error) error {
	return client.Wrap(c.baseURL, op, err)
}

func assetPath(id string) string {
	return "/assets/" + url.PathEscape(id)
}

func attachmentPath(assetID, attachmentID string) string {
	return assetPath(assetID) + "/attachments/" + url.PathEscape(attachmentID)
}
