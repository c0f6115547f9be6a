// Пакет pgclient — backend репозитория в PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
//
// Запись ресурса хранится в JSONB-колонке record таблицы assets,
// состояние и политика отображения продублированы в колонках.
// Вложения — строки таблицы attachments (метаданные JSONB + содержимое bytea).
package pgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Client — клиент репозитория в PostgreSQL.
type Client struct {
	db       DBTX
	location string
}

// New создаёт клиент поверх пула подключений.
// location — расположение репозитория без пароля (для сообщений об ошибках).
func New(db DBTX, location string) *Client {
	return &Client{db: db, location: location}
}

// CheckStatus проверяет доступность PostgreSQL и наличие схемы.
func (c *Client) CheckStatus(ctx context.Context) error {
	var exists bool
	err := c.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = 'assets'
		)`).Scan(&exists)
	if err != nil {
		return c.wrap("check_status", err)
	}
	if !exists {
		return c.wrap("check_status", fmt.Errorf("таблица assets: %w", client.ErrNotFound))
	}
	return nil
}

// GetAllAssets возвращает все ресурсы с вложениями, упорядоченные по ID.
func (c *Client) GetAllAssets(ctx context.Context) ([]*model.Asset, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id, state, web_display_policy, record, created_at, updated_at
		FROM assets ORDER BY id`)
	if err != nil {
		return nil, c.wrap("get_all_assets", err)
	}
	assets, err := pgx.CollectRows(rows, scanAsset)
	if err != nil {
		return nil, c.wrap("get_all_assets", err)
	}

	attachments, err := c.loadAttachments(ctx, "")
	if err != nil {
		return nil, c.wrap("get_all_assets", err)
	}
	for _, a := range assets {
		a.Attachments = attachments[a.ID]
	}
	return assets, nil
}

// GetAsset возвращает ресурс с вложениями.
func (c *Client) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	asset, err := c.getAsset(ctx, c.db, id, false)
	if err != nil {
		return nil, c.wrap("get_asset", err)
	}

	attachments, err := c.loadAttachments(ctx, id)
	if err != nil {
		return nil, c.wrap("get_asset", err)
	}
	asset.Attachments = attachments[id]
	return asset, nil
}

// GetAttachment возвращает содержимое вложения.
func (c *Client) GetAttachment(ctx context.Context, assetID, attachmentID string) (io.ReadCloser, error) {
	if _, err := uuid.Parse(attachmentID); err != nil {
		return nil, c.wrap("get_attachment", fmt.Errorf("вложение %s: %w", attachmentID, client.ErrNotFound))
	}
	var content []byte
	err := c.db.QueryRow(ctx,
		`SELECT content FROM attachments WHERE id = $1 AND asset_id = $2`,
		attachmentID, assetID,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, c.wrap("get_attachment",
				fmt.Errorf("вложение %s ресурса %s: %w", attachmentID, assetID, client.ErrNotFound))
		}
		return nil, c.wrap("get_attachment", err)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// AddAsset создаёт запись ресурса в состоянии draft.
func (c *Client) AddAsset(ctx context.Context, asset *model.Asset) (string, error) {
	stored := asset.WithoutAttachments()
	stored.ID = uuid.New().String()
	stored.State = lifecycle.StateDraft
	stored.CreatedAt = nil
	stored.UpdatedAt = nil

	record, err := json.Marshal(stored)
	if err != nil {
		return "", c.wrap("add_asset", fmt.Errorf("ошибка сериализации ресурса: %w", err))
	}

	_, err = c.db.Exec(ctx,
		`INSERT INTO assets (id, type, name, state, web_display_policy, vanity_url, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		stored.ID, stored.Type, stored.Name, stored.State, displayPolicy(stored), stored.VanityURL, record,
	)
	if err != nil {
		return "", c.wrap("add_asset", err)
	}
	return stored.ID, nil
}

// UpdateAsset перезаписывает поля ресурса. Состояние и вложения не меняются.
func (c *Client) UpdateAsset(ctx context.Context, id string, asset *model.Asset) error {
	stored := asset.WithoutAttachments()
	stored.ID = id
	stored.CreatedAt = nil
	stored.UpdatedAt = nil

	return c.wrap("update_asset", c.inTx(ctx, func(tx pgx.Tx) error {
		existing, err := c.getAsset(ctx, tx, id, true)
		if err != nil {
			return err
		}
		stored.State = existing.State

		record, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("ошибка сериализации ресурса: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE assets SET type = $2, name = $3, web_display_policy = $4, vanity_url = $5,
				record = $6, updated_at = NOW()
			WHERE id = $1`,
			id, stored.Type, stored.Name, displayPolicy(stored), stored.VanityURL, record,
		)
		return err
	}))
}

// DeleteAsset удаляет запись ресурса; вложения удаляются каскадно.
func (c *Client) DeleteAsset(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return c.wrap("delete_asset", fmt.Errorf("ресурс %s: %w", id, client.ErrNotFound))
	}
	tag, err := c.db.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return c.wrap("delete_asset", err)
	}
	if tag.RowsAffected() == 0 {
		return c.wrap("delete_asset", fmt.Errorf("ресурс %s: %w", id, client.ErrNotFound))
	}
	return nil
}

// AddAttachment сохраняет вложение. Размер и CRC вычисляются по содержимому.
func (c *Client) AddAttachment(ctx context.Context, assetID string, att *model.Attachment, content io.Reader) (string, error) {
	stored := *att
	stored.ID = uuid.New().String()
	stored.AssetID = assetID

	var data []byte
	if content != nil && !att.IsLink() {
		var err error
		data, err = io.ReadAll(content)
		if err != nil {
			return "", c.wrap("add_attachment", fmt.Errorf("ошибка чтения содержимого: %w", err))
		}
		stored.Size = int64(len(data))
		stored.CRC = int64(crc32.ChecksumIEEE(data))
	}

	meta, err := json.Marshal(stored)
	if err != nil {
		return "", c.wrap("add_attachment", fmt.Errorf("ошибка сериализации вложения: %w", err))
	}

	_, err = c.db.Exec(ctx,
		`INSERT INTO attachments (id, asset_id, meta, content) VALUES ($1, $2, $3, $4)`,
		stored.ID, assetID, meta, data,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", c.wrap("add_attachment", fmt.Errorf("ресурс %s: %w", assetID, client.ErrNotFound))
		}
		return "", c.wrap("add_attachment", err)
	}
	return stored.ID, nil
}

// DeleteAttachment удаляет вложение ресурса.
func (c *Client) DeleteAttachment(ctx context.Context, assetID, attachmentID string) error {
	tag, err := c.db.Exec(ctx,
		`DELETE FROM attachments WHERE id = $1 AND asset_id = $2`, attachmentID, assetID)
	if err != nil {
		return c.wrap("delete_attachment", err)
	}
	if tag.RowsAffected() == 0 {
		return c.wrap("delete_attachment",
			fmt.Errorf("вложение %s ресурса %s: %w", attachmentID, assetID, client.ErrNotFound))
	}
	return nil
}

// UpdateState применяет действие жизненного цикла в транзакции (SELECT ... FOR UPDATE).
func (c *Client) UpdateState(ctx context.Context, id string, action lifecycle.StateAction) error {
	err := c.inTx(ctx, func(tx pgx.Tx) error {
		asset, err := c.getAsset(ctx, tx, id, true)
		if err != nil {
			return err
		}

		next, err := lifecycle.Apply(asset.State, action)
		if err != nil {
			var te *lifecycle.TransitionError
			if errors.As(err, &te) {
				te.ResourceID = id
			}
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE assets SET state = $2, record = jsonb_set(record, '{state}', to_jsonb($2::text)),
				updated_at = NOW()
			WHERE id = $1`,
			id, next,
		)
		return err
	})

	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		return err
	}
	return c.wrap("update_state", err)
}

// getAsset читает запись ресурса без вложений.
// ID, не являющийся UUID, означает отсутствие ресурса.
func (c *Client) getAsset(ctx context.Context, db DBTX, id string, forUpdate bool) (*model.Asset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("ресурс %s: %w", id, client.ErrNotFound)
	}

	query := `SELECT id, state, web_display_policy, record, created_at, updated_at
		FROM assets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	asset, err := pgx.CollectExactlyOneRow(rows, scanAsset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ресурс %s: %w", id, client.ErrNotFound)
		}
		return nil, err
	}
	return asset, nil
}

// loadAttachments возвращает вложения, сгруппированные по ID ресурса.
// Пустой assetID — вложения всех ресурсов.
func (c *Client) loadAttachments(ctx context.Context, assetID string) (map[string][]model.Attachment, error) {
	query := `SELECT asset_id, meta FROM attachments`
	var args []any
	if assetID != "" {
		query += ` WHERE asset_id = $1`
		args = append(args, assetID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]model.Attachment)
	for rows.Next() {
		var (
			owner string
			meta  []byte
		)
		if err := rows.Scan(&owner, &meta); err != nil {
			return nil, err
		}
		var att model.Attachment
		if err := json.Unmarshal(meta, &att); err != nil {
			return nil, fmt.Errorf("ошибка десериализации вложения ресурса %s: %w", owner, err)
		}
		result[owner] = append(result[owner], att)
	}
	return result, rows.Err()
}

// scanAsset собирает ресурс из строки таблицы assets.
// Колонки state и web_display_policy имеют приоритет над JSONB.
func scanAsset(row pgx.CollectableRow) (*model.Asset, error) {
	var (
		id        string
		state     string
		policy    string
		record    []byte
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&id, &state, &policy, &record, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var asset model.Asset
	if err := json.Unmarshal(record, &asset); err != nil {
		return nil, fmt.Errorf("ошибка десериализации ресурса %s: %w", id, err)
	}
	asset.ID = id
	asset.State = lifecycle.State(state)
	asset.WebDisplayPolicy = model.DisplayPolicy(policy)
	createdAt, updatedAt = createdAt.UTC(), updatedAt.UTC()
	asset.CreatedAt = &createdAt
	asset.UpdatedAt = &updatedAt
	return &asset, nil
}

// inTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе коммитится.
func (c *Client) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *Client) wrap(op string, err error) error {
	return client.Wrap(c.location, op, err)
}

// displayPolicy возвращает политику отображения для колонки (пусто — VISIBLE).
func displayPolicy(a *model.Asset) model.DisplayPolicy {
	if a.WebDisplayPolicy == "" {
		return model.DisplayVisible
	}
	return a.WebDisplayPolicy
}

// isForeignKeyViolation проверяет нарушение внешнего ключа PostgreSQL.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
