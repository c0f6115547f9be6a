// Пакет resource — ресурс репозитория, привязанный к подключению:
// загрузка записи и вложений, перечитывание, переходы жизненного цикла,
// сравнение и слияние данных, генерация вычисляемых полей.
package resource

import (
	"context"
	"fmt"
	"io"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/matching"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/version"
)

// DefaultAttachmentConcurrency — число параллельных загрузок вложений по умолчанию.
const DefaultAttachmentConcurrency = 4

// ContentSource открывает содержимое вложения для загрузки.
type ContentSource func(ctx context.Context) (io.ReadCloser, error)

// UpdateType — результат сравнения ресурса с существующим.
type UpdateType int

const (
	// UpdateAdd — существующего ресурса нет, нужно создать новый
	UpdateAdd UpdateType = iota
	// UpdateUpdate — данные отличаются, нужно обновление
	UpdateUpdate
	// UpdateNothing — данные совпадают
	UpdateNothing
)

func (u UpdateType) String() string {
	switch u {
	case UpdateAdd:
		return "add"
	case UpdateUpdate:
		return "update"
	default:
		return "nothing"
	}
}

// pendingAttachment — вложение, ожидающее загрузки.
type pendingAttachment struct {
	meta model.Attachment
	open ContentSource
}

// Resource — запись ресурса и подключение, которому она принадлежит.
// До Upload у ресурса нет ID; вложения, добавленные AddAttachment,
// загружаются в backend при Upload.
type Resource struct {
	Asset *model.Asset

	conn        client.Connection
	pending     []pendingAttachment
	concurrency int
}

// Option — параметр создания ресурса.
type Option func(*Resource)

// WithAttachmentConcurrency задаёт число параллельных загрузок вложений.
func WithAttachmentConcurrency(n int) Option {
	return func(r *Resource) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New создаёт ресурс для записи asset в подключении conn.
// Вложения из asset.Attachments считаются уже существующими в backend.
func New(conn client.Connection, asset *model.Asset, opts ...Option) *Resource {
	r := &Resource{
		Asset:       asset,
		conn:        conn,
		concurrency: DefaultAttachmentConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID возвращает идентификатор ресурса (пустой до загрузки).
func (r *Resource) ID() string { return r.Asset.ID }

// State возвращает текущее состояние ресурса.
func (r *Resource) State() lifecycle.State {
	if r.Asset.State == "" {
		return lifecycle.StateDraft
	}
	return r.Asset.State
}

// Connection возвращает подключение ресурса.
func (r *Resource) Connection() client.Connection { return r.conn }

// AddAttachment добавляет вложение, которое будет загружено при Upload.
// Для ссылок (LinkType задан) open может быть nil.
func (r *Resource) AddAttachment(meta model.Attachment, open ContentSource) {
	r.pending = append(r.pending, pendingAttachment{meta: meta, open: open})
	r.Asset.Attachments = append(r.Asset.Attachments, meta)
}

// PendingAttachments возвращает количество вложений, ожидающих загрузки.
func (r *Resource) PendingAttachments() int { return len(r.pending) }

// Upload создаёт запись в backend, затем загружает вложения и перечитывает
// запись. Вложения загружаются только после получения ID записи.
func (r *Resource) Upload(ctx context.Context) error {
	if r.Asset.ID != "" {
		return fmt.Errorf("ресурс %s уже загружен", r.Asset.ID)
	}
	wc, err := r.conn.WriteClient()
	if err != nil {
		return err
	}

	id, err := wc.AddAsset(ctx, r.Asset.WithoutAttachments())
	if err != nil {
		return err
	}
	r.Asset.ID = id

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, p := range r.pending {
		g.Go(func() error {
			return uploadAttachment(gctx, wc, id, p)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("загрузка вложений ресурса %s: %w", id, err)
	}
	r.pending = nil

	return r.Refresh(ctx)
}

func uploadAttachment(ctx context.Context, wc client.WriteClient, assetID string, p pendingAttachment) error {
	meta := p.meta
	meta.ID = ""
	if p.open == nil {
		if !meta.IsLink() {
			return fmt.Errorf("вложение %q: нет содержимого", meta.Name)
		}
		_, err := wc.AddAttachment(ctx, assetID, &meta, nil)
		return err
	}

	rc, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("вложение %q: %w", meta.Name, err)
	}
	defer rc.Close()

	_, err = wc.AddAttachment(ctx, assetID, &meta, rc)
	return err
}

// Refresh перечитывает запись ресурса из backend.
func (r *Resource) Refresh(ctx context.Context) error {
	asset, err := r.conn.ReadClient().GetAsset(ctx, r.Asset.ID)
	if err != nil {
		return err
	}
	r.Asset = asset
	return nil
}

// PerformAction выполняет одно действие жизненного цикла.
// Действие, запрещённое в текущем состоянии, в backend не отправляется.
func (r *Resource) PerformAction(ctx context.Context, action lifecycle.StateAction) error {
	from := r.State()
	if !from.IsStateActionAllowed(action) {
		return &lifecycle.TransitionError{
			Code:       lifecycle.CodeInvalidTransition,
			ResourceID: r.Asset.ID,
			From:       from,
			Action:     action,
			Message:    fmt.Sprintf("действие %q недопустимо в состоянии %q", action, from),
		}
	}
	wc, err := r.conn.WriteClient()
	if err != nil {
		return err
	}
	if err := wc.UpdateState(ctx, r.Asset.ID, action); err != nil {
		return err
	}
	return r.Refresh(ctx)
}

// MoveToState переводит ресурс в target по таблице переходов, шаг за шагом.
// Каждый шаг — действие в backend и перечитывание записи.
func (r *Resource) MoveToState(ctx context.Context, target lifecycle.State) ([]lifecycle.TransitionRecord, error) {
	wc, err := r.conn.WriteClient()
	if err != nil {
		return nil, err
	}
	return lifecycle.Walk(r.Asset.ID, r.State(), target, func(action lifecycle.StateAction, _ lifecycle.State) (lifecycle.State, error) {
		if err := wc.UpdateState(ctx, r.Asset.ID, action); err != nil {
			return "", err
		}
		if err := r.Refresh(ctx); err != nil {
			return "", err
		}
		return r.State(), nil
	})
}

// Delete удаляет вложения ресурса, затем саму запись.
func (r *Resource) Delete(ctx context.Context) error {
	wc, err := r.conn.WriteClient()
	if err != nil {
		return err
	}
	for _, att := range r.Asset.Attachments {
		if att.ID == "" {
			continue
		}
		if err := wc.DeleteAttachment(ctx, r.Asset.ID, att.ID); err != nil && !client.IsNotFound(err) {
			return err
		}
	}
	return wc.DeleteAsset(ctx, r.Asset.ID)
}

// UpdateRequired сравнивает ресурс с существующим.
// Служебные поля (ID, состояние, время, вложения) в сравнении не участвуют.
func (r *Resource) UpdateRequired(existing *Resource) UpdateType {
	if existing == nil {
		return UpdateAdd
	}
	if reflect.DeepEqual(diffView(r.Asset), diffView(existing.Asset)) {
		return UpdateNothing
	}
	return UpdateUpdate
}

func diffView(a *model.Asset) *model.Asset {
	c := a.WithoutAttachments()
	c.ID = ""
	c.State = ""
	c.CreatedAt = nil
	c.UpdatedAt = nil
	if c.WebDisplayPolicy == "" {
		c.WebDisplayPolicy = model.DisplayVisible
	}
	return c
}

// OverwriteAssetData переносит данные из from в запись ресурса,
// сохраняя ID, состояние, вложения и время создания.
func (r *Resource) OverwriteAssetData(from *model.Asset) {
	merged := from.WithoutAttachments()
	merged.ID = r.Asset.ID
	merged.State = r.Asset.State
	merged.Attachments = r.Asset.Attachments
	merged.CreatedAt = r.Asset.CreatedAt
	merged.UpdatedAt = r.Asset.UpdatedAt
	r.Asset = merged
}

// UpdateAsset сохраняет запись ресурса в backend и перечитывает её.
func (r *Resource) UpdateAsset(ctx context.Context) error {
	wc, err := r.conn.WriteClient()
	if err != nil {
		return err
	}
	if err := wc.UpdateAsset(ctx, r.Asset.ID, r.Asset.WithoutAttachments()); err != nil {
		return err
	}
	return r.Refresh(ctx)
}

// GenerateFields проверяет и вычисляет производные поля: vanity URL,
// политику отображения по умолчанию, разбор applies-to.
// При editionChecking все редакции в applies-to должны быть известны.
func (r *Resource) GenerateFields(editionChecking bool) error {
	if err := r.Asset.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if r.Asset.Type.ApplicableToProduct() {
		filters, err := version.ParseAppliesTo(r.Asset.AppliesTo)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if editionChecking {
			if err := version.ValidateEditions(filters); err != nil {
				return fmt.Errorf("%w: %w", ErrValidation, err)
			}
		}
	}
	if r.Asset.Type == model.TypeInstall && r.Asset.Product != nil && r.Asset.Product.ProductVersion != "" {
		if _, err := version.ParseVersion(r.Asset.Product.ProductVersion); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}

	if r.Asset.WebDisplayPolicy == "" {
		if r.Asset.Type.WebDisplayable() {
			r.Asset.WebDisplayPolicy = model.DisplayVisible
		} else {
			r.Asset.WebDisplayPolicy = model.DisplayHidden
		}
	}
	r.Asset.VanityURL = VanityURL(r.Asset)
	return nil
}

// MatchingData возвращает ключ идентичности ресурса.
func (r *Resource) MatchingData() (matching.Data, error) {
	return matching.Create(r.Asset)
}

// VanityURL возвращает vanity URL ресурса (вычисляет, если поле пустое).
func (r *Resource) VanityURL() string {
	if r.Asset.VanityURL != "" {
		return r.Asset.VanityURL
	}
	return VanityURL(r.Asset)
}

// CopyAsNew возвращает новый (не загруженный) ресурс с копией записи.
// Содержимое вложений читается из исходного ресурса при загрузке копии,
// поэтому исходный ресурс должен существовать до окончания Upload копии.
func (r *Resource) CopyAsNew() *Resource {
	asset := r.Asset.WithoutAttachments()
	asset.ID = ""
	asset.State = ""
	asset.CreatedAt = nil
	asset.UpdatedAt = nil

	cp := New(r.conn, asset, WithAttachmentConcurrency(r.concurrency))
	sourceID := r.Asset.ID
	for _, att := range r.Asset.Attachments {
		meta := att
		meta.AssetID = ""
		if meta.IsLink() {
			cp.AddAttachment(meta, nil)
			continue
		}
		attID := att.ID
		cp.AddAttachment(meta, func(ctx context.Context) (io.ReadCloser, error) {
			return r.conn.ReadClient().GetAttachment(ctx, sourceID, attID)
		})
	}
	return cp
}

// FindMatchingResources возвращает ресурсы подключения с тем же ключом
// идентичности, что и candidate. Записи с некорректным applies-to
// не могут совпасть и пропускаются.
func FindMatchingResources(ctx context.Context, conn client.Connection, candidate *Resource) ([]*Resource, error) {
	key, err := candidate.MatchingData()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	assets, err := conn.ReadClient().GetAllAssets(ctx)
	if err != nil {
		return nil, err
	}

	var matches []*Resource
	for _, a := range assets {
		if a.Type != candidate.Asset.Type || (a.ID != "" && a.ID == candidate.Asset.ID) {
			continue
		}
		other, err := matching.Create(a)
		if err != nil {
			continue
		}
		if key.Equal(other) {
			matches = append(matches, New(conn, a, WithAttachmentConcurrency(candidate.concurrency)))
		}
	}
	return matches, nil
}
