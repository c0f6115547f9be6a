package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client/cached"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client/dirclient"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
	"github.com/bigkaa/goartstore/lars-uploader/internal/resource"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingClient записывает операции записи и позволяет скрыть ресурсы от GetAsset.
type recordingClient struct {
	client.WriteClient

	mu      sync.Mutex
	ops     []string
	missing map[string]bool
}

func (c *recordingClient) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func (c *recordingClient) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	c.mu.Lock()
	hidden := c.missing[id]
	c.mu.Unlock()
	if hidden {
		return nil, client.Wrap("test", "get_asset", fmt.Errorf("ресурс %s: %w", id, client.ErrNotFound))
	}
	return c.WriteClient.GetAsset(ctx, id)
}

func (c *recordingClient) AddAsset(ctx context.Context, asset *model.Asset) (string, error) {
	id, err := c.WriteClient.AddAsset(ctx, asset)
	if err == nil {
		c.record("add_asset:" + id)
	}
	return id, err
}

func (c *recordingClient) UpdateAsset(ctx context.Context, id string, asset *model.Asset) error {
	c.record("update_asset:" + id)
	return c.WriteClient.UpdateAsset(ctx, id, asset)
}

func (c *recordingClient) DeleteAsset(ctx context.Context, id string) error {
	c.record("delete_asset:" + id)
	return c.WriteClient.DeleteAsset(ctx, id)
}

func (c *recordingClient) AddAttachment(ctx context.Context, assetID string, att *model.Attachment, content io.Reader) (string, error) {
	c.record("add_attachment:" + assetID)
	return c.WriteClient.AddAttachment(ctx, assetID, att, content)
}

func (c *recordingClient) DeleteAttachment(ctx context.Context, assetID, attachmentID string) error {
	c.record("delete_attachment:" + assetID)
	return c.WriteClient.DeleteAttachment(ctx, assetID, attachmentID)
}

func (c *recordingClient) UpdateState(ctx context.Context, id string, action lifecycle.StateAction) error {
	c.record("update_state:" + id + ":" + string(action))
	return c.WriteClient.UpdateState(ctx, id, action)
}

// reset очищает журнал операций.
func (c *recordingClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = nil
}

// index возвращает позицию первой операции с префиксом prefix или -1.
func (c *recordingClient) index(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, op := range c.ops {
		if strings.HasPrefix(op, prefix) {
			return i
		}
	}
	return -1
}

// lastIndex возвращает позицию последней операции с префиксом prefix или -1.
func (c *recordingClient) lastIndex(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.ops) - 1; i >= 0; i-- {
		if strings.HasPrefix(c.ops[i], prefix) {
			return i
		}
	}
	return -1
}

// count возвращает количество операций с префиксом prefix.
func (c *recordingClient) count(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, op := range c.ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

type testEnv struct {
	conn client.Connection
	rec  *recordingClient
	opts Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	rec := &recordingClient{
		WriteClient: dirclient.New(dir, testLogger()),
		missing:     make(map[string]bool),
	}
	return &testEnv{
		conn: client.NewConnection(dir, rec),
		rec:  rec,
		opts: Options{Logger: testLogger()},
	}
}

func featureAsset(symbolicName, appliesTo string) *model.Asset {
	return &model.Asset{
		Type:         model.TypeFeature,
		Name:         symbolicName,
		ProviderName: "IBM",
		Version:      "1.0.0",
		AppliesTo:    appliesTo,
		Feature:      &model.FeatureInfo{SymbolicName: symbolicName, Visibility: model.VisibilityPublic},
	}
}

// candidate готовит ресурс к загрузке: вложение и вычисляемые поля.
func (e *testEnv) candidate(t *testing.T, asset *model.Asset) *resource.Resource {
	t.Helper()
	r := resource.New(e.conn, asset)
	r.AddAttachment(model.Attachment{Name: asset.Name + ".esa", Type: model.AttachmentContent},
		func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("esa:" + asset.Name)), nil
		})
	if err := r.GenerateFields(true); err != nil {
		t.Fatalf("Ошибка GenerateFields: %v", err)
	}
	return r
}

// existing создаёт ресурс в репозитории в состоянии state.
func (e *testEnv) existing(t *testing.T, asset *model.Asset, state lifecycle.State) *resource.Resource {
	t.Helper()
	r := e.candidate(t, asset)
	if err := r.Upload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.MoveToState(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	return r
}

// visibleAt возвращает видимые опубликованные ресурсы на vanity URL.
func (e *testEnv) visibleAt(t *testing.T, vanityURL string) []*model.Asset {
	t.Helper()
	all, err := e.conn.ReadClient().GetAllAssets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var result []*model.Asset
	for _, a := range all {
		if a.VanityURL == vanityURL && a.IsVisible() && a.State == lifecycle.StatePublished {
			result = append(result, a)
		}
	}
	return result
}

func (e *testEnv) assetCount(t *testing.T) int {
	t.Helper()
	all, err := e.conn.ReadClient().GetAllAssets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return len(all)
}

const jsp = "com.ibm.websphere.appserver.jsp-2.2"

// TestAddNew проверяет создание без изменения существующих ресурсов.
func TestAddNew(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	old := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver"), lifecycle.StatePublished)
	env.rec.reset()

	s := NewAddNew(env.conn, env.opts)
	c := env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver"))
	matches, err := s.FindMatchingResources(ctx, c)
	if err != nil || len(matches) != 1 {
		t.Fatalf("ожидалось одно совпадение: %d, %v", len(matches), err)
	}

	got, err := s.UploadAsset(ctx, c, matches)
	if err != nil {
		t.Fatalf("Ошибка UploadAsset: %v", err)
	}
	if got.State() != lifecycle.StateDraft {
		t.Errorf("целевое состояние по умолчанию draft, получено %s", got.State())
	}
	if env.rec.count("delete_") != 0 || env.rec.count("update_state:"+old.ID()) != 0 {
		t.Errorf("существующий ресурс не должен изменяться: %v", env.rec.ops)
	}
	if env.assetCount(t) != 2 {
		t.Errorf("ожидалось 2 ресурса, получено %d", env.assetCount(t))
	}
	if s.Name() != NameAddNew {
		t.Errorf("Name = %q", s.Name())
	}
}

// TestAddNew_Ordering проверяет порядок: запись, вложения, переходы.
func TestAddNew_Ordering(t *testing.T) {
	env := newTestEnv(t)
	s := NewAddNew(env.conn, Options{TargetState: lifecycle.StatePublished, Logger: testLogger()})

	got, err := s.UploadAsset(context.Background(), env.candidate(t, featureAsset(jsp, "")), nil)
	if err != nil {
		t.Fatal(err)
	}
	id := got.ID()

	addAsset := env.rec.index("add_asset:" + id)
	attachment := env.rec.index("add_attachment:" + id)
	publish := env.rec.index("update_state:" + id + ":publish")
	approve := env.rec.index("update_state:" + id + ":approve")
	if addAsset < 0 || !(addAsset < attachment && attachment < publish && publish < approve) {
		t.Errorf("неверный порядок операций: %v", env.rec.ops)
	}
	if got.State() != lifecycle.StatePublished {
		t.Errorf("State = %s", got.State())
	}
}

// TestAssetOnlyReplacement_NoMatch проверяет ошибку при отсутствии совпадения.
func TestAssetOnlyReplacement_NoMatch(t *testing.T) {
	env := newTestEnv(t)
	s := NewAssetOnlyReplacement(env.conn, env.opts, nil)

	_, err := s.UploadAsset(context.Background(), env.candidate(t, featureAsset(jsp, "")), nil)
	if !errors.Is(err, resource.ErrUpdate) {
		t.Errorf("ожидалась ErrUpdate, получено %v", err)
	}
	if env.rec.count("") != 0 {
		t.Errorf("операций записи быть не должно: %v", env.rec.ops)
	}
}

// TestAssetOnlyReplacement_Published проверяет обновление опубликованного ресурса.
func TestAssetOnlyReplacement_Published(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	old := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver"), lifecycle.StatePublished)
	env.rec.reset()

	update := featureAsset(jsp, "com.ibm.websphere.appserver")
	update.Description = "исправленное описание"
	c := env.candidate(t, update)

	s := NewAssetOnlyReplacement(env.conn, env.opts, nil)
	matches, _ := s.FindMatchingResources(ctx, c)
	got, err := s.UploadAsset(ctx, c, matches)
	if err != nil {
		t.Fatalf("Ошибка UploadAsset: %v", err)
	}

	if got.ID() != old.ID() {
		t.Errorf("ID должен сохраниться: %s → %s", old.ID(), got.ID())
	}
	if got.Asset.Description != "исправленное описание" || got.State() != lifecycle.StatePublished {
		t.Errorf("неверный результат: %q, %s", got.Asset.Description, got.State())
	}
	if len(got.Asset.Attachments) != 1 {
		t.Errorf("вложения должны сохраниться: %d", len(got.Asset.Attachments))
	}

	unpublish := env.rec.index("update_state:" + old.ID() + ":unpublish")
	update2 := env.rec.index("update_asset:" + old.ID())
	republish := env.rec.lastIndex("update_state:" + old.ID() + ":approve")
	if unpublish < 0 || !(unpublish < update2 && update2 < republish) {
		t.Errorf("неверный порядок операций: %v", env.rec.ops)
	}
	if env.rec.count("add_") != 0 || env.rec.count("delete_") != 0 {
		t.Errorf("вложения и ресурсы не должны создаваться и удаляться: %v", env.rec.ops)
	}
}

// TestAssetOnlyReplacement_Nothing проверяет отсутствие записи при совпадающих данных.
func TestAssetOnlyReplacement_Nothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	old := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver"), lifecycle.StatePublished)
	env.rec.reset()

	s := NewAssetOnlyReplacement(env.conn, env.opts, old)
	got, err := s.UploadAsset(ctx, env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver")), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != old.ID() || env.rec.count("") != 0 {
		t.Errorf("ожидалось отсутствие операций записи: %v", env.rec.ops)
	}
}

// TestAddThenDelete_Ordering проверяет удаление только после перехода нового ресурса.
func TestAddThenDelete_Ordering(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	old := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver"), lifecycle.StatePublished)
	extra := env.existing(t, featureAsset("com.ibm.websphere.appserver.other-1.0", ""), lifecycle.StateDraft)
	env.rec.reset()

	s := NewAddThenDelete(env.conn, env.opts, extra)
	c := env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver"))
	matches, _ := s.FindMatchingResources(ctx, c)
	got, err := s.UploadAsset(ctx, c, append(matches, old))
	if err != nil {
		t.Fatalf("Ошибка UploadAsset: %v", err)
	}

	if got.State() != lifecycle.StatePublished {
		t.Errorf("целевое состояние берётся у совпадения: %s", got.State())
	}
	approve := env.rec.index("update_state:" + got.ID() + ":approve")
	deleteOld := env.rec.index("delete_asset:" + old.ID())
	deleteExtra := env.rec.index("delete_asset:" + extra.ID())
	if approve < 0 || deleteOld < approve || deleteExtra < approve {
		t.Errorf("удаление до перехода нового ресурса: %v", env.rec.ops)
	}
	if env.rec.count("delete_asset:") != 2 {
		t.Errorf("каждый ресурс удаляется один раз: %v", env.rec.ops)
	}
	if env.assetCount(t) != 1 {
		t.Errorf("ожидался 1 ресурс, получено %d", env.assetCount(t))
	}
}

// TestAddThenDelete_FailedUploadKeepsOld проверяет, что при ошибке старый ресурс не удаляется.
func TestAddThenDelete_FailedUploadKeepsOld(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	old := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver"), lifecycle.StatePublished)
	env.rec.reset()

	c := resource.New(env.conn, featureAsset(jsp, "com.ibm.websphere.appserver"))
	c.AddAttachment(model.Attachment{Name: "broken.esa", Type: model.AttachmentContent},
		func(context.Context) (io.ReadCloser, error) { return nil, errors.New("файл недоступен") })

	s := NewAddThenDelete(env.conn, env.opts, nil)
	if _, err := s.UploadAsset(ctx, c, []*resource.Resource{old}); err == nil {
		t.Fatal("ожидалась ошибка загрузки")
	}
	if env.rec.count("delete_asset:") != 0 {
		t.Errorf("старый ресурс не должен удаляться: %v", env.rec.ops)
	}
}

// TestAddThenHideOld_NoOccupant проверяет загрузку на свободный vanity URL.
func TestAddThenHideOld_NoOccupant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cache := NewVisibilityCache(testLogger())
	s := NewAddThenHideOld(env.conn, Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}, nil, cache)

	c := env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9"))
	matches, _ := s.FindMatchingResources(ctx, c)
	got, err := s.UploadAsset(ctx, c, matches)
	if err != nil {
		t.Fatalf("Ошибка UploadAsset: %v", err)
	}

	if got.State() != lifecycle.StatePublished {
		t.Errorf("State = %s", got.State())
	}
	if n := env.rec.count("delete_asset:"); n != 0 {
		t.Errorf("ожидалось 0 удалений, получено %d", n)
	}
	if visible := env.visibleAt(t, got.VanityURL()); len(visible) != 1 || visible[0].ID != got.ID() {
		t.Errorf("ожидался один видимый ресурс: %+v", visible)
	}
	owner, _ := cache.Lookup(got.VanityURL())
	if owner == nil || owner.ID != got.ID() {
		t.Errorf("кэш должен указывать на новый ресурс: %+v", owner)
	}
}

// TestAddThenHideOld_ReplacesMatch проверяет замену совпадающего опубликованного ресурса.
func TestAddThenHideOld_ReplacesMatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	old := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9"), lifecycle.StatePublished)
	env.rec.reset()

	s := NewAddThenHideOld(env.conn, env.opts, nil, NewVisibilityCache(testLogger()))
	c := env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9"))
	matches, _ := s.FindMatchingResources(ctx, c)
	got, err := s.UploadAsset(ctx, c, matches)
	if err != nil {
		t.Fatalf("Ошибка UploadAsset: %v", err)
	}

	if got.State() != lifecycle.StatePublished {
		t.Errorf("State = %s", got.State())
	}
	if _, err := env.conn.ReadClient().GetAsset(ctx, old.ID()); !client.IsNotFound(err) {
		t.Errorf("старый ресурс должен быть удалён: %v", err)
	}
	if visible := env.visibleAt(t, got.VanityURL()); len(visible) != 1 || visible[0].ID != got.ID() {
		t.Errorf("на vanity URL должен остаться только новый ресурс: %+v", visible)
	}
	if env.rec.count("add_asset:") != 1 {
		t.Errorf("скрытых копий быть не должно: %v", env.rec.ops)
	}
}

// TestAddThenHideOld_HidesOlderOccupant проверяет скрытие несовпадающего владельца vanity URL.
func TestAddThenHideOld_HidesOlderOccupant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	occupant := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.5"), lifecycle.StatePublished)
	env.rec.reset()

	opts := Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}
	s := NewAddThenHideOld(env.conn, opts, nil, NewVisibilityCache(testLogger()))
	c := env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9"))
	matches, _ := s.FindMatchingResources(ctx, c)
	if len(matches) != 0 {
		t.Fatalf("разные applies-to не должны совпадать: %d", len(matches))
	}

	got, err := s.UploadAsset(ctx, c, matches)
	if err != nil {
		t.Fatalf("Ошибка UploadAsset: %v", err)
	}
	if got.ID() != c.ID() || !got.Asset.IsVisible() {
		t.Errorf("новый ресурс должен остаться видимым: %+v", got.Asset)
	}

	if visible := env.visibleAt(t, got.VanityURL()); len(visible) != 1 || visible[0].ID != got.ID() {
		t.Errorf("на vanity URL должен остаться только новый ресурс: %+v", visible)
	}
	if _, err := env.conn.ReadClient().GetAsset(ctx, occupant.ID()); !client.IsNotFound(err) {
		t.Errorf("снимок прежнего владельца должен быть удалён: %v", err)
	}

	all, _ := env.conn.ReadClient().GetAllAssets(ctx)
	var hidden *model.Asset
	for _, a := range all {
		if !a.IsVisible() {
			hidden = a
		}
	}
	if hidden == nil || hidden.AppliesTo != occupant.Asset.AppliesTo || hidden.State != lifecycle.StatePublished {
		t.Fatalf("ожидалась скрытая опубликованная копия прежнего владельца: %+v", hidden)
	}
	if len(hidden.Attachments) != 1 {
		t.Errorf("копия должна сохранить вложения: %d", len(hidden.Attachments))
	}
	if env.rec.index("add_asset:"+hidden.ID) > env.rec.index("delete_asset:"+occupant.ID()) {
		t.Errorf("снимок удалён до создания копии: %v", env.rec.ops)
	}
}

// TestAddThenHideOld_NewerOccupantWins проверяет скрытие кандидата, если владелец новее.
func TestAddThenHideOld_NewerOccupantWins(t *testing.T) {
	tests := []struct {
		name      string
		occupant  string
		candidate string
	}{
		{
			name:      "более старая версия",
			occupant:  "com.ibm.websphere.appserver; productVersion=8.5.5.9",
			candidate: "com.ibm.websphere.appserver; productVersion=8.5.5.5",
		},
		{
			name:      "бета против релиза",
			occupant:  "com.ibm.websphere.appserver; productVersion=8.5.5.9",
			candidate: "com.ibm.websphere.appserver; productVersion=2016.1.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t)
			occupant := env.existing(t, featureAsset(jsp, tt.occupant), lifecycle.StatePublished)

			opts := Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}
			s := NewAddThenHideOld(env.conn, opts, nil, NewVisibilityCache(testLogger()))
			got, err := s.UploadAsset(ctx, env.candidate(t, featureAsset(jsp, tt.candidate)), nil)
			if err != nil {
				t.Fatalf("Ошибка UploadAsset: %v", err)
			}

			if got.Asset.IsVisible() || got.State() != lifecycle.StatePublished {
				t.Errorf("кандидат должен быть скрыт: %+v", got.Asset)
			}
			if visible := env.visibleAt(t, got.VanityURL()); len(visible) != 1 || visible[0].ID != occupant.ID() {
				t.Errorf("видимым должен остаться прежний владелец: %+v", visible)
			}
		})
	}
}

// TestAddThenHideOld_StaleOccupantRetry проверяет перестроение кэша после удаления владельца.
func TestAddThenHideOld_StaleOccupantRetry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	occupant := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.5"), lifecycle.StatePublished)

	cache := NewVisibilityCache(testLogger())
	if err := cache.EnsurePopulated(ctx, env.conn.ReadClient()); err != nil {
		t.Fatal(err)
	}
	// Параллельный участник удаляет владельца в обход кэша.
	if err := occupant.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	env.rec.reset()

	opts := Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}
	s := NewAddThenHideOld(env.conn, opts, nil, cache)
	got, err := s.UploadAsset(ctx, env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9")), nil)
	if err != nil {
		t.Fatalf("Ошибка UploadAsset: %v", err)
	}

	owner, err := cache.Lookup(got.VanityURL())
	if err != nil || owner == nil || owner.ID != got.ID() {
		t.Errorf("после перестроения кэш должен указывать на новый ресурс: %+v, %v", owner, err)
	}
	if env.rec.count("add_asset:") != 1 {
		t.Errorf("скрытых копий быть не должно: %v", env.rec.ops)
	}
}

// TestAddThenHideOld_SecondRaceFails проверяет ошибку согласованности при повторной гонке.
func TestAddThenHideOld_SecondRaceFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ghost := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.5"), lifecycle.StatePublished)
	// Ресурс виден при сканировании, но не читается по ID.
	env.rec.missing[ghost.ID()] = true

	opts := Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}
	s := NewAddThenHideOld(env.conn, opts, nil, NewVisibilityCache(testLogger()))
	c := env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9"))
	_, err := s.UploadAsset(ctx, c, nil)

	if !errors.Is(err, resource.ErrConsistency) {
		t.Fatalf("ожидалась ErrConsistency, получено %v", err)
	}
	var ue *resource.UpdateError
	if !errors.As(err, &ue) || len(ue.ResourceIDs) != 2 || ue.ResourceIDs[1] != ghost.ID() {
		t.Errorf("ошибка должна называть оба ресурса: %+v", ue)
	}
}

// TestAddThenHideOld_Concurrent проверяет параллельные загрузки на разные vanity URL.
func TestAddThenHideOld_Concurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cache := NewVisibilityCache(testLogger())
	opts := Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}

	const n = 8
	candidates := make([]*resource.Resource, n)
	for i := range candidates {
		candidates[i] = env.candidate(t, featureAsset(fmt.Sprintf("com.example.feature%d-1.0", i), ""))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, c := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewAddThenHideOld(env.conn, opts, nil, cache)
			if _, err := s.UploadAsset(ctx, c, nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Ошибка параллельной загрузки: %v", err)
	}
	if cache.Len() != n {
		t.Errorf("в кэше ожидалось %d записей, получено %d", n, cache.Len())
	}
}

// TestAddThenHideOld_ConflictFailsBeforeUpload проверяет, что загрузка на
// vanity URL с несколькими видимыми ресурсами отклоняется без записи.
func TestAddThenHideOld_ConflictFailsBeforeUpload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.5"), lifecycle.StatePublished)
	b := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9"), lifecycle.StatePublished)
	env.rec.reset()

	opts := Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}
	s := NewAddThenHideOld(env.conn, opts, nil, NewVisibilityCache(testLogger()))
	c := env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.7"))
	matches, err := s.FindMatchingResources(ctx, c)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.UploadAsset(ctx, c, matches)
	if !errors.Is(err, resource.ErrConsistency) {
		t.Fatalf("ожидалась ErrConsistency, получено %v", err)
	}
	if len(env.rec.ops) != 0 {
		t.Errorf("при конфликте не должно быть операций записи: %v", env.rec.ops)
	}
	if n := env.assetCount(t); n != 2 {
		t.Errorf("в репозитории ожидалось 2 ресурса, получено %d", n)
	}
	visible := env.visibleAt(t, a.VanityURL())
	if len(visible) != 2 {
		t.Errorf("видимыми должны остаться %s и %s: %+v", a.ID(), b.ID(), visible)
	}
}

// TestAddThenHideOld_ConflictResolvedByMatch проверяет загрузку, которая
// сама удаляет один из конфликтующих ресурсов.
func TestAddThenHideOld_ConflictResolvedByMatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.5"), lifecycle.StatePublished)
	b := env.existing(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9"), lifecycle.StatePublished)

	opts := Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}
	s := NewAddThenHideOld(env.conn, opts, nil, NewVisibilityCache(testLogger()))
	c := env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.5"))
	matches, err := s.FindMatchingResources(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID() != a.ID() {
		t.Fatalf("ожидалось совпадение с %s, получено %d", a.ID(), len(matches))
	}

	got, err := s.UploadAsset(ctx, c, matches)
	if err != nil {
		t.Fatalf("Ошибка UploadAsset: %v", err)
	}
	if got.Asset.IsVisible() {
		t.Errorf("более старый кандидат должен быть скрыт: %+v", got.Asset)
	}
	visible := env.visibleAt(t, b.VanityURL())
	if len(visible) != 1 || visible[0].ID != b.ID() {
		t.Errorf("видимым должен остаться только %s: %+v", b.ID(), visible)
	}
}

// TestAddThenHideOld_CachedClient проверяет повтор после внешнего удаления
// владельца, когда запись владельца осталась в кэше клиента.
func TestAddThenHideOld_CachedClient(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	wc := cached.New(dirclient.New(dir, testLogger()), 100, 5*time.Minute)
	other := dirclient.New(dir, testLogger())
	env := &testEnv{conn: client.NewConnection(dir, wc), opts: Options{Logger: testLogger()}}

	cache := NewVisibilityCache(testLogger())
	opts := Options{TargetState: lifecycle.StatePublished, Logger: testLogger()}

	first, err := NewAddThenHideOld(env.conn, opts, nil, cache).UploadAsset(ctx,
		env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.5")), nil)
	if err != nil {
		t.Fatalf("Ошибка первой загрузки: %v", err)
	}
	if _, err := wc.GetAsset(ctx, first.ID()); err != nil {
		t.Fatal(err)
	}
	// Другой процесс удаляет владельца, кэш клиента об этом не знает.
	if err := other.DeleteAsset(ctx, first.ID()); err != nil {
		t.Fatal(err)
	}

	second, err := NewAddThenHideOld(env.conn, opts, nil, cache).UploadAsset(ctx,
		env.candidate(t, featureAsset(jsp, "com.ibm.websphere.appserver; productVersion=8.5.5.9")), nil)
	if err != nil {
		t.Fatalf("Ошибка второй загрузки: %v", err)
	}
	visible := env.visibleAt(t, second.VanityURL())
	if len(visible) != 1 || visible[0].ID != second.ID() {
		t.Errorf("видимым должен быть только новый ресурс: %+v", visible)
	}
	if n := env.assetCount(t); n != 1 {
		t.Errorf("в репозитории ожидался 1 ресурс, получено %d", n)
	}
	owner, err := cache.Lookup(second.VanityURL())
	if err != nil || owner == nil || owner.ID != second.ID() {
		t.Errorf("кэш видимости должен указывать на новый ресурс: %+v, %v", owner, err)
	}
}
