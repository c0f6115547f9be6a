package resource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/client/dirclient"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/version"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestConnection создаёт подключение к репозиторию во временной директории.
func newTestConnection(t *testing.T) client.Connection {
	t.Helper()
	dir := t.TempDir()
	return client.NewConnection(dir, dirclient.New(dir, testLogger()))
}

func textSource(s string) ContentSource {
	return func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

func featureAsset(appliesTo string) *model.Asset {
	return &model.Asset{
		Type:         model.TypeFeature,
		Name:         "JSP 2.2",
		ProviderName: "IBM",
		Version:      "1.0.0",
		AppliesTo:    appliesTo,
		Feature:      &model.FeatureInfo{SymbolicName: "com.ibm.websphere.appserver.jsp-2.2"},
	}
}

// TestVanityURL проверяет вычисление vanity URL.
func TestVanityURL(t *testing.T) {
	tests := []struct {
		name  string
		asset *model.Asset
		want  string
	}{
		{
			name:  "продукт без вложения",
			asset: &model.Asset{Type: model.TypeInstall, Name: "fooName"},
			want:  "runtimes-fooName",
		},
		{
			name: "обрезка по последнему дефису и нормализация пробелов",
			asset: &model.Asset{
				Type: model.TypeInstall, Name: "fooName",
				Attachments: []model.Attachment{{Name: "what a good-name-not this bit", Type: model.AttachmentContent}},
			},
			want: "runtimes-what_a_good-name",
		},
		{
			name: "отбрасывается суффикс версии",
			asset: &model.Asset{
				Type: model.TypeInstall, Name: "fooName",
				Attachments: []model.Attachment{{Name: "what_a_good-name-not_this_bit-1.0.0", Type: model.AttachmentContent}},
			},
			want: "runtimes-what_a_good-name-not_this_bit",
		},
		{
			name: "иконка не является основным вложением",
			asset: &model.Asset{
				Type: model.TypeAddon, Name: "My Addon",
				Attachments: []model.Attachment{{Name: "icon-1.png", Type: model.AttachmentThumbnail}},
			},
			want: "addons-My_Addon",
		},
		{
			name:  "feature использует symbolic name",
			asset: featureAsset(""),
			want:  "features-com.ibm.websphere.appserver.jsp-2.2",
		},
		{
			name:  "недопустимые символы",
			asset: &model.Asset{Type: model.TypeTool, Name: "a/b:c?d"},
			want:  "tools-a_b_c_d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VanityURL(tt.asset); got != tt.want {
				t.Errorf("VanityURL() = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}

// TestResource_Upload проверяет создание записи и загрузку вложений.
func TestResource_Upload(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t)

	r := New(conn, featureAsset("com.ibm.websphere.appserver; productVersion=8.5.5.9"), WithAttachmentConcurrency(2))
	r.AddAttachment(model.Attachment{Name: "jsp-2.2.esa", Type: model.AttachmentContent}, textSource("esa-bytes"))
	r.AddAttachment(model.Attachment{Name: "license.html", Type: model.AttachmentLicense, Locale: "en"}, textSource("license"))
	r.AddAttachment(model.Attachment{Name: "docs", Type: model.AttachmentDocumentation,
		LinkType: model.LinkWebPage, URL: "https://example.com/docs"}, nil)

	if err := r.Upload(ctx); err != nil {
		t.Fatalf("Ошибка Upload: %v", err)
	}
	if r.ID() == "" {
		t.Fatal("после загрузки у ресурса должен быть ID")
	}
	if r.State() != lifecycle.StateDraft {
		t.Errorf("новый ресурс должен быть в draft, получено %s", r.State())
	}
	if len(r.Asset.Attachments) != 3 {
		t.Fatalf("ожидалось 3 вложения, получено %d", len(r.Asset.Attachments))
	}
	if r.PendingAttachments() != 0 {
		t.Errorf("после загрузки не должно остаться ожидающих вложений")
	}

	main := r.Asset.MainAttachment()
	if main == nil || main.Size != int64(len("esa-bytes")) {
		t.Fatalf("неверное основное вложение: %+v", main)
	}
	rc, err := conn.ReadClient().GetAttachment(ctx, r.ID(), main.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "esa-bytes" {
		t.Errorf("содержимое = %q", data)
	}

	if err := r.Upload(ctx); err == nil {
		t.Error("повторная загрузка должна возвращать ошибку")
	}
}

// TestResource_UploadReadOnly проверяет запрет записи через read-only подключение.
func TestResource_UploadReadOnly(t *testing.T) {
	dir := t.TempDir()
	conn := client.NewReadOnlyConnection(dir, dirclient.New(dir, testLogger()))

	err := New(conn, featureAsset("")).Upload(context.Background())
	if !errors.Is(err, client.ErrReadOnly) {
		t.Errorf("ожидалась ErrReadOnly, получено %v", err)
	}
}

// TestResource_MoveToState проверяет пошаговые переходы через backend.
func TestResource_MoveToState(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t)

	r := New(conn, featureAsset(""))
	if err := r.Upload(ctx); err != nil {
		t.Fatal(err)
	}

	history, err := r.MoveToState(ctx, lifecycle.StatePublished)
	if err != nil {
		t.Fatalf("Ошибка MoveToState: %v", err)
	}
	if len(history) != 2 || history[0].Action != lifecycle.ActionPublish || history[1].Action != lifecycle.ActionApprove {
		t.Errorf("draft → published: ожидалось publish, approve; получено %+v", history)
	}
	if r.State() != lifecycle.StatePublished {
		t.Errorf("State = %s", r.State())
	}

	if _, err := r.MoveToState(ctx, lifecycle.StateAwaitingApproval); err != nil {
		t.Fatal(err)
	}
	history, err = r.MoveToState(ctx, lifecycle.StateDraft)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Action != lifecycle.ActionCancel {
		t.Errorf("awaiting_approval → draft: ожидалось одно действие cancel, получено %+v", history)
	}

	stored, err := conn.ReadClient().GetAsset(ctx, r.ID())
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != lifecycle.StateDraft {
		t.Errorf("состояние в backend = %s", stored.State)
	}
}

// TestResource_PerformActionNotAllowed проверяет отказ без обращения к backend.
func TestResource_PerformActionNotAllowed(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t)

	r := New(conn, featureAsset(""))
	if err := r.Upload(ctx); err != nil {
		t.Fatal(err)
	}

	err := r.PerformAction(ctx, lifecycle.ActionApprove)
	var te *lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("ожидалась TransitionError, получено %v", err)
	}
	if te.From != lifecycle.StateDraft || te.Action != lifecycle.ActionApprove || te.ResourceID != r.ID() {
		t.Errorf("ошибка должна содержать состояние, действие и ресурс: %+v", te)
	}

	if err := r.PerformAction(ctx, lifecycle.ActionPublish); err != nil {
		t.Fatal(err)
	}
	if r.State() != lifecycle.StateAwaitingApproval {
		t.Errorf("State = %s", r.State())
	}
}

// TestResource_Delete проверяет удаление записи вместе с вложениями.
func TestResource_Delete(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t)

	r := New(conn, featureAsset(""))
	r.AddAttachment(model.Attachment{Name: "jsp.esa", Type: model.AttachmentContent}, textSource("x"))
	if err := r.Upload(ctx); err != nil {
		t.Fatal(err)
	}
	attID := r.Asset.Attachments[0].ID

	if err := r.Delete(ctx); err != nil {
		t.Fatalf("Ошибка Delete: %v", err)
	}
	if _, err := conn.ReadClient().GetAsset(ctx, r.ID()); !client.IsNotFound(err) {
		t.Errorf("ожидалась ErrNotFound для записи, получено %v", err)
	}
	if _, err := conn.ReadClient().GetAttachment(ctx, r.ID(), attID); err == nil {
		t.Error("вложение должно быть удалено")
	}
}

// TestResource_UpdateRequired проверяет сравнение с существующим ресурсом.
func TestResource_UpdateRequired(t *testing.T) {
	conn := newTestConnection(t)
	candidate := New(conn, featureAsset("com.ibm.websphere.appserver"))

	if got := candidate.UpdateRequired(nil); got != UpdateAdd {
		t.Errorf("без существующего: %s", got)
	}

	existing := featureAsset("com.ibm.websphere.appserver")
	existing.ID = "old"
	existing.State = lifecycle.StatePublished
	existing.WebDisplayPolicy = model.DisplayVisible
	existing.Attachments = []model.Attachment{{ID: "a", Name: "x.esa", Type: model.AttachmentContent}}
	if got := candidate.UpdateRequired(New(conn, existing)); got != UpdateNothing {
		t.Errorf("служебные поля не должны влиять на сравнение: %s", got)
	}

	existing.Description = "другое описание"
	if got := candidate.UpdateRequired(New(conn, existing)); got != UpdateUpdate {
		t.Errorf("изменённое описание: %s", got)
	}
}

// TestResource_OverwriteAndUpdate проверяет слияние данных с сохранением ID и вложений.
func TestResource_OverwriteAndUpdate(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t)

	existing := New(conn, featureAsset(""))
	existing.AddAttachment(model.Attachment{Name: "jsp.esa", Type: model.AttachmentContent}, textSource("x"))
	if err := existing.Upload(ctx); err != nil {
		t.Fatal(err)
	}
	id := existing.ID()

	update := featureAsset("")
	update.Description = "новое описание"
	existing.OverwriteAssetData(update)
	if err := existing.UpdateAsset(ctx); err != nil {
		t.Fatalf("Ошибка UpdateAsset: %v", err)
	}

	if existing.ID() != id {
		t.Errorf("ID изменился: %s → %s", id, existing.ID())
	}
	if existing.Asset.Description != "новое описание" {
		t.Errorf("Description = %q", existing.Asset.Description)
	}
	if len(existing.Asset.Attachments) != 1 {
		t.Errorf("вложения должны сохраниться, получено %d", len(existing.Asset.Attachments))
	}
}

// TestResource_GenerateFields проверяет валидацию и вычисляемые поля.
func TestResource_GenerateFields(t *testing.T) {
	conn := newTestConnection(t)

	r := New(conn, featureAsset(`com.ibm.websphere.appserver; productEdition="BASE,ND"; productVersion=8.5.5.9+`))
	if err := r.GenerateFields(true); err != nil {
		t.Fatalf("Ошибка GenerateFields: %v", err)
	}
	if r.Asset.VanityURL != "features-com.ibm.websphere.appserver.jsp-2.2" {
		t.Errorf("VanityURL = %q", r.Asset.VanityURL)
	}
	if r.Asset.WebDisplayPolicy != model.DisplayVisible {
		t.Errorf("WebDisplayPolicy = %q", r.Asset.WebDisplayPolicy)
	}

	ifix := New(conn, &model.Asset{Type: model.TypeIfix, Name: "PI12345", AppliesTo: "com.ibm.websphere.appserver"})
	if err := ifix.GenerateFields(true); err != nil {
		t.Fatal(err)
	}
	if ifix.Asset.WebDisplayPolicy != model.DisplayHidden {
		t.Errorf("ifix не отображается на сайте: WebDisplayPolicy = %q", ifix.Asset.WebDisplayPolicy)
	}

	unknown := New(conn, featureAsset(`com.ibm.websphere.appserver; productEdition="GOLD"`))
	err := unknown.GenerateFields(true)
	if !errors.Is(err, ErrValidation) || !errors.Is(err, version.ErrUnknownEdition) {
		t.Errorf("ожидалась ошибка неизвестной редакции, получено %v", err)
	}
	if !strings.Contains(err.Error(), "GOLD") {
		t.Errorf("ошибка должна содержать значение: %v", err)
	}
	if err := New(conn, featureAsset(`com.ibm.websphere.appserver; productEdition="GOLD"`)).GenerateFields(false); err != nil {
		t.Errorf("без проверки редакций ошибки быть не должно: %v", err)
	}

	bad := New(conn, featureAsset("com.ibm.websphere.appserver; productVersion=8.5.x.9"))
	if err := bad.GenerateFields(false); !errors.Is(err, version.ErrBadVersion) {
		t.Errorf("ожидалась ErrBadVersion, получено %v", err)
	}
}

// TestFindMatchingResources проверяет поиск по ключу идентичности.
func TestFindMatchingResources(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t)

	upload := func(a *model.Asset) *Resource {
		t.Helper()
		r := New(conn, a)
		if err := r.Upload(ctx); err != nil {
			t.Fatal(err)
		}
		return r
	}

	same := upload(featureAsset("com.ibm.websphere.appserver; productVersion=8.5.5.9, com.ibm.websphere.appserver.core"))
	upload(featureAsset("com.ibm.websphere.appserver; productVersion=8.5.5.5"))
	other := featureAsset("com.ibm.websphere.appserver; productVersion=8.5.5.9")
	other.Name = "другое имя"
	upload(other)
	broken := featureAsset("com.ibm.websphere.appserver; productVersion=x")
	upload(broken)

	candidate := New(conn, featureAsset("com.ibm.websphere.appserver.core, com.ibm.websphere.appserver; productVersion=8.5.5.9"))
	matches, err := FindMatchingResources(ctx, conn, candidate)
	if err != nil {
		t.Fatalf("Ошибка FindMatchingResources: %v", err)
	}
	if len(matches) != 1 || matches[0].ID() != same.ID() {
		t.Fatalf("ожидалось одно совпадение %s, получено %d", same.ID(), len(matches))
	}

	_, err = FindMatchingResources(ctx, conn, New(conn, featureAsset("com.ibm.websphere.appserver; productVersion=1..2")))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ошибка валидации кандидата, получено %v", err)
	}
}

// TestResource_CopyAsNew проверяет копирование ресурса вместе с содержимым вложений.
func TestResource_CopyAsNew(t *testing.T) {
	ctx := context.Background()
	conn := newTestConnection(t)

	src := New(conn, featureAsset(""))
	src.AddAttachment(model.Attachment{Name: "jsp.esa", Type: model.AttachmentContent}, textSource("payload"))
	if err := src.Upload(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := src.MoveToState(ctx, lifecycle.StatePublished); err != nil {
		t.Fatal(err)
	}

	cp := src.CopyAsNew()
	cp.Asset.WebDisplayPolicy = model.DisplayHidden
	if cp.ID() != "" || cp.PendingAttachments() != 1 {
		t.Fatalf("копия должна быть новой с одним ожидающим вложением: %+v", cp.Asset)
	}
	if err := cp.Upload(ctx); err != nil {
		t.Fatalf("Ошибка Upload копии: %v", err)
	}
	if cp.ID() == src.ID() || cp.State() != lifecycle.StateDraft {
		t.Errorf("копия: ID = %s, State = %s", cp.ID(), cp.State())
	}
	main := cp.Asset.MainAttachment()
	rc, err := conn.ReadClient().GetAttachment(ctx, cp.ID(), main.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Errorf("содержимое копии = %q", data)
	}
}

// TestUpdateError проверяет форматирование и разворачивание ошибки обновления.
func TestUpdateError(t *testing.T) {
	err := error(NewConsistencyError("два видимых ресурса на одном vanity URL", "a", "b"))
	if !errors.Is(err, ErrConsistency) || errors.Is(err, ErrUpdate) {
		t.Errorf("неверный вид ошибки: %v", err)
	}
	if !strings.Contains(err.Error(), "a, b") {
		t.Errorf("сообщение должно называть оба ресурса: %v", err)
	}

	wrapped := error(NewUpdateError("нет ресурса для замены", client.ErrNotFound, "x"))
	if !errors.Is(wrapped, ErrUpdate) || !errors.Is(wrapped, client.ErrNotFound) {
		t.Errorf("ошибка должна разворачиваться в оба вида: %v", wrapped)
	}
}
