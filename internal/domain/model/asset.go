// Пакет model — доменные модели репозитория ресурсов Liberty.
// Asset — единая запись ресурса (feature, product, sample, ifix, ...),
// используется как in-memory представление и как формат хранения backend.
// Специфичные для вида ресурса атрибуты вынесены в опциональные блоки
// (Feature, Product), возможности вида — в методы ResourceType.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
)

// ResourceType — вид ресурса репозитория.
type ResourceType string

const (
	TypeProductSample ResourceType = "com.ibm.websphere.ProductSample"
	TypeOpenSource    ResourceType = "com.ibm.websphere.OpenSource"
	TypeInstall       ResourceType = "com.ibm.websphere.Install"
	TypeAddon         ResourceType = "com.ibm.websphere.Addon"
	TypeFeature       ResourceType = "com.ibm.websphere.Feature"
	TypeIfix          ResourceType = "com.ibm.websphere.Ifix"
	TypeAdminScript   ResourceType = "com.ibm.websphere.AdminScript"
	TypeConfigSnippet ResourceType = "com.ibm.websphere.ConfigSnippet"
	TypeTool          ResourceType = "com.ibm.websphere.Tool"
)

// resourceTypeInfo — свойства вида ресурса.
type resourceTypeInfo struct {
	shortName  string // короткое имя (для API и конфигурации)
	urlSegment string // сегмент vanity URL
	webVisible bool   // отображается на сайте репозитория
}

var resourceTypes = map[ResourceType]resourceTypeInfo{
	TypeProductSample: {"product-sample", "samples", true},
	TypeOpenSource:    {"open-source", "samples", true},
	TypeInstall:       {"install", "runtimes", true},
	TypeAddon:         {"addon", "addons", true},
	TypeFeature:       {"feature", "features", true},
	TypeIfix:          {"ifix", "ifixes", false},
	TypeAdminScript:   {"admin-script", "scripts", true},
	TypeConfigSnippet: {"config-snippet", "snippets", true},
	TypeTool:          {"tool", "tools", true},
}

// ParseResourceType принимает полное (com.ibm.websphere.Feature) или короткое (feature) имя.
func ParseResourceType(s string) (ResourceType, error) {
	if _, ok := resourceTypes[ResourceType(s)]; ok {
		return ResourceType(s), nil
	}
	for t, info := range resourceTypes {
		if strings.EqualFold(info.shortName, s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("недопустимый тип ресурса: %q", s)
}

// IsValid проверяет, что тип входит в допустимый набор.
func (t ResourceType) IsValid() bool {
	_, ok := resourceTypes[t]
	return ok
}

// ShortName возвращает короткое имя типа.
func (t ResourceType) ShortName() string {
	return resourceTypes[t].shortName
}

// URLSegment возвращает сегмент vanity URL для типа.
func (t ResourceType) URLSegment() string {
	return resourceTypes[t].urlSegment
}

// WebDisplayable — ресурс этого типа отображается на сайте и участвует в кэше видимости.
func (t ResourceType) WebDisplayable() bool {
	return resourceTypes[t].webVisible
}

// ApplicableToProduct — идентичность ресурса зависит от набора фильтров applies-to.
// Инсталляции продукта идентифицируются собственной версией продукта.
func (t ResourceType) ApplicableToProduct() bool {
	return t.IsValid() && t != TypeInstall
}

// DisplayPolicy — политика отображения ресурса на сайте.
type DisplayPolicy string

const (
	DisplayVisible DisplayPolicy = "VISIBLE"
	DisplayHidden  DisplayPolicy = "HIDDEN"
)

// AttachmentType — назначение вложения.
type AttachmentType string

const (
	AttachmentContent            AttachmentType = "CONTENT"
	AttachmentThumbnail          AttachmentType = "THUMBNAIL"
	AttachmentLicenseAgreement   AttachmentType = "LICENSE_AGREEMENT"
	AttachmentLicenseInformation AttachmentType = "LICENSE_INFORMATION"
	AttachmentLicense            AttachmentType = "LICENSE"
	AttachmentDocumentation      AttachmentType = "DOCUMENTATION"
	AttachmentIllustration       AttachmentType = "ILLUSTRATION"
)

// LinkType — способ доступа к содержимому вложения, хранящемуся вне репозитория.
type LinkType string

const (
	LinkDirect  LinkType = "DIRECT"
	LinkWebPage LinkType = "WEB_PAGE"
)

// Visibility — видимость feature для пользователей.
type Visibility string

const (
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityPrivate   Visibility = "PRIVATE"
	VisibilityProtected Visibility = "PROTECTED"
	VisibilityInstall   Visibility = "INSTALL"
)

// FeatureInfo — атрибуты ESA (feature).
type FeatureInfo struct {
	// SymbolicName — OSGi symbolic name (provideFeature)
	SymbolicName string `json:"provideFeature"`
	// ShortName — короткое имя feature (например jsp-2.2)
	ShortName string `json:"shortName,omitempty"`
	// Visibility — видимость feature
	Visibility Visibility `json:"visibility,omitempty"`
}

// ProductInfo — атрибуты продуктов (install, addon).
type ProductInfo struct {
	ProductID          string `json:"productId,omitempty"`
	ProductEdition     string `json:"productEdition,omitempty"`
	ProductInstallType string `json:"productInstallType,omitempty"`
	ProductVersion     string `json:"productVersion,omitempty"`
}

// Attachment — вложение ресурса: бинарный или текстовый объект.
type Attachment struct {
	// ID — идентификатор вложения (назначается backend)
	ID string `json:"_id,omitempty"`
	// AssetID — идентификатор ресурса-владельца
	AssetID string `json:"assetId,omitempty"`
	// Name — имя вложения (обычно имя файла)
	Name string `json:"name"`
	// Type — назначение вложения
	Type AttachmentType `json:"type"`
	// Locale — локаль (для вариантов лицензии)
	Locale string `json:"locale,omitempty"`
	// CRC — контрольная сумма CRC32 содержимого
	CRC int64 `json:"crc,omitempty"`
	// Size — размер содержимого в байтах
	Size int64 `json:"size"`
	// ContentType — MIME-тип
	ContentType string `json:"contentType,omitempty"`
	// LinkType — тип ссылки, если содержимое хранится вне репозитория
	LinkType LinkType `json:"linkType,omitempty"`
	// URL — адрес содержимого для LinkType
	URL string `json:"url,omitempty"`
}

// IsLink возвращает true, если содержимое не хранится в репозитории.
func (a *Attachment) IsLink() bool {
	return a.LinkType != ""
}

// Asset — запись ресурса репозитория.
type Asset struct {
	// ID — уникальный идентификатор (назначается backend при создании)
	ID string `json:"_id,omitempty"`
	// Type — вид ресурса
	Type ResourceType `json:"type"`
	// Name — имя ресурса
	Name string `json:"name"`
	// ProviderName — имя поставщика
	ProviderName string `json:"providerName,omitempty"`
	// Version — версия ресурса (свободный текст)
	Version string `json:"version,omitempty"`
	// Description — описание
	Description string `json:"description,omitempty"`
	// ShortDescription — краткое описание
	ShortDescription string `json:"shortDescription,omitempty"`
	// State — состояние жизненного цикла
	State lifecycle.State `json:"state,omitempty"`
	// WebDisplayPolicy — политика отображения; пустое значение означает VISIBLE
	WebDisplayPolicy DisplayPolicy `json:"webDisplayPolicy,omitempty"`
	// VanityURL — вычисляемый человекочитаемый ключ ресурса
	VanityURL string `json:"vanityRelativeURL,omitempty"`
	// AppliesTo — строка applies-to
	AppliesTo string `json:"appliesTo,omitempty"`
	// Feature — атрибуты feature (только для TypeFeature)
	Feature *FeatureInfo `json:"wlpInformation,omitempty"`
	// Product — атрибуты продукта (install, addon)
	Product *ProductInfo `json:"product,omitempty"`
	// Attachments — вложения ресурса
	Attachments []Attachment `json:"attachments,omitempty"`
	// CreatedAt — время создания записи в backend
	CreatedAt *time.Time `json:"createdOn,omitempty"`
	// UpdatedAt — время последнего обновления записи в backend
	UpdatedAt *time.Time `json:"lastUpdatedOn,omitempty"`
}

// IsVisible проверяет, что ресурс не скрыт политикой отображения.
func (a *Asset) IsVisible() bool {
	return a.WebDisplayPolicy != DisplayHidden
}

// MainAttachment возвращает первое вложение с типом CONTENT или nil.
func (a *Asset) MainAttachment() *Attachment {
	for i := range a.Attachments {
		if a.Attachments[i].Type == AttachmentContent {
			return &a.Attachments[i]
		}
	}
	return nil
}

// FindAttachment возвращает вложение по ID или nil.
func (a *Asset) FindAttachment(id string) *Attachment {
	for i := range a.Attachments {
		if a.Attachments[i].ID == id {
			return &a.Attachments[i]
		}
	}
	return nil
}

// Clone возвращает глубокую копию записи.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	copied := *a
	if a.Feature != nil {
		f := *a.Feature
		copied.Feature = &f
	}
	if a.Product != nil {
		p := *a.Product
		copied.Product = &p
	}
	if a.Attachments != nil {
		copied.Attachments = make([]Attachment, len(a.Attachments))
		copy(copied.Attachments, a.Attachments)
	}
	if a.CreatedAt != nil {
		t := *a.CreatedAt
		copied.CreatedAt = &t
	}
	if a.UpdatedAt != nil {
		t := *a.UpdatedAt
		copied.UpdatedAt = &t
	}
	return &copied
}

// WithoutAttachments возвращает копию записи без вложений.
// Используется при создании и обновлении записи: вложения передаются отдельно.
func (a *Asset) WithoutAttachments() *Asset {
	copied := a.Clone()
	copied.Attachments = nil
	return copied
}

// Validate проверяет обязательные поля записи.
func (a *Asset) Validate() error {
	if !a.Type.IsValid() {
		return fmt.Errorf("недопустимый тип ресурса: %q", a.Type)
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("имя ресурса не задано")
	}
	if a.Type == TypeFeature && (a.Feature == nil || a.Feature.SymbolicName == "") {
		return fmt.Errorf("для feature требуется symbolic name")
	}
	if a.State != "" && !a.State.IsValid() {
		return fmt.Errorf("недопустимое состояние: %q", a.State)
	}
	for i, att := range a.Attachments {
		if att.Name == "" {
			return fmt.Errorf("вложение %d: имя не задано", i)
		}
		if att.IsLink() && att.URL == "" {
			return fmt.Errorf("вложение %q: для ссылки требуется URL", att.Name)
		}
	}
	return nil
}
