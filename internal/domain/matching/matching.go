// Пакет matching — ключ идентичности ресурса и правила сравнения ресурсов
// одного логического артефакта (версии, беты, наборы applies-to).
package matching

import (
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/version"
)

// Data — ключ идентичности ресурса.
// Базовая часть {type, name, provider} общая для всех видов; расширение зависит
// от вида ресурса:
//   - install: скалярная версия продукта (ProductVersion);
//   - feature: symbolic name + version + набор applies-to;
//   - прочие виды с ApplicableToProduct: набор applies-to.
type Data struct {
	Type         model.ResourceType
	Name         string
	ProviderName string

	ProductVersion string
	SymbolicName   string
	Version        string
	Filters        []version.FilterInfo

	// hasFilters — расширение содержит набор фильтров (в том числе пустой)
	hasFilters bool
}

// Create строит ключ идентичности ресурса.
// Фильтры applies-to всегда генерируются заново из строки appliesTo:
// сохранённые в backend данные могли быть построены старой логикой.
// Некорректная строка applies-to возвращает ошибку разбора.
func Create(asset *model.Asset) (Data, error) {
	d := Data{
		Type:         asset.Type,
		Name:         asset.Name,
		ProviderName: asset.ProviderName,
	}

	switch {
	case asset.Type == model.TypeInstall:
		if asset.Product != nil {
			d.ProductVersion = asset.Product.ProductVersion
		}
	case asset.Type.ApplicableToProduct():
		filters, err := version.ParseAppliesTo(asset.AppliesTo)
		if err != nil {
			return Data{}, err
		}
		d.Filters = filters
		d.hasFilters = true
		if asset.Type == model.TypeFeature && asset.Feature != nil {
			d.SymbolicName = asset.Feature.SymbolicName
			d.Version = asset.Version
		}
	}
	return d, nil
}

// Equal сравнивает ключи: сначала базовая часть, затем расширение вида.
func (d Data) Equal(other Data) bool {
	if d.Type != other.Type || d.Name != other.Name || d.ProviderName != other.ProviderName {
		return false
	}
	if d.ProductVersion != other.ProductVersion {
		return false
	}
	if d.SymbolicName != other.SymbolicName || d.Version != other.Version {
		return false
	}
	if d.hasFilters != other.hasFilters {
		return false
	}
	return SameFilterSet(d.Filters, other.Filters)
}

// SameFilterSet сравнивает наборы фильтров как множества: одинаковый размер
// и каждый элемент одного набора содержится в другом. Порядок не важен.
func SameFilterSet(a, b []version.FilterInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !containsFilter(b, x) {
			return false
		}
	}
	for _, y := range b {
		if !containsFilter(a, y) {
			return false
		}
	}
	return true
}

func containsFilter(set []version.FilterInfo, f version.FilterInfo) bool {
	for _, s := range set {
		if s == f {
			return true
		}
	}
	return false
}

// IsBeta проверяет, что ресурс — бета (calendar-style версия в applies-to).
func IsBeta(asset *model.Asset) bool {
	if asset == nil {
		return false
	}
	return version.IsBetaAppliesTo(asset.AppliesTo)
}

// ReturnNonBetaResourceOrNull возвращает не-бета ресурс, если ровно один из двух
// — бета. Если оба беты или оба не беты, возвращает nil. Порядок аргументов не важен.
func ReturnNonBetaResourceOrNull(a, b *model.Asset) *model.Asset {
	aBeta, bBeta := IsBeta(a), IsBeta(b)
	switch {
	case aBeta && !bBeta:
		return b
	case bBeta && !aBeta:
		return a
	default:
		return nil
	}
}

// GetNewerResource возвращает ресурс с более новым набором applies-to.
// Бета сравнивается только с бетой: при смешанной паре выигрывает не-бета.
// Возвращает nil, если порядок не определён (одинаковые диапазоны или
// некорректная строка applies-to).
func GetNewerResource(a, b *model.Asset) *model.Asset {
	if nonBeta := ReturnNonBetaResourceOrNull(a, b); nonBeta != nil {
		return nonBeta
	}

	aFilters, err := version.ParseAppliesTo(a.AppliesTo)
	if err != nil {
		return nil
	}
	bFilters, err := version.ParseAppliesTo(b.AppliesTo)
	if err != nil {
		return nil
	}

	switch version.CompareAppliesTo(aFilters, bFilters) {
	case 1:
		return a
	case -1:
		return b
	default:
		return nil
	}
}
