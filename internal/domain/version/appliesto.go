// appliesto.go — разбор строк applies-to.
//
// Формат: productId[; productEdition="E1,E2"][; productVersion=X.Y.Z.Q[+]]
// Несколько продуктов перечисляются через запятую вне кавычек.
package version

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAppliesTo — строка applies-to не соответствует формату.
var ErrInvalidAppliesTo = errors.New("некорректная строка applies-to")

// ErrUnknownEdition — редакция продукта не входит в список известных.
var ErrUnknownEdition = errors.New("неизвестная редакция продукта")

// Атрибуты клаузы applies-to.
const (
	attrProductVersion = "productVersion"
	attrProductEdition = "productEdition"
)

// KnownEditions — редакции Liberty, допустимые при включённой проверке редакций.
var KnownEditions = map[string]bool{
	"BASE":          true,
	"BASE_ILAN":     true,
	"CORE":          true,
	"DEVELOPERS":    true,
	"EARLY_ACCESS":  true,
	"EXPRESS":       true,
	"LIBERTY_CORE":  true,
	"ND":            true,
	"ZOS":           true,
	"OPEN":          true,
	"OPEN_WEB":      true,
	"OPEN_JAKARTA":  true,
	"BLUEMIX":       true,
	"DEVELOPERS_IM": true,
}

// FilterInfo — одно ограничение applies-to: продукт, редакция и диапазон версий.
// Значения сравнимы через ==, что используется при сравнении множеств фильтров.
type FilterInfo struct {
	ProductID     string
	Edition       string
	MinVersion    Version
	MaxVersion    Version
	HasMaxVersion bool
}

// Range возвращает диапазон версий фильтра.
func (f FilterInfo) Range() Range {
	return Range{Min: f.MinVersion, Max: f.MaxVersion, HasMax: f.HasMaxVersion}
}

// String возвращает компактное представление фильтра для логов.
func (f FilterInfo) String() string {
	var sb strings.Builder
	sb.WriteString(f.ProductID)
	if f.Edition != "" {
		sb.WriteString("[" + f.Edition + "]")
	}
	if r := f.Range().String(); r != "" {
		sb.WriteString("@" + r)
	}
	return sb.String()
}

// ParseAppliesTo разбирает строку applies-to в набор фильтров.
// Для каждой клаузы создаётся по фильтру на каждую уникальную редакцию,
// либо один фильтр без ограничения по редакции.
// Пустая строка даёт пустой набор.
func ParseAppliesTo(appliesTo string) ([]FilterInfo, error) {
	if strings.TrimSpace(appliesTo) == "" {
		return nil, nil
	}

	var result []FilterInfo
	for _, clause := range splitOutsideQuotes(appliesTo, ',') {
		if strings.TrimSpace(clause) == "" {
			continue
		}
		infos, err := parseClause(clause)
		if err != nil {
			return nil, err
		}
		result = append(result, infos...)
	}
	return result, nil
}

// parseClause разбирает одну клаузу productId; attr=value; ...
func parseClause(clause string) ([]FilterInfo, error) {
	parts := splitOutsideQuotes(clause, ';')
	productID := strings.TrimSpace(parts[0])
	if productID == "" || strings.Contains(productID, "=") {
		return nil, fmt.Errorf("%w: отсутствует идентификатор продукта в %q", ErrInvalidAppliesTo, clause)
	}

	versionRange := AllVersions
	var editions []string

	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: атрибут без значения %q", ErrInvalidAppliesTo, part)
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		switch key {
		case attrProductVersion:
			r, err := ParseVersionRange(value)
			if err != nil {
				return nil, err
			}
			versionRange = r
		case attrProductEdition:
			editions = splitEditions(value)
		default:
			// productInstallType и прочие атрибуты на сопоставление не влияют
		}
	}

	if len(editions) == 0 {
		return []FilterInfo{newFilterInfo(productID, "", versionRange)}, nil
	}

	infos := make([]FilterInfo, 0, len(editions))
	for _, edition := range editions {
		infos = append(infos, newFilterInfo(productID, edition, versionRange))
	}
	return infos, nil
}

func newFilterInfo(productID, edition string, r Range) FilterInfo {
	return FilterInfo{
		ProductID:     productID,
		Edition:       edition,
		MinVersion:    r.Min,
		MaxVersion:    r.Max,
		HasMaxVersion: r.HasMax,
	}
}

// splitEditions разбивает список редакций и убирает дубликаты с сохранением порядка.
func splitEditions(value string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		result = append(result, token)
	}
	return result
}

// unquote убирает парные двойные кавычки вокруг значения.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// splitOutsideQuotes разбивает строку по разделителю, игнорируя разделители внутри кавычек.
func splitOutsideQuotes(s string, sep rune) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == sep && !inQuotes:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(parts, current.String())
}

// ValidateEditions проверяет, что все редакции в фильтрах известны.
func ValidateEditions(infos []FilterInfo) error {
	for _, info := range infos {
		if info.Edition != "" && !KnownEditions[info.Edition] {
			return fmt.Errorf("%w: %q (продукт %s)", ErrUnknownEdition, info.Edition, info.ProductID)
		}
	}
	return nil
}

// HasBeta проверяет, относится ли хотя бы один фильтр к бета-версии продукта.
func HasBeta(infos []FilterInfo) bool {
	for _, info := range infos {
		if info.MinVersion.IsBeta() {
			return true
		}
	}
	return false
}

// IsBetaAppliesTo проверяет строку applies-to на принадлежность к бета-релизу.
// Некорректная строка бета-версией не считается.
func IsBetaAppliesTo(appliesTo string) bool {
	infos, err := ParseAppliesTo(appliesTo)
	if err != nil {
		return false
	}
	return HasBeta(infos)
}

// CompareAppliesTo сравнивает два набора фильтров по версиям продукта.
// Сначала сравнивается наибольшая нижняя граница, затем наибольшая верхняя.
// Пустой набор эквивалентен "все версии".
func CompareAppliesTo(a, b []FilterInfo) int {
	if c := highestMin(a).Compare(highestMin(b)); c != 0 {
		return c
	}
	return highestMax(a).Compare(highestMax(b))
}

func highestMin(infos []FilterInfo) Version {
	result := MinVersion
	for _, info := range infos {
		if info.MinVersion.Compare(result) > 0 {
			result = info.MinVersion
		}
	}
	return result
}

func highestMax(infos []FilterInfo) Version {
	if len(infos) == 0 {
		return MaxVersion
	}
	result := MinVersion
	for _, info := range infos {
		if info.MaxVersion.Compare(result) > 0 {
			result = info.MaxVersion
		}
	}
	return result
}
