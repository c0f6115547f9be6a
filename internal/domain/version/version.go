// Пакет version — модель версий продуктов Liberty.
//
// Версия состоит из четырёх числовых сегментов (major.minor.micro.qualifier).
// Помимо конкретных версий поддерживаются два граничных значения:
//   - MinVersion — меньше любой конкретной версии (applies-to без productVersion)
//   - MaxVersion — больше любой конкретной версии (диапазон "V+")
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// segmentCount — количество сегментов версии Liberty.
const segmentCount = 4

// ErrBadVersion — некорректная строка версии.
var ErrBadVersion = errors.New("некорректная версия")

// BadVersionError — ошибка разбора версии с полным контекстом диапазона.
// MinVersion и MaxVersion — исходные границы диапазона (могут быть пустыми),
// BadVersion — значение, которое не удалось разобрать.
type BadVersionError struct {
	MinVersion string
	MaxVersion string
	BadVersion string
	Reason     string
}

func (e *BadVersionError) Error() string {
	return fmt.Sprintf("некорректная версия %q (min=%q, max=%q): %s",
		e.BadVersion, e.MinVersion, e.MaxVersion, e.Reason)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrBadVersion).
func (e *BadVersionError) Unwrap() error {
	return ErrBadVersion
}

// bound — тип значения версии: граница снизу, конкретная версия или граница сверху.
type bound int8

const (
	boundMin      bound = -1
	boundConcrete bound = 0
	boundMax      bound = 1
)

// Version — четырёхсегментная версия Liberty или одно из граничных значений.
// Нулевое значение Version эквивалентно конкретной версии 0.0.0.0.
type Version struct {
	segments [segmentCount]int
	bound    bound
}

var (
	// MinVersion — граница снизу: меньше любой конкретной версии.
	MinVersion = Version{bound: boundMin}
	// MaxVersion — граница сверху: больше любой конкретной версии.
	MaxVersion = Version{bound: boundMax}
)

// New создаёт конкретную версию из четырёх сегментов.
func New(major, minor, micro, qualifier int) Version {
	return Version{segments: [segmentCount]int{major, minor, micro, qualifier}}
}

// ParseVersion разбирает строку вида X[.Y[.Z[.Q]]].
// Недостающие сегменты дополняются нулями, но любой присутствующий
// сегмент обязан быть неотрицательным десятичным числом.
func ParseVersion(s string) (Version, error) {
	return parseWithContext(s, "", "")
}

// parseWithContext разбирает версию, сохраняя границы диапазона для диагностики.
func parseWithContext(s, minRaw, maxRaw string) (Version, error) {
	fail := func(reason string) (Version, error) {
		return Version{}, &BadVersionError{
			MinVersion: minRaw,
			MaxVersion: maxRaw,
			BadVersion: s,
			Reason:     reason,
		}
	}

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return fail("пустая строка")
	}

	parts := strings.Split(trimmed, ".")
	if len(parts) > segmentCount {
		return fail(fmt.Sprintf("ожидалось не более %d сегментов, получено %d", segmentCount, len(parts)))
	}

	var v Version
	for i, part := range parts {
		if part == "" || !isDigits(part) {
			return fail(fmt.Sprintf("сегмент %d (%q) не является числом", i+1, part))
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return fail(fmt.Sprintf("сегмент %d (%q) вне допустимого диапазона", i+1, part))
		}
		v.segments[i] = n
	}
	return v, nil
}

// isDigits проверяет, что строка состоит только из ASCII-цифр.
func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsMin возвращает true для граничного значения MinVersion.
func (v Version) IsMin() bool { return v.bound == boundMin }

// IsMax возвращает true для граничного значения MaxVersion.
func (v Version) IsMax() bool { return v.bound == boundMax }

// IsConcrete возвращает true для обычной четырёхсегментной версии.
func (v Version) IsConcrete() bool { return v.bound == boundConcrete }

// Segments возвращает сегменты версии. Для граничных значений — нули.
func (v Version) Segments() [segmentCount]int {
	return v.segments
}

// IsBeta проверяет, что версия соответствует календарной схеме бета-релизов
// (YYYY.M.m.q, например 2016.1.0.0).
func (v Version) IsBeta() bool {
	return v.IsConcrete() && v.segments[0] >= 2000 && v.segments[0] <= 9999
}

// Compare сравнивает две версии: -1 если v < other, 0 если равны, 1 если v > other.
// Граничные значения сравниваются раньше сегментов.
func (v Version) Compare(other Version) int {
	if v.bound != other.bound {
		if v.bound < other.bound {
			return -1
		}
		return 1
	}
	if v.bound != boundConcrete {
		return 0
	}
	for i := range segmentCount {
		switch {
		case v.segments[i] < other.segments[i]:
			return -1
		case v.segments[i] > other.segments[i]:
			return 1
		}
	}
	return 0
}

// String возвращает строковое представление версии.
func (v Version) String() string {
	switch v.bound {
	case boundMin:
		return "MIN"
	case boundMax:
		return "MAX"
	}
	parts := make([]string, segmentCount)
	for i, s := range v.segments {
		parts[i] = strconv.Itoa(s)
	}
	return strings.Join(parts, ".")
}

// Range — диапазон версий продукта, к которым применим ресурс.
type Range struct {
	Min    Version
	Max    Version
	HasMax bool
}

// AllVersions — диапазон без ограничений (productVersion не задан).
var AllVersions = Range{Min: MinVersion, Max: MaxVersion}

// ParseVersionRange разбирает значение productVersion:
//   - ""   → все версии
//   - "V"  → ровно V
//   - "V+" → V и выше
func ParseVersionRange(s string) (Range, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return AllVersions, nil
	}

	if strings.HasSuffix(trimmed, "+") {
		raw := strings.TrimSuffix(trimmed, "+")
		minV, err := parseWithContext(raw, raw, "")
		if err != nil {
			return Range{}, err
		}
		return Range{Min: minV, Max: MaxVersion}, nil
	}

	v, err := parseWithContext(trimmed, trimmed, trimmed)
	if err != nil {
		return Range{}, err
	}
	return Range{Min: v, Max: v, HasMax: true}, nil
}

// Contains проверяет, попадает ли версия в диапазон (границы включительно).
func (r Range) Contains(v Version) bool {
	return r.Min.Compare(v) <= 0 && v.Compare(r.Max) <= 0
}

// String возвращает диапазон в формате productVersion.
func (r Range) String() string {
	switch {
	case r.Min.IsMin() && r.Max.IsMax():
		return ""
	case !r.HasMax:
		return r.Min.String() + "+"
	default:
		return r.Min.String()
	}
}
