package resource

import (
	"strings"

	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
)

// VanityURL вычисляет человекочитаемый ключ ресурса: "<сегмент типа>-<slug>".
//
// slug:
//   - feature — symbolic name;
//   - есть основное вложение (CONTENT) — его имя, обрезанное по последнему '-'
//     (отбрасывается суффикс версии);
//   - иначе — имя ресурса.
//
// Символы вне [A-Za-z0-9._-] заменяются на '_'.
func VanityURL(asset *model.Asset) string {
	var slug string
	switch {
	case asset.Type == model.TypeFeature && asset.Feature != nil && asset.Feature.SymbolicName != "":
		slug = asset.Feature.SymbolicName
	case asset.MainAttachment() != nil:
		slug = asset.MainAttachment().Name
		if i := strings.LastIndex(slug, "-"); i > 0 {
			slug = slug[:i]
		}
	default:
		slug = asset.Name
	}
	return asset.Type.URLSegment() + "-" + normalizeSlug(slug)
}

// normalizeSlug заменяет пробельные и недопустимые символы на '_'.
func normalizeSlug(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
