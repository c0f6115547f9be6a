package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/resource"
)

// AssetOnlyReplacement обновляет запись единственного совпадения на месте.
// Вложения не изменяются.
type AssetOnlyReplacement struct {
	base
	explicit *resource.Resource
}

// NewAssetOnlyReplacement создаёт стратегию замены записи.
// explicit — заменяемый ресурс, заданный явно (nil — первое совпадение).
func NewAssetOnlyReplacement(conn client.Connection, opts Options, explicit *resource.Resource) *AssetOnlyReplacement {
	return &AssetOnlyReplacement{base: newBase(NameReplace, conn, opts), explicit: explicit}
}

// UploadAsset переносит данные candidate в существующий ресурс.
// Опубликованный ресурс снимается с публикации на время обновления,
// затем возвращается в исходное состояние.
func (s *AssetOnlyReplacement) UploadAsset(ctx context.Context, candidate *resource.Resource, matches []*resource.Resource) (*resource.Resource, error) {
	existing := s.explicit
	if existing == nil {
		if len(matches) == 0 {
			return nil, resource.NewUpdateError(
				fmt.Sprintf("нет существующего ресурса для замены записью %q", candidate.Asset.Name), nil)
		}
		existing = matches[0]
	}
	if extra := otherIDs(matches, existing.ID()); len(extra) > 0 {
		s.logger.Warn("Найдено несколько совпадений, заменяется только одно",
			slog.String("resource_id", existing.ID()),
			slog.Any("ignored_ids", extra),
		)
	}

	switch candidate.UpdateRequired(existing) {
	case resource.UpdateNothing:
		s.logger.Info("Запись ресурса не изменилась", slog.String("resource_id", existing.ID()))
		return existing, nil
	case resource.UpdateAdd:
		return nil, resource.NewUpdateError("нет существующего ресурса для замены", nil)
	}

	original := existing.State()
	if original == lifecycle.StatePublished {
		if err := existing.PerformAction(ctx, lifecycle.ActionUnpublish); err != nil {
			return nil, err
		}
	}

	existing.OverwriteAssetData(candidate.Asset)
	if err := existing.UpdateAsset(ctx); err != nil {
		return nil, err
	}

	if existing.State() != original {
		if _, err := existing.MoveToState(ctx, original); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Запись ресурса обновлена",
		slog.String("resource_id", existing.ID()),
		slog.String("state", string(existing.State())),
	)
	return existing, nil
}

// otherIDs возвращает ID совпадений, кроме keepID.
func otherIDs(matches []*resource.Resource, keepID string) []string {
	var ids []string
	for _, m := range matches {
		if m.ID() != keepID {
			ids = append(ids, m.ID())
		}
	}
	return ids
}
