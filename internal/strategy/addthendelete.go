package strategy

import (
	"context"
	"log/slog"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/resource"
)

// AddThenDelete создаёт новый ресурс, переводит его в целевое состояние
// и только затем удаляет совпадения.
type AddThenDelete struct {
	base
	target lifecycle.State
	extra  *resource.Resource
}

// NewAddThenDelete создаёт стратегию AddThenDelete.
// Если opts.TargetState пустое, целевое состояние берётся у первого
// совпадения (draft, если совпадений нет). extra — дополнительный
// ресурс для удаления (может быть nil).
func NewAddThenDelete(conn client.Connection, opts Options, extra *resource.Resource) *AddThenDelete {
	return newAddThenDelete(NameAddThenDelete, conn, opts, extra)
}

func newAddThenDelete(name string, conn client.Connection, opts Options, extra *resource.Resource) *AddThenDelete {
	return &AddThenDelete{base: newBase(name, conn, opts), target: opts.TargetState, extra: extra}
}

// UploadAsset создаёт candidate, переводит его в целевое состояние и удаляет совпадения.
func (s *AddThenDelete) UploadAsset(ctx context.Context, candidate *resource.Resource, matches []*resource.Resource) (*resource.Resource, error) {
	if _, err := s.uploadThenDelete(ctx, candidate, matches); err != nil {
		return nil, err
	}
	return candidate, nil
}

// uploadThenDelete возвращает ID удалённых ресурсов.
func (s *AddThenDelete) uploadThenDelete(ctx context.Context, candidate *resource.Resource, matches []*resource.Resource) ([]string, error) {
	if err := s.uploadAndMove(ctx, candidate, s.targetState(matches)); err != nil {
		return nil, err
	}

	toDelete := matches
	if s.extra != nil {
		toDelete = append(append([]*resource.Resource(nil), matches...), s.extra)
	}

	seen := make(map[string]bool, len(toDelete))
	var deleted []string
	for _, r := range toDelete {
		id := r.ID()
		if id == "" || id == candidate.ID() || seen[id] {
			continue
		}
		seen[id] = true
		if err := r.Delete(ctx); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
		deletedResourcesTotal.WithLabelValues(s.name).Inc()
		s.logger.Info("Заменённый ресурс удалён",
			slog.String("resource_id", id),
			slog.String("replaced_by", candidate.ID()),
		)
	}
	return deleted, nil
}

func (s *AddThenDelete) targetState(matches []*resource.Resource) lifecycle.State {
	switch {
	case s.target != "":
		return s.target
	case len(matches) > 0:
		return matches[0].State()
	default:
		return lifecycle.StateDraft
	}
}
