package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/lars-uploader/internal/client"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/matching"
	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
	"github.com/bigkaa/goartstore/lars-uploader/internal/resource"
)

// errStaleOccupant — владелец vanity URL из кэша уже удалён из backend.
var errStaleOccupant = errors.New("владелец vanity URL не найден в репозитории")

// AddThenHideOld — AddThenDelete, после которого на vanity URL нового
// видимого опубликованного ресурса не остаётся других видимых ресурсов.
type AddThenHideOld struct {
	AddThenDelete
	cache *VisibilityCache
	opts  Options
}

// NewAddThenHideOld создаёт стратегию AddThenHideOld с общим кэшем видимости.
func NewAddThenHideOld(conn client.Connection, opts Options, extra *resource.Resource, cache *VisibilityCache) *AddThenHideOld {
	return &AddThenHideOld{
		AddThenDelete: *newAddThenDelete(NameAddThenHideOld, conn, opts, extra),
		cache:         cache,
		opts:          opts,
	}
}

// UploadAsset выполняет AddThenDelete и скрывает прежнего владельца vanity URL.
// Возвращает итоговый ресурс: candidate или его скрытую копию, если
// прежний владелец оказался новее.
func (s *AddThenHideOld) UploadAsset(ctx context.Context, candidate *resource.Resource, matches []*resource.Resource) (*resource.Resource, error) {
	// Кэш заполняется до загрузки, чтобы сканирование не увидело кандидата.
	if err := s.cache.EnsurePopulated(ctx, s.conn.ReadClient()); err != nil {
		return nil, err
	}
	if s.becomesVisible(candidate, matches) {
		if err := s.checkConflict(candidate, matches); err != nil {
			return nil, err
		}
	}

	deleted, err := s.uploadThenDelete(ctx, candidate, matches)
	s.cache.Forget(deleted...)
	if err != nil {
		return nil, err
	}

	if !visibleAndPublished(candidate.Asset) {
		return candidate, nil
	}
	return s.hideOld(ctx, candidate, deleted)
}

// becomesVisible сообщает, станет ли candidate видимым опубликованным ресурсом.
func (s *AddThenHideOld) becomesVisible(candidate *resource.Resource, matches []*resource.Resource) bool {
	return candidate.Asset.IsVisible() && candidate.Asset.Type.WebDisplayable() &&
		s.targetState(matches) == lifecycle.StatePublished
}

// checkConflict не допускает загрузку на vanity URL, где видимы несколько
// ресурсов, которые не будут удалены этой загрузкой.
func (s *AddThenHideOld) checkConflict(candidate *resource.Resource, matches []*resource.Resource) error {
	vanityURL := candidate.VanityURL()
	conflicting := s.cache.Conflict(vanityURL)
	if len(conflicting) == 0 {
		return nil
	}

	removed := make(map[string]bool, len(matches)+1)
	for _, m := range matches {
		removed[m.ID()] = true
	}
	if s.extra != nil {
		removed[s.extra.ID()] = true
	}
	var remaining []string
	for _, id := range conflicting {
		if !removed[id] {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) < 2 {
		return nil
	}
	return resource.NewConsistencyError(
		fmt.Sprintf("несколько видимых ресурсов на vanity URL %s", vanityURL), remaining...)
}

// hideOld делает candidate единственным видимым ресурсом на его vanity URL.
// Если прежний владелец удалён параллельно, кэш перестраивается без
// кандидата и попытка повторяется один раз.
func (s *AddThenHideOld) hideOld(ctx context.Context, candidate *resource.Resource, deleted []string) (*resource.Resource, error) {
	vanityURL := candidate.VanityURL()
	wasDeleted := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		wasDeleted[id] = true
	}

	for attempt := 0; ; attempt++ {
		occupant, err := s.cache.Resolve(ctx, s.conn.ReadClient(), vanityURL, candidate.ID())
		if err != nil {
			return nil, err
		}
		if occupant == nil || occupant.ID == candidate.ID() || wasDeleted[occupant.ID] {
			return candidate, s.cache.Put(vanityURL, occupantID(occupant), candidate.Asset)
		}

		loser := loserOf(candidate.Asset, occupant)
		hidden, err := s.hide(ctx, loser.ID)
		if errors.Is(err, errStaleOccupant) {
			if attempt > 0 {
				return nil, resource.NewConsistencyError(
					fmt.Sprintf("кэш видимости расходится с репозиторием на vanity URL %s", vanityURL),
					candidate.ID(), occupant.ID)
			}
			s.logger.Warn("Владелец vanity URL удалён параллельно, кэш видимости перестраивается",
				slog.String("vanity_url", vanityURL),
				slog.String("occupant_id", occupant.ID),
			)
			if err := s.cache.Rebuild(ctx, s.conn.ReadClient(), candidate.ID()); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		if loser.ID == occupant.ID {
			if err := s.cache.Put(vanityURL, occupant.ID, candidate.Asset); err != nil {
				return nil, err
			}
			return candidate, nil
		}
		// Скрыт сам кандидат: владелец vanity URL не меняется.
		return hidden, nil
	}
}

// hide заменяет ресурс id его скрытой копией в том же состоянии.
// Опубликованную запись нельзя изменить на месте, поэтому копия
// загружается заново, а снимок исходного ресурса удаляется.
// Если ресурс удалён параллельно, недозагруженная копия удаляется
// и возвращается errStaleOccupant.
func (s *AddThenHideOld) hide(ctx context.Context, id string) (*resource.Resource, error) {
	asset, err := client.Fresh(s.conn.ReadClient()).GetAsset(ctx, id)
	if err != nil {
		if client.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %w", errStaleOccupant, err)
		}
		return nil, err
	}
	snapshot := resource.New(s.conn, asset)

	hidden := snapshot.CopyAsNew()
	hidden.Asset.WebDisplayPolicy = model.DisplayHidden

	replacer := NewAddThenDelete(s.conn, Options{
		TargetState:     snapshot.State(),
		EditionChecking: s.opts.EditionChecking,
		Logger:          s.opts.Logger,
	}, nil)
	if _, err := replacer.UploadAsset(ctx, hidden, []*resource.Resource{snapshot}); err != nil {
		if !client.IsNotFound(err) {
			return nil, err
		}
		if hidden.ID() != "" {
			if delErr := hidden.Delete(ctx); delErr != nil && !client.IsNotFound(delErr) {
				s.logger.Error("Не удалось удалить скрытую копию исчезнувшего ресурса",
					slog.String("resource_id", id),
					slog.String("hidden_copy_id", hidden.ID()),
					slog.String("error", delErr.Error()),
				)
			}
		}
		return nil, fmt.Errorf("%w: %w", errStaleOccupant, err)
	}

	hiddenResourcesTotal.Inc()
	s.logger.Info("Ресурс скрыт",
		slog.String("resource_id", id),
		slog.String("hidden_copy_id", hidden.ID()),
		slog.String("vanity_url", snapshot.VanityURL()),
	)
	return hidden, nil
}

// loserOf выбирает ресурс, который нужно скрыть.
// При смешанной паре бета/не бета остаётся видимым не-бета ресурс,
// иначе остаётся более новый; при равенстве остаётся candidate.
func loserOf(candidate, occupant *model.Asset) *model.Asset {
	newer := matching.GetNewerResource(candidate, occupant)
	if newer == occupant {
		return candidate
	}
	return occupant
}

func occupantID(a *model.Asset) string {
	if a == nil {
		return ""
	}
	return a.ID
}
