package services

import (
	"context"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/sync/realtime"
)

// ApplyChange merges a remote-origin change into the local store under the
// list's lock. Inserts and updates are put-by-id and kept only when not
// older than the local row; deletes remove the row. It reports whether the
// local store changed.
func (s *ListService) ApplyChange(ctx context.Context, ev models.ChangeEvent) (bool, error) {
	if ev.Table == models.TableListShares {
		return false, nil
	}
	row, err := ev.Record()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrInvalid, "undecodable change event", err)
	}
	listID := row.ParentListID()

	unlock := s.lockList(listID)
	defer unlock()

	if ev.Type == models.ChangeDelete {
		return true, s.applyDelete(ctx, row)
	}

	var applied bool
	switch r := row.(type) {
	case models.List:
		if applied, err = s.mergeListLocked(ctx, r, s.changeLWW); err != nil || !applied {
			return false, err
		}
		s.state.notify(Change{Table: models.TableLists, ListID: r.ID, ID: r.ID})
		return true, nil
	case models.Item:
		if applied, err = s.mergeItemLocked(ctx, r, s.changeLWW); err != nil || !applied {
			return false, err
		}
		return true, s.refreshItems(ctx, listID, r.ID)
	case models.Category:
		if applied, err = s.mergeCategoryLocked(ctx, r, s.changeLWW); err != nil || !applied {
			return false, err
		}
		return true, s.refreshCategories(ctx, listID, r.ID)
	}
	return false, nil
}

func (s *ListService) applyDelete(ctx context.Context, row models.Payload) error {
	switch r := row.(type) {
	case models.List:
		if err := s.repo.DeleteListCascade(ctx, r.ID); err != nil {
			return err
		}
		s.state.dropList(r.ID)
		s.state.notify(Change{Table: models.TableLists, ListID: r.ID, ID: r.ID})
	case models.Item:
		if err := s.repo.DeleteItem(ctx, r.ID); err != nil {
			return err
		}
		return s.refreshItems(ctx, r.ListID, r.ID)
	case models.Category:
		if err := s.repo.DeleteCategory(ctx, r.ID); err != nil {
			return err
		}
		return s.refreshCategories(ctx, r.ListID, r.ID)
	}
	return nil
}

// Watch subscribes listID on m and merges every event through ApplyChange.
// notify, when set, receives each event with the merge outcome.
func (s *ListService) Watch(ctx context.Context, m *realtime.Manager, listID string, notify func(models.ChangeEvent, bool, error)) (*realtime.Subscription, error) {
	apply := func(ev models.ChangeEvent) {
		applied, err := s.ApplyChange(ctx, ev)
		if err != nil {
			logging.WarnErr("failed to apply remote change", err, map[string]interface{}{
				"component": "list_service",
				"list_id":   ev.ListID,
				"table":     string(ev.Table),
				"type":      string(ev.Type),
			})
		}
		if notify != nil {
			notify(ev, applied, err)
		}
	}
	return m.Subscribe(ctx, listID, realtime.Handlers{
		OnInsert: apply,
		OnUpdate: apply,
		OnDelete: apply,
	})
}
