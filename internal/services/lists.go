package services

import (
	"context"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/sync/conflict"
	"github.com/colabottles/basketbuddy/internal/uuid"
)

// CreateList creates a list owned by the signed-in user.
func (s *ListService) CreateList(ctx context.Context, name string) (*models.List, Receipt, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, Receipt{}, err
	}
	name, err = requireText("list name", name)
	if err != nil {
		return nil, Receipt{}, err
	}

	at := s.stamp()
	l := models.List{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   user,
		CreatedAt: at,
		UpdatedAt: at,
	}

	unlock := s.lockList(l.ID)
	defer unlock()

	if err := s.repo.PutList(ctx, &l); err != nil {
		return nil, Receipt{}, err
	}
	s.state.putList(l)
	s.state.setItems(l.ID, nil)
	s.state.setCategories(l.ID, nil)
	s.state.notify(Change{Table: models.TableLists, ListID: l.ID, ID: l.ID})

	rc, err := s.deliver(ctx, models.OpCreate, l)
	return &l, rc, err
}

// RenameList changes a list's name.
func (s *ListService) RenameList(ctx context.Context, listID, name string) (*models.List, Receipt, error) {
	name, err := requireText("list name", name)
	if err != nil {
		return nil, Receipt{}, err
	}

	unlock := s.lockList(listID)
	defer unlock()

	cur, err := s.repo.GetList(ctx, listID)
	if err != nil {
		return nil, Receipt{}, err
	}
	l := *cur
	l.Name = name
	l.UpdatedAt = s.stamp()

	if err := s.repo.PutList(ctx, &l); err != nil {
		return nil, Receipt{}, err
	}
	s.state.putList(l)
	s.state.notify(Change{Table: models.TableLists, ListID: l.ID, ID: l.ID})

	rc, err := s.deliver(ctx, models.OpUpdate, l, models.FieldName, models.FieldUpdatedAt)
	return &l, rc, err
}

// DeleteList deletes a list and, locally, everything that belongs to it.
// The remote cascades on its own.
func (s *ListService) DeleteList(ctx context.Context, listID string) (Receipt, error) {
	unlock := s.lockList(listID)
	defer unlock()

	l := models.List{ID: listID}
	cur, err := s.repo.GetList(ctx, listID)
	switch {
	case err == nil:
		l = *cur
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return Receipt{}, err
	}

	if err := s.repo.DeleteListCascade(ctx, listID); err != nil {
		return Receipt{}, err
	}
	s.state.dropList(listID)
	s.state.notify(Change{Table: models.TableLists, ListID: listID, ID: listID})

	return s.deliver(ctx, models.OpDelete, l)
}

// FetchLists returns every list, most recently updated first. Online it
// refreshes the local store from the remote; offline, or when the remote
// read fails, it serves the local store.
func (s *ListService) FetchLists(ctx context.Context) ([]models.List, error) {
	if s.monitor.IsOnline() {
		remoteLists, err := s.remote.FetchLists(ctx)
		if err != nil {
			logging.WarnErr("remote list fetch failed, using local store", err, map[string]interface{}{
				"component": "list_service",
			})
		} else {
			for _, rl := range remoteLists {
				if err := s.mergeList(ctx, rl); err != nil {
					return nil, err
				}
			}
		}
	}

	lists, err := s.repo.AllLists(ctx)
	if err != nil {
		return nil, err
	}
	s.state.replaceLists(lists)
	s.state.notify(Change{Table: models.TableLists})
	return lists, nil
}

// mergeList stores rl unless the local copy is newer or still queued.
func (s *ListService) mergeList(ctx context.Context, rl models.List) error {
	unlock := s.lockList(rl.ID)
	defer unlock()
	_, err := s.mergeListLocked(ctx, rl, s.fetchLWW)
	return err
}

func (s *ListService) mergeListLocked(ctx context.Context, rl models.List, r *conflict.Resolver) (bool, error) {
	if queued, err := s.hasLocalIntent(ctx, rl); err != nil || queued {
		return false, err
	}
	var local models.Payload
	cur, err := s.repo.GetList(ctx, rl.ID)
	switch {
	case err == nil:
		local = *cur
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return false, err
	}

	if _, side, err := r.Merge(local, rl); err != nil || side != conflict.SideRemote {
		return false, err
	}
	if err := s.repo.PutList(ctx, &rl); err != nil {
		return false, err
	}
	s.state.putList(rl)
	return true, nil
}
