package services

import (
	"context"
	"strings"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/sync/conflict"
	"github.com/colabottles/basketbuddy/internal/uuid"
)

// CreateCategory appends a category to a list. An empty color uses the
// default.
func (s *ListService) CreateCategory(ctx context.Context, listID, name, color string) (*models.Category, Receipt, error) {
	name, err := requireText("category name", name)
	if err != nil {
		return nil, Receipt{}, err
	}
	if color = strings.TrimSpace(color); color == "" {
		color = models.DefaultCategoryColor
	}

	unlock := s.lockList(listID)
	defer unlock()

	highest, ok, err := s.repo.MaxCategoryOrder(ctx, listID)
	if err != nil {
		return nil, Receipt{}, err
	}
	order := 0
	if ok {
		order = highest + 1
	}

	c := models.Category{
		ID:        uuid.New(),
		ListID:    listID,
		Name:      name,
		Color:     color,
		ItemOrder: order,
		CreatedAt: s.stamp(),
	}
	if err := s.repo.PutCategory(ctx, &c); err != nil {
		return nil, Receipt{}, err
	}
	if err := s.refreshCategories(ctx, listID, c.ID); err != nil {
		return nil, Receipt{}, err
	}

	rc, err := s.deliver(ctx, models.OpCreate, c)
	return &c, rc, err
}

// UpdateCategory renames and/or recolors a category. A rename re-points
// the list's items filed under the old name. The first receipt is the
// category's; the rest are the re-pointed items'.
func (s *ListService) UpdateCategory(ctx context.Context, categoryID string, name, color *string) (*models.Category, []Receipt, error) {
	if name == nil && color == nil {
		return nil, nil, apperrors.New(apperrors.ErrInvalid, "nothing to update")
	}

	cur, err := s.repo.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.lockList(cur.ListID)
	defer unlock()

	if cur, err = s.repo.GetCategory(ctx, categoryID); err != nil {
		return nil, nil, err
	}
	c := *cur
	oldName := c.Name
	var fields []string
	if name != nil {
		n, err := requireText("category name", *name)
		if err != nil {
			return nil, nil, err
		}
		c.Name = n
		fields = append(fields, models.FieldName)
	}
	if color != nil {
		c.Color = strings.TrimSpace(*color)
		if c.Color == "" {
			c.Color = models.DefaultCategoryColor
		}
		fields = append(fields, models.FieldColor)
	}

	if err := s.repo.PutCategory(ctx, &c); err != nil {
		return nil, nil, err
	}

	var moved []models.Item
	if c.Name != oldName {
		items, err := s.repo.ItemsByCategory(ctx, c.ListID, oldName)
		if err != nil {
			return nil, nil, err
		}
		at := s.stamp()
		for _, it := range items {
			it.Category = models.StringPtr(c.Name)
			it.UpdatedAt = at
			if err := s.repo.PutItem(ctx, &it); err != nil {
				return nil, nil, err
			}
			moved = append(moved, it)
		}
	}

	if err := s.refreshCategories(ctx, c.ListID, c.ID); err != nil {
		return nil, nil, err
	}
	if len(moved) > 0 {
		if err := s.refreshItems(ctx, c.ListID, ""); err != nil {
			return nil, nil, err
		}
	}

	receipts := make([]Receipt, 0, 1+len(moved))
	rc, err := s.deliver(ctx, models.OpUpdate, c, fields...)
	if err != nil {
		return &c, receipts, err
	}
	receipts = append(receipts, rc)
	for _, it := range moved {
		rc, err := s.deliver(ctx, models.OpUpdate, it, models.FieldCategory, models.FieldUpdatedAt)
		if err != nil {
			return &c, receipts, err
		}
		receipts = append(receipts, rc)
	}
	return &c, receipts, nil
}

// DeleteCategory deletes a category. Items keep their category name.
func (s *ListService) DeleteCategory(ctx context.Context, categoryID string) (Receipt, error) {
	cur, err := s.repo.GetCategory(ctx, categoryID)
	if err != nil {
		return Receipt{}, err
	}
	unlock := s.lockList(cur.ListID)
	defer unlock()

	if err := s.repo.DeleteCategory(ctx, categoryID); err != nil {
		return Receipt{}, err
	}
	if err := s.refreshCategories(ctx, cur.ListID, categoryID); err != nil {
		return Receipt{}, err
	}
	return s.deliver(ctx, models.OpDelete, *cur)
}

// FetchCategories returns a list's categories in display order.
func (s *ListService) FetchCategories(ctx context.Context, listID string) ([]models.Category, error) {
	if s.monitor.IsOnline() {
		rows, err := s.remote.FetchCategories(ctx, listID)
		if err != nil {
			logging.WarnErr("remote category fetch failed, using local store", err, map[string]interface{}{
				"component": "list_service",
				"list_id":   listID,
			})
		} else if err := s.mergeCategories(ctx, listID, rows); err != nil {
			return nil, err
		}
	}

	cats, err := s.repo.CategoriesByList(ctx, listID)
	if err != nil {
		return nil, err
	}
	s.state.setCategories(listID, cats)
	s.state.notify(Change{Table: models.TableCategories, ListID: listID})
	return cats, nil
}

func (s *ListService) mergeCategories(ctx context.Context, listID string, rows []models.Category) error {
	unlock := s.lockList(listID)
	defer unlock()
	// Categories carry no updated_at, so equal versions go to the remote.
	for _, rc := range rows {
		if _, err := s.mergeCategoryLocked(ctx, rc, s.changeLWW); err != nil {
			return err
		}
	}
	return nil
}

func (s *ListService) mergeCategoryLocked(ctx context.Context, rc models.Category, r *conflict.Resolver) (bool, error) {
	if queued, err := s.hasLocalIntent(ctx, rc); err != nil || queued {
		return false, err
	}
	var local models.Payload
	cur, err := s.repo.GetCategory(ctx, rc.ID)
	switch {
	case err == nil:
		local = *cur
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return false, err
	}

	_, side, err := r.Merge(local, rc)
	if err != nil || side != conflict.SideRemote {
		return false, err
	}
	if err := s.repo.PutCategory(ctx, &rc); err != nil {
		return false, err
	}
	return true, nil
}

// FetchShares returns who a list is shared with. Shares are read-only here;
// the remote is their source of truth.
func (s *ListService) FetchShares(ctx context.Context, listID string) ([]models.ListShare, error) {
	if s.monitor.IsOnline() {
		rows, err := s.remote.FetchShares(ctx, listID)
		if err != nil {
			logging.WarnErr("remote share fetch failed, using local store", err, map[string]interface{}{
				"component": "list_service",
				"list_id":   listID,
			})
		} else {
			unlock := s.lockList(listID)
			for i := range rows {
				if err := s.repo.PutShare(ctx, &rows[i]); err != nil {
					unlock()
					return nil, err
				}
			}
			unlock()
		}
	}

	if err := s.refreshShares(ctx, listID); err != nil {
		return nil, err
	}
	return s.repo.SharesByList(ctx, listID)
}
