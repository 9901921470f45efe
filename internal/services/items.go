package services

import (
	"context"
	"fmt"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/media"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/remote"
	"github.com/colabottles/basketbuddy/internal/sync/conflict"
	"github.com/colabottles/basketbuddy/internal/uuid"
)

// AddItem appends an item to a list.
func (s *ListService) AddItem(ctx context.Context, listID, text string, category *string) (*models.Item, Receipt, error) {
	text, err := requireText("item text", text)
	if err != nil {
		return nil, Receipt{}, err
	}

	unlock := s.lockList(listID)
	defer unlock()

	highest, ok, err := s.repo.MaxItemOrder(ctx, listID)
	if err != nil {
		return nil, Receipt{}, err
	}
	order := 0
	if ok {
		order = highest + 1
	}

	at := s.stamp()
	it := models.Item{
		ID:        uuid.New(),
		ListID:    listID,
		Text:      text,
		ItemOrder: order,
		Category:  category,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := s.repo.PutItem(ctx, &it); err != nil {
		return nil, Receipt{}, err
	}
	if err := s.refreshItems(ctx, listID, it.ID); err != nil {
		return nil, Receipt{}, err
	}

	rc, err := s.deliver(ctx, models.OpCreate, it)
	return &it, rc, err
}

// updateItem applies change to an item under its list's lock and sends the
// named columns.
func (s *ListService) updateItem(ctx context.Context, itemID string, change func(*models.Item) error, fields ...string) (*models.Item, Receipt, error) {
	cur, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, Receipt{}, err
	}
	unlock := s.lockList(cur.ListID)
	defer unlock()

	// Re-read under the lock; the row may have moved since.
	cur, err = s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, Receipt{}, err
	}
	it := *cur
	if err := change(&it); err != nil {
		return nil, Receipt{}, err
	}
	it.UpdatedAt = s.stamp()

	if err := s.repo.PutItem(ctx, &it); err != nil {
		return nil, Receipt{}, err
	}
	if err := s.refreshItems(ctx, it.ListID, it.ID); err != nil {
		return nil, Receipt{}, err
	}

	rc, err := s.deliver(ctx, models.OpUpdate, it, append(fields, models.FieldUpdatedAt)...)
	return &it, rc, err
}

// ToggleItem flips an item's checked flag.
func (s *ListService) ToggleItem(ctx context.Context, itemID string) (*models.Item, Receipt, error) {
	return s.updateItem(ctx, itemID, func(it *models.Item) error {
		it.Checked = !it.Checked
		return nil
	}, models.FieldChecked)
}

// UpdateItemText replaces an item's text.
func (s *ListService) UpdateItemText(ctx context.Context, itemID, text string) (*models.Item, Receipt, error) {
	text, err := requireText("item text", text)
	if err != nil {
		return nil, Receipt{}, err
	}
	return s.updateItem(ctx, itemID, func(it *models.Item) error {
		it.Text = text
		return nil
	}, models.FieldText)
}

// UpdateItemNotes sets or clears an item's notes.
func (s *ListService) UpdateItemNotes(ctx context.Context, itemID string, notes *string) (*models.Item, Receipt, error) {
	return s.updateItem(ctx, itemID, func(it *models.Item) error {
		it.Notes = notes
		return nil
	}, models.FieldNotes)
}

// UpdateItemCategory sets or clears the category an item is filed under.
func (s *ListService) UpdateItemCategory(ctx context.Context, itemID string, category *string) (*models.Item, Receipt, error) {
	return s.updateItem(ctx, itemID, func(it *models.Item) error {
		it.Category = category
		return nil
	}, models.FieldCategory)
}

// DeleteItem deletes an item and, best effort, its image.
func (s *ListService) DeleteItem(ctx context.Context, itemID string) (Receipt, error) {
	cur, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return Receipt{}, err
	}
	unlock := s.lockList(cur.ListID)
	defer unlock()

	if err := s.repo.DeleteItem(ctx, itemID); err != nil {
		return Receipt{}, err
	}
	if err := s.refreshItems(ctx, cur.ListID, itemID); err != nil {
		return Receipt{}, err
	}

	rc, err := s.deliver(ctx, models.OpDelete, *cur)
	if err != nil {
		return rc, err
	}
	s.removeBlob(ctx, models.Deref(cur.ImageURL))
	return rc, nil
}

// ReorderItems assigns item_order 0..N-1 following ids. ids must name every
// item of the list exactly once. Only items whose order changed are sent.
func (s *ListService) ReorderItems(ctx context.Context, listID string, ids []string) ([]Receipt, error) {
	unlock := s.lockList(listID)
	defer unlock()

	items, err := s.repo.ItemsByList(ctx, listID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	if len(ids) != len(items) {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "reorder lists %d items, list has %d", len(ids), len(items))
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; !ok || seen[id] {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "reorder: %q is unknown or repeated", id)
		}
		seen[id] = true
	}

	at := s.stamp()
	var changed []models.Item
	for pos, id := range ids {
		it := byID[id]
		if it.ItemOrder == pos {
			continue
		}
		it.ItemOrder = pos
		it.UpdatedAt = at
		if err := s.repo.PutItem(ctx, &it); err != nil {
			return nil, err
		}
		changed = append(changed, it)
	}
	if err := s.refreshItems(ctx, listID, ""); err != nil {
		return nil, err
	}

	receipts := make([]Receipt, 0, len(changed))
	for _, it := range changed {
		rc, err := s.deliver(ctx, models.OpUpdate, it, models.FieldItemOrder, models.FieldUpdatedAt)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, rc)
	}
	return receipts, nil
}

// UpdateItemImage uploads data as the item's image, or removes the image
// when data is nil. The upload cannot be queued: it needs connectivity and
// fails with TRANSIENT_NETWORK otherwise. The previous blob is removed once
// the new url is committed.
func (s *ListService) UpdateItemImage(ctx context.Context, itemID string, data []byte) (*models.Item, Receipt, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return nil, Receipt{}, err
	}

	var prepared *media.Prepared
	if data != nil {
		if prepared, err = media.Prepare(data, s.maxDim); err != nil {
			return nil, Receipt{}, err
		}
		if !s.monitor.IsOnline() {
			return nil, Receipt{}, apperrors.New(apperrors.ErrTransientNetwork, "image upload needs connectivity")
		}
	}

	var previous, uploaded string
	it, rc, err := s.updateItem(ctx, itemID, func(it *models.Item) error {
		previous = models.Deref(it.ImageURL)
		if prepared == nil {
			it.ImageURL = nil
			return nil
		}
		path := fmt.Sprintf("%s/%s-%d.%s", user, it.ID, s.now().UnixMilli(), prepared.Ext)
		url, err := s.blobs.Upload(ctx, path, prepared.Data, prepared.ContentType)
		if err != nil {
			if apperrors.IsTransient(err) && !apperrors.Is(err, apperrors.ErrAuthRequired) {
				return apperrors.Wrap(apperrors.ErrTransientNetwork, "image upload failed", err)
			}
			return err
		}
		uploaded = url
		it.ImageURL = models.StringPtr(url)
		return nil
	}, models.FieldImageURL)
	if err != nil {
		if uploaded != "" {
			s.dropUncommittedBlob(ctx, itemID, uploaded)
		}
		return nil, rc, err
	}

	if previous != "" && previous != models.Deref(it.ImageURL) {
		s.removeBlob(ctx, previous)
	}
	return it, rc, nil
}

// dropUncommittedBlob removes an uploaded image the local row never came
// to reference.
func (s *ListService) dropUncommittedBlob(ctx context.Context, itemID, url string) {
	cur, err := s.repo.GetItem(ctx, itemID)
	if err == nil && models.Deref(cur.ImageURL) == url {
		return
	}
	s.removeBlob(ctx, url)
}

// removeBlob deletes the blob behind a public url, logging failures.
func (s *ListService) removeBlob(ctx context.Context, publicURL string) {
	path, ok := remote.BlobPath(publicURL)
	if !ok || s.blobs == nil {
		return
	}
	if err := s.blobs.Remove(ctx, path); err != nil {
		logging.WarnErr("failed to remove image blob", err, map[string]interface{}{
			"component": "list_service",
			"path":      path,
		})
	}
}

// FetchItems returns a list's items in display order, refreshing the local
// store from the remote when online.
func (s *ListService) FetchItems(ctx context.Context, listID string) ([]models.Item, error) {
	if s.monitor.IsOnline() {
		remoteItems, err := s.remote.FetchItems(ctx, listID)
		if err != nil {
			logging.WarnErr("remote item fetch failed, using local store", err, map[string]interface{}{
				"component": "list_service",
				"list_id":   listID,
			})
		} else if err := s.mergeItems(ctx, listID, remoteItems); err != nil {
			return nil, err
		}
	}

	items, err := s.repo.ItemsByList(ctx, listID)
	if err != nil {
		return nil, err
	}
	s.state.setItems(listID, items)
	s.state.notify(Change{Table: models.TableListItems, ListID: listID})
	return items, nil
}

func (s *ListService) mergeItems(ctx context.Context, listID string, rows []models.Item) error {
	unlock := s.lockList(listID)
	defer unlock()
	for _, ri := range rows {
		if _, err := s.mergeItemLocked(ctx, ri, s.fetchLWW); err != nil {
			return err
		}
	}
	return nil
}

// mergeItemLocked stores ri unless the local copy wins under r or has
// queued changes. It reports whether ri was stored.
func (s *ListService) mergeItemLocked(ctx context.Context, ri models.Item, r *conflict.Resolver) (bool, error) {
	if queued, err := s.hasLocalIntent(ctx, ri); err != nil || queued {
		return false, err
	}
	var local models.Payload
	cur, err := s.repo.GetItem(ctx, ri.ID)
	switch {
	case err == nil:
		local = *cur
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return false, err
	}

	_, side, err := r.Merge(local, ri)
	if err != nil || side != conflict.SideRemote {
		return false, err
	}
	if err := s.repo.PutItem(ctx, &ri); err != nil {
		return false, err
	}
	return true, nil
}
