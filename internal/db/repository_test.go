// Package db tests for repository operations.
package db

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	repo := NewRepository(d.DB)
	t.Cleanup(func() {
		repo.Close()
		d.Close()
	})
	return repo
}

var base = models.Stamp(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

// =====================================================
// List Tests
// =====================================================

// TestPutGetList tests list upsert and retrieval.
func TestPutGetList(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	l := &models.List{ID: "l1", Name: "Weekly", OwnerID: "u1", CreatedAt: base, UpdatedAt: base}
	if err := repo.PutList(ctx, l); err != nil {
		t.Fatalf("PutList failed: %v", err)
	}

	got, err := repo.GetList(ctx, "l1")
	if err != nil {
		t.Fatalf("GetList failed: %v", err)
	}
	if got.Name != "Weekly" || got.OwnerID != "u1" || !got.UpdatedAt.Equal(base) {
		t.Errorf("GetList() = %+v", got)
	}

	l.Name = "Party"
	l.UpdatedAt = base.Add(time.Hour)
	if err := repo.PutList(ctx, l); err != nil {
		t.Fatalf("PutList (update) failed: %v", err)
	}
	got, _ = repo.GetList(ctx, "l1")
	if got.Name != "Party" {
		t.Errorf("Name = %q after upsert, want Party", got.Name)
	}

	_, err = repo.GetList(ctx, "missing")
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("GetList(missing) error = %v, want NOT_FOUND", err)
	}
}

// TestAllListsOrder tests lists come back most recently updated first.
func TestAllListsOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for i, id := range []string{"old", "new", "mid"} {
		at := base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour)
		if err := repo.PutList(ctx, &models.List{ID: id, Name: id, OwnerID: "u", CreatedAt: base, UpdatedAt: at}); err != nil {
			t.Fatalf("PutList failed: %v", err)
		}
	}

	lists, err := repo.AllLists(ctx)
	if err != nil {
		t.Fatalf("AllLists failed: %v", err)
	}
	var ids []string
	for _, l := range lists {
		ids = append(ids, l.ID)
	}
	if len(ids) != 3 || ids[0] != "new" || ids[1] != "mid" || ids[2] != "old" {
		t.Errorf("AllLists order = %v, want [new mid old]", ids)
	}

	since, err := repo.ListsUpdatedSince(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListsUpdatedSince failed: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("ListsUpdatedSince len = %d, want 2", len(since))
	}
}

// TestDeleteListCascade tests that a list's dependents go with it.
func TestDeleteListCascade(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	repo.PutList(ctx, &models.List{ID: "l1", Name: "A", OwnerID: "u", CreatedAt: base, UpdatedAt: base})
	repo.PutList(ctx, &models.List{ID: "l2", Name: "B", OwnerID: "u", CreatedAt: base, UpdatedAt: base})
	repo.PutItem(ctx, &models.Item{ID: "i1", ListID: "l1", Text: "x", CreatedAt: base, UpdatedAt: base})
	repo.PutItem(ctx, &models.Item{ID: "i2", ListID: "l2", Text: "y", CreatedAt: base, UpdatedAt: base})
	repo.PutCategory(ctx, &models.Category{ID: "c1", ListID: "l1", Name: "Dairy", Color: "#fff", CreatedAt: base})
	repo.PutShare(ctx, &models.ListShare{ID: "s1", ListID: "l1", UserID: "u2", PermissionLevel: models.PermissionEdit, CreatedAt: base})

	if err := repo.DeleteListCascade(ctx, "l1"); err != nil {
		t.Fatalf("DeleteListCascade failed: %v", err)
	}

	if _, err := repo.GetList(ctx, "l1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("list l1 still present: %v", err)
	}
	if items, _ := repo.ItemsByList(ctx, "l1"); len(items) != 0 {
		t.Errorf("items of l1 = %d, want 0", len(items))
	}
	if cats, _ := repo.CategoriesByList(ctx, "l1"); len(cats) != 0 {
		t.Errorf("categories of l1 = %d, want 0", len(cats))
	}
	if shares, _ := repo.SharesByList(ctx, "l1"); len(shares) != 0 {
		t.Errorf("shares of l1 = %d, want 0", len(shares))
	}
	if items, _ := repo.ItemsByList(ctx, "l2"); len(items) != 1 {
		t.Errorf("items of l2 = %d, want 1", len(items))
	}
}

// =====================================================
// Item Tests
// =====================================================

// TestPutGetItemNullables tests nullable columns survive a round trip.
func TestPutGetItemNullables(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	it := &models.Item{
		ID: "i1", ListID: "l1", Text: "Bread", Checked: true, ItemOrder: 4,
		Notes: models.StringPtr("sourdough"), CreatedAt: base, UpdatedAt: base,
	}
	if err := repo.PutItem(ctx, it); err != nil {
		t.Fatalf("PutItem failed: %v", err)
	}

	got, err := repo.GetItem(ctx, "i1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if !got.Checked || got.ItemOrder != 4 {
		t.Errorf("GetItem() = %+v", got)
	}
	if got.Category != nil || got.ImageURL != nil {
		t.Error("nil columns came back non-nil")
	}
	if models.Deref(got.Notes) != "sourdough" {
		t.Errorf("Notes = %v, want sourdough", got.Notes)
	}
}

// TestItemIndexes tests the by-list, by-category and by-updated lookups.
func TestItemIndexes(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	dairy := models.StringPtr("Dairy")
	rows := []models.Item{
		{ID: "a", ListID: "l1", Text: "Milk", ItemOrder: 2, Category: dairy, CreatedAt: base, UpdatedAt: base},
		{ID: "b", ListID: "l1", Text: "Bread", ItemOrder: 0, CreatedAt: base, UpdatedAt: base.Add(time.Minute)},
		{ID: "c", ListID: "l1", Text: "Cheese", ItemOrder: 1, Category: dairy, CreatedAt: base, UpdatedAt: base.Add(2 * time.Minute)},
		{ID: "d", ListID: "l2", Text: "Soap", ItemOrder: 0, CreatedAt: base, UpdatedAt: base},
	}
	for i := range rows {
		if err := repo.PutItem(ctx, &rows[i]); err != nil {
			t.Fatalf("PutItem failed: %v", err)
		}
	}

	items, err := repo.ItemsByList(ctx, "l1")
	if err != nil {
		t.Fatalf("ItemsByList failed: %v", err)
	}
	if len(items) != 3 || items[0].ID != "b" || items[1].ID != "c" || items[2].ID != "a" {
		t.Errorf("ItemsByList order wrong: %+v", items)
	}

	byCat, err := repo.ItemsByCategory(ctx, "l1", "Dairy")
	if err != nil {
		t.Fatalf("ItemsByCategory failed: %v", err)
	}
	if len(byCat) != 2 {
		t.Errorf("ItemsByCategory len = %d, want 2", len(byCat))
	}

	recent, err := repo.ItemsUpdatedSince(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ItemsUpdatedSince failed: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("ItemsUpdatedSince len = %d, want 2", len(recent))
	}

	all, err := repo.AllItems(ctx)
	if err != nil {
		t.Fatalf("AllItems failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("AllItems len = %d, want 4", len(all))
	}
}

// TestMaxItemOrder tests the empty and populated cases.
func TestMaxItemOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, ok, err := repo.MaxItemOrder(ctx, "l1")
	if err != nil {
		t.Fatalf("MaxItemOrder failed: %v", err)
	}
	if ok {
		t.Error("MaxItemOrder on empty list reported items")
	}

	repo.PutItem(ctx, &models.Item{ID: "a", ListID: "l1", Text: "x", ItemOrder: 3, CreatedAt: base, UpdatedAt: base})
	repo.PutItem(ctx, &models.Item{ID: "b", ListID: "l1", Text: "y", ItemOrder: 7, CreatedAt: base, UpdatedAt: base})

	highest, ok, err := repo.MaxItemOrder(ctx, "l1")
	if err != nil {
		t.Fatalf("MaxItemOrder failed: %v", err)
	}
	if !ok || highest != 7 {
		t.Errorf("MaxItemOrder() = %d, %v, want 7, true", highest, ok)
	}

	if err := repo.DeleteItem(ctx, "b"); err != nil {
		t.Fatalf("DeleteItem failed: %v", err)
	}
	if err := repo.DeleteItem(ctx, "b"); err != nil {
		t.Errorf("DeleteItem of a missing item failed: %v", err)
	}
}

// =====================================================
// Category and Share Tests
// =====================================================

// TestCategories tests category upsert, lookup and ordering.
func TestCategories(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	repo.PutCategory(ctx, &models.Category{ID: "c2", ListID: "l1", Name: "Produce", Color: "#0f0", ItemOrder: 1, CreatedAt: base})
	repo.PutCategory(ctx, &models.Category{ID: "c1", ListID: "l1", Name: "Dairy", Color: "#fff", ItemOrder: 0, CreatedAt: base})

	cats, err := repo.CategoriesByList(ctx, "l1")
	if err != nil {
		t.Fatalf("CategoriesByList failed: %v", err)
	}
	if len(cats) != 2 || cats[0].Name != "Dairy" {
		t.Errorf("CategoriesByList = %+v", cats)
	}

	highest, ok, err := repo.MaxCategoryOrder(ctx, "l1")
	if err != nil || !ok || highest != 1 {
		t.Errorf("MaxCategoryOrder() = %d, %v, %v", highest, ok, err)
	}

	if err := repo.DeleteCategory(ctx, "c1"); err != nil {
		t.Fatalf("DeleteCategory failed: %v", err)
	}
	if _, err := repo.GetCategory(ctx, "c1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("GetCategory after delete = %v, want NOT_FOUND", err)
	}
}

// TestShares tests the share cache.
func TestShares(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	sh := &models.ListShare{ID: "s1", ListID: "l1", UserID: "u2", PermissionLevel: models.PermissionView, CreatedAt: base}
	if err := repo.PutShare(ctx, sh); err != nil {
		t.Fatalf("PutShare failed: %v", err)
	}
	got, err := repo.GetShare(ctx, "s1")
	if err != nil {
		t.Fatalf("GetShare failed: %v", err)
	}
	if got.PermissionLevel != models.PermissionView {
		t.Errorf("PermissionLevel = %s, want view", got.PermissionLevel)
	}

	bad := &models.ListShare{ID: "s2", ListID: "l1", UserID: "u3", PermissionLevel: "admin", CreatedAt: base}
	err = repo.PutShare(ctx, bad)
	if !apperrors.Is(err, apperrors.ErrLocalPersistence) {
		t.Errorf("PutShare(bad permission) error = %v, want LOCAL_PERSISTENCE", err)
	}

	all, _ := repo.AllShares(ctx)
	if len(all) != 1 {
		t.Errorf("AllShares len = %d, want 1", len(all))
	}
}

// =====================================================
// Outbox and Metadata Tests
// =====================================================

func testOp(id string, ts time.Time, p models.Payload) *models.SyncOperation {
	return &models.SyncOperation{ID: id, Type: models.OpCreate, Data: p, Timestamp: ts, Status: models.OpStatusPending}
}

// TestOperationsRoundTrip tests the typed payload comes back from storage.
func TestOperationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	item := models.Item{ID: "i1", ListID: "l1", Text: "Milk", Checked: true, CreatedAt: base, UpdatedAt: base}
	op := &models.SyncOperation{
		ID: "op1", Type: models.OpUpdate, Data: item,
		Fields: []string{models.FieldChecked, models.FieldUpdatedAt}, Timestamp: base,
	}
	if err := repo.PutOperation(ctx, op); err != nil {
		t.Fatalf("PutOperation failed: %v", err)
	}

	got, err := repo.GetOperation(ctx, "op1")
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if got.Table() != models.TableListItems || got.Type != models.OpUpdate {
		t.Errorf("GetOperation() table/type = %s/%s", got.Table(), got.Type)
	}
	gotItem, ok := got.Data.(models.Item)
	if !ok || !gotItem.Checked {
		t.Errorf("payload = %#v, want checked Item", got.Data)
	}
	if len(got.Fields) != 2 || got.Fields[0] != models.FieldChecked {
		t.Errorf("Fields = %v", got.Fields)
	}
	if got.Status != models.OpStatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
}

// TestReadyOperationsOrder tests FIFO order, the retry gate and the synced
// filter.
func TestReadyOperationsOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	list := models.List{ID: "l1", Name: "A", OwnerID: "u", CreatedAt: base, UpdatedAt: base}
	repo.PutOperation(ctx, testOp("late", base.Add(2*time.Second), list))
	repo.PutOperation(ctx, testOp("early", base, list))
	repo.PutOperation(ctx, testOp("tie", base, list))

	other := models.List{ID: "l2", Name: "B", OwnerID: "u", CreatedAt: base, UpdatedAt: base}
	deferred := testOp("deferred", base, other)
	deferred.NextRetryAt = base.Add(time.Hour)
	repo.PutOperation(ctx, deferred)

	ops, err := repo.ReadyOperations(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadyOperations failed: %v", err)
	}
	var ids []string
	for _, op := range ops {
		ids = append(ids, op.ID)
	}
	if len(ids) != 3 || ids[0] != "early" || ids[1] != "tie" || ids[2] != "late" {
		t.Errorf("ReadyOperations order = %v, want [early tie late]", ids)
	}

	if err := repo.MarkOperationSynced(ctx, "early"); err != nil {
		t.Fatalf("MarkOperationSynced failed: %v", err)
	}
	if err := repo.MarkOperationSynced(ctx, "missing"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("MarkOperationSynced(missing) = %v, want NOT_FOUND", err)
	}

	unsynced, _ := repo.OperationsBySynced(ctx, false)
	if len(unsynced) != 3 {
		t.Errorf("unsynced = %d, want 3", len(unsynced))
	}

	next, ok, err := repo.EarliestRetry(ctx)
	if err != nil || !ok {
		t.Fatalf("EarliestRetry() = %v, %v", ok, err)
	}
	if !next.Before(base.Add(time.Hour)) {
		t.Errorf("EarliestRetry() = %v, want an entry due before the deferred one", next)
	}

	counts, synced, err := repo.OperationCounts(ctx)
	if err != nil {
		t.Fatalf("OperationCounts failed: %v", err)
	}
	if counts[models.OpStatusPending] != 3 || synced != 1 {
		t.Errorf("OperationCounts() = %v, %d", counts, synced)
	}

	n, err := repo.DeleteSyncedOperations(ctx)
	if err != nil {
		t.Fatalf("DeleteSyncedOperations failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}

// TestReadyOperationsHoldRowBehindBackoff tests that later entries for a
// row wait while an earlier entry for it is deferred.
func TestReadyOperationsHoldRowBehindBackoff(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	milk := models.Item{ID: "i1", ListID: "l1", Text: "Milk", CreatedAt: base, UpdatedAt: base}
	eggs := models.Item{ID: "i2", ListID: "l1", Text: "Eggs", CreatedAt: base, UpdatedAt: base}

	create := testOp("create-i1", base, milk)
	create.NextRetryAt = base.Add(time.Hour)
	repo.PutOperation(ctx, create)
	del := testOp("delete-i1", base.Add(time.Second), milk)
	del.Type = models.OpDelete
	repo.PutOperation(ctx, del)
	repo.PutOperation(ctx, testOp("create-i2", base.Add(2*time.Second), eggs))

	ops, err := repo.ReadyOperations(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadyOperations failed: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != "create-i2" {
		t.Errorf("ReadyOperations() = %v, want only create-i2", ops)
	}

	pending, err := repo.HasPendingOperations(ctx, models.TableListItems, "i1")
	if err != nil || !pending {
		t.Errorf("HasPendingOperations(i1) = %v, %v, want true", pending, err)
	}
	if pending, _ := repo.HasPendingOperations(ctx, models.TableLists, "i1"); pending {
		t.Error("HasPendingOperations matched another table")
	}

	// The held delete is due, but nothing for i1 can run before the create.
	repo.MarkOperationSynced(ctx, "create-i2")
	next, ok, err := repo.EarliestRetry(ctx)
	if err != nil || !ok || !next.Equal(base.Add(time.Hour)) {
		t.Errorf("EarliestRetry() = %v, %v, %v, want the deferred create", next, ok, err)
	}

	ops, _ = repo.ReadyOperations(ctx, base.Add(2*time.Hour))
	if len(ops) != 2 || ops[0].ID != "create-i1" || ops[1].ID != "delete-i1" {
		t.Errorf("ReadyOperations() after backoff = %v, want [create-i1 delete-i1]", ops)
	}

	repo.MarkOperationSynced(ctx, "create-i1")
	repo.MarkOperationSynced(ctx, "delete-i1")
	if pending, _ := repo.HasPendingOperations(ctx, models.TableListItems, "i1"); pending {
		t.Error("HasPendingOperations(i1) true after every entry synced")
	}
}

// TestMetadata tests key/value storage and the last-sync helpers.
func TestMetadata(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, ok, err := repo.LastSync(ctx); err != nil || ok {
		t.Fatalf("LastSync on empty store = %v, %v", ok, err)
	}

	at := base.Add(90 * time.Second)
	if err := repo.SetLastSync(ctx, at); err != nil {
		t.Fatalf("SetLastSync failed: %v", err)
	}
	got, ok, err := repo.LastSync(ctx)
	if err != nil || !ok {
		t.Fatalf("LastSync failed: %v, %v", ok, err)
	}
	if !got.Equal(at) {
		t.Errorf("LastSync() = %v, want %v", got, at)
	}

	repo.SetMeta(ctx, "k", "v1")
	repo.SetMeta(ctx, "k", "v2")
	v, _, _ := repo.GetMeta(ctx, "k")
	if v != "v2" {
		t.Errorf("GetMeta(k) = %q, want v2", v)
	}
}

// TestClearAll tests every table is emptied.
func TestClearAll(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	list := models.List{ID: "l1", Name: "A", OwnerID: "u", CreatedAt: base, UpdatedAt: base}
	repo.PutList(ctx, &list)
	repo.PutItem(ctx, &models.Item{ID: "i1", ListID: "l1", Text: "x", CreatedAt: base, UpdatedAt: base})
	repo.PutOperation(ctx, testOp("op1", base, list))
	repo.SetLastSync(ctx, base)

	if err := repo.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	lists, _ := repo.AllLists(ctx)
	items, _ := repo.AllItems(ctx)
	ops, _ := repo.OperationsBySynced(ctx, false)
	_, ok, _ := repo.LastSync(ctx)
	if len(lists) != 0 || len(items) != 0 || len(ops) != 0 || ok {
		t.Errorf("ClearAll left rows: lists=%d items=%d ops=%d lastSync=%v", len(lists), len(items), len(ops), ok)
	}
}
