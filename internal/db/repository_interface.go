package db

import (
	"context"
	"time"

	"github.com/colabottles/basketbuddy/internal/models"
)

// ListRepository defines operations for list persistence.
type ListRepository interface {
	GetList(ctx context.Context, id string) (*models.List, error)
	AllLists(ctx context.Context) ([]models.List, error)
	PutList(ctx context.Context, l *models.List) error
	DeleteListCascade(ctx context.Context, id string) error
}

// ItemRepository defines operations for item persistence.
type ItemRepository interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	ItemsByList(ctx context.Context, listID string) ([]models.Item, error)
	ItemsByCategory(ctx context.Context, listID, category string) ([]models.Item, error)
	MaxItemOrder(ctx context.Context, listID string) (int, bool, error)
	PutItem(ctx context.Context, it *models.Item) error
	DeleteItem(ctx context.Context, id string) error
}

// CategoryRepository defines operations for category persistence.
type CategoryRepository interface {
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	CategoriesByList(ctx context.Context, listID string) ([]models.Category, error)
	MaxCategoryOrder(ctx context.Context, listID string) (int, bool, error)
	PutCategory(ctx context.Context, c *models.Category) error
	DeleteCategory(ctx context.Context, id string) error
}

// ShareRepository defines operations for the cached share table.
type ShareRepository interface {
	SharesByList(ctx context.Context, listID string) ([]models.ListShare, error)
	PutShare(ctx context.Context, sh *models.ListShare) error
}

// EntityRepository groups everything the mutation API reads and writes.
type EntityRepository interface {
	ListRepository
	ItemRepository
	CategoryRepository
	ShareRepository
}

// OutboxRepository defines the outbox table operations.
type OutboxRepository interface {
	PutOperation(ctx context.Context, op *models.SyncOperation) error
	GetOperation(ctx context.Context, id string) (*models.SyncOperation, error)
	ReadyOperations(ctx context.Context, now time.Time) ([]models.SyncOperation, error)
	HasPendingOperations(ctx context.Context, table models.Table, entityID string) (bool, error)
	OperationsByStatus(ctx context.Context, status models.OpStatus) ([]models.SyncOperation, error)
	MarkOperationSynced(ctx context.Context, id string) error
	DeleteSyncedOperations(ctx context.Context) (int64, error)
	EarliestRetry(ctx context.Context) (time.Time, bool, error)
	OperationCounts(ctx context.Context) (map[models.OpStatus]int, int, error)
}

// MetadataRepository defines the metadata table operations the coordinator
// needs.
type MetadataRepository interface {
	LastSync(ctx context.Context) (time.Time, bool, error)
	SetLastSync(ctx context.Context, at time.Time) error
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ EntityRepository   = (*Repository)(nil)
	_ OutboxRepository   = (*Repository)(nil)
	_ MetadataRepository = (*Repository)(nil)
)
