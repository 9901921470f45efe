// Package remote defines the contract the sync engine needs from the remote
// store and an HTTP implementation of it.
package remote

import (
	"context"
	"strings"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/models"
)

// ImageBucket is the blob bucket item images live in.
const ImageBucket = "item-images"

// Store is the remote row store. Upserts are last-writer-wins by
// updated_at on the remote side, so replaying one is harmless.
type Store interface {
	Upsert(ctx context.Context, row models.Payload) error
	// Update writes only the named columns. Updating a missing row is a no-op.
	Update(ctx context.Context, row models.Payload, fields []string) error
	// Delete is idempotent. Deleting a list cascades remotely.
	Delete(ctx context.Context, table models.Table, id string) error

	FetchLists(ctx context.Context) ([]models.List, error)
	FetchItems(ctx context.Context, listID string) ([]models.Item, error)
	FetchCategories(ctx context.Context, listID string) ([]models.Category, error)
	FetchShares(ctx context.Context, listID string) ([]models.ListShare, error)
}

// Auth reports the signed-in user.
type Auth interface {
	// CurrentUser returns the user id, or AUTH_REQUIRED when nobody is
	// signed in.
	CurrentUser(ctx context.Context) (string, error)
}

// Blobs is the image bucket.
type Blobs interface {
	// Upload stores data at path and returns its public url.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, path string) error
}

// Apply replays one outbox intent against store.
func Apply(ctx context.Context, store Store, typ models.OpType, row models.Payload, fields []string) error {
	switch row.(type) {
	case models.List, models.Item, models.Category:
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "cannot replay %T", row)
	}

	switch typ {
	case models.OpCreate:
		return store.Upsert(ctx, row)
	case models.OpUpdate:
		if len(fields) == 0 {
			return store.Upsert(ctx, row)
		}
		return store.Update(ctx, row, fields)
	case models.OpDelete:
		return store.Delete(ctx, row.Table(), row.EntityID())
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown operation type %q", typ)
	}
}

// BlobPath extracts the object path from a public image url, i.e. the part
// after "/item-images/".
func BlobPath(publicURL string) (string, bool) {
	marker := "/" + ImageBucket + "/"
	i := strings.LastIndex(publicURL, marker)
	if i < 0 {
		return "", false
	}
	path := publicURL[i+len(marker):]
	if j := strings.IndexAny(path, "?#"); j >= 0 {
		path = path[:j]
	}
	return path, path != ""
}
