// Package services is the entity mutation API: every write lands in the
// local store first, then goes to the remote directly or through the outbox.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/colabottles/basketbuddy/internal/db"
	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/media"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/remote"
	"github.com/colabottles/basketbuddy/internal/sync/conflict"
	"github.com/colabottles/basketbuddy/internal/sync/connectivity"
	"github.com/colabottles/basketbuddy/internal/sync/queue"
)

// Delivery says how a mutation left the device.
type Delivery string

const (
	Delivered Delivery = "delivered"
	Queued    Delivery = "queued"
)

// Receipt is the outcome of one remote-bound mutation.
type Receipt struct {
	Delivery  Delivery
	Table     models.Table
	EntityID  string
	OpID      string // outbox entry, when queued
	RemoteErr error  // why the direct attempt failed, when it was tried
}

// Deps are the collaborators of a ListService.
type Deps struct {
	Repo         db.EntityRepository
	Outbox       *queue.Outbox
	Remote       remote.Store
	Auth         remote.Auth
	Blobs        remote.Blobs
	Connectivity *connectivity.Monitor
	Clock        func() time.Time
	// MaxImageDimension bounds uploaded images; zero uses the media default.
	MaxImageDimension int
}

// ListService implements the list, item and category operations.
type ListService struct {
	repo    db.EntityRepository
	outbox  *queue.Outbox
	remote  remote.Store
	auth    remote.Auth
	blobs   remote.Blobs
	monitor *connectivity.Monitor
	now     func() time.Time
	maxDim  int

	locks     *keyedMutex
	state     *memState
	fetchLWW  *conflict.Resolver
	changeLWW *conflict.Resolver
}

// NewListService creates a ListService.
func NewListService(d Deps) *ListService {
	now := d.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	maxDim := d.MaxImageDimension
	if maxDim <= 0 {
		maxDim = media.DefaultMaxDimension
	}
	return &ListService{
		repo:      d.Repo,
		outbox:    d.Outbox,
		remote:    d.Remote,
		auth:      d.Auth,
		blobs:     d.Blobs,
		monitor:   d.Connectivity,
		now:       now,
		maxDim:    maxDim,
		locks:     newKeyedMutex(),
		state:     newMemState(),
		fetchLWW:  conflict.NewResolver(conflict.SideLocal),
		changeLWW: conflict.NewResolver(conflict.SideRemote),
	}
}

// Snapshot returns a copy of the in-memory state.
func (s *ListService) Snapshot() State {
	return s.state.snapshot()
}

// Observe registers fn for state changes and returns its cancel func.
func (s *ListService) Observe(fn Observer) (cancel func()) {
	return s.state.observe(fn)
}

func (s *ListService) stamp() time.Time {
	return models.Stamp(s.now())
}

func (s *ListService) lockList(listID string) func() {
	return s.locks.Lock(listID)
}

// currentUser returns the signed-in user or AUTH_REQUIRED.
func (s *ListService) currentUser(ctx context.Context) (string, error) {
	if s.auth == nil {
		return "", apperrors.New(apperrors.ErrAuthRequired, "no auth provider")
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrAuthRequired) {
			return "", err
		}
		return "", apperrors.Wrap(apperrors.ErrAuthRequired, "could not resolve current user", err)
	}
	if user == "" {
		return "", apperrors.New(apperrors.ErrAuthRequired, "user not authenticated")
	}
	return user, nil
}

// deliver tries the remote when online and falls back to the outbox. A row
// that still has queued entries is always queued behind them. An error is
// returned only when the outbox write itself fails.
func (s *ListService) deliver(ctx context.Context, typ models.OpType, row models.Payload, fields ...string) (Receipt, error) {
	rc := Receipt{Table: row.Table(), EntityID: row.EntityID()}

	if s.monitor.IsOnline() {
		queued, err := s.outbox.HasPending(ctx, row.Table(), row.EntityID())
		if err != nil {
			return rc, err
		}
		if !queued {
			err := remote.Apply(ctx, s.remote, typ, row, fields)
			if err == nil {
				rc.Delivery = Delivered
				return rc, nil
			}
			rc.RemoteErr = err
			logging.WarnErr("remote write failed, queueing", err, map[string]interface{}{
				"component": "list_service",
				"type":      string(typ),
				"table":     string(row.Table()),
				"entity_id": row.EntityID(),
			})
		}
	}

	op, err := s.outbox.Enqueue(ctx, typ, row, fields...)
	if err != nil {
		return rc, fmt.Errorf("failed to queue %s %s: %w", typ, row.Table(), err)
	}
	rc.Delivery = Queued
	rc.OpID = op.ID
	return rc, nil
}

// hasLocalIntent reports whether the row has changes still waiting in the
// outbox. Remote copies of such rows are not merged until they drain.
func (s *ListService) hasLocalIntent(ctx context.Context, row models.Payload) (bool, error) {
	return s.outbox.HasPending(ctx, row.Table(), row.EntityID())
}

// refreshItems reloads a list's items into memory and notifies.
func (s *ListService) refreshItems(ctx context.Context, listID, itemID string) error {
	items, err := s.repo.ItemsByList(ctx, listID)
	if err != nil {
		return err
	}
	s.state.setItems(listID, items)
	s.state.notify(Change{Table: models.TableListItems, ListID: listID, ID: itemID})
	return nil
}

func (s *ListService) refreshCategories(ctx context.Context, listID, categoryID string) error {
	cats, err := s.repo.CategoriesByList(ctx, listID)
	if err != nil {
		return err
	}
	s.state.setCategories(listID, cats)
	s.state.notify(Change{Table: models.TableCategories, ListID: listID, ID: categoryID})
	return nil
}

func (s *ListService) refreshShares(ctx context.Context, listID string) error {
	shares, err := s.repo.SharesByList(ctx, listID)
	if err != nil {
		return err
	}
	s.state.setShares(listID, shares)
	s.state.notify(Change{Table: models.TableListShares, ListID: listID})
	return nil
}

func requireText(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", apperrors.Newf(apperrors.ErrInvalid, "%s must not be empty", field)
	}
	return v, nil
}

// LoadLocal fills the in-memory state from the local store.
func (s *ListService) LoadLocal(ctx context.Context) error {
	lists, err := s.repo.AllLists(ctx)
	if err != nil {
		return err
	}
	s.state.replaceLists(lists)
	for _, l := range lists {
		if err := s.loadListSections(ctx, l.ID); err != nil {
			return err
		}
	}
	s.state.notify(Change{Table: models.TableLists})

	logging.Info("local state loaded", map[string]interface{}{
		"component": "list_service",
		"lists":     len(lists),
	})
	return nil
}

func (s *ListService) loadListSections(ctx context.Context, listID string) error {
	items, err := s.repo.ItemsByList(ctx, listID)
	if err != nil {
		return err
	}
	cats, err := s.repo.CategoriesByList(ctx, listID)
	if err != nil {
		return err
	}
	shares, err := s.repo.SharesByList(ctx, listID)
	if err != nil {
		return err
	}
	s.state.setItems(listID, items)
	s.state.setCategories(listID, cats)
	s.state.setShares(listID, shares)
	return nil
}
