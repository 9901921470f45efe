package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/remote/server"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func setupRemote(t *testing.T) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv, err := server.New(server.Config{BlobDir: t.TempDir(), Token: "tok"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return NewHTTPClient(Config{BaseURL: ts.URL, Token: "tok", UserID: "u1", Timeout: 5 * time.Second}), ts
}

func TestHTTPClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := setupRemote(t)

	list := models.List{ID: "l1", Name: "Weekly", OwnerID: "u1", CreatedAt: t0, UpdatedAt: t0}
	item := models.Item{ID: "i1", ListID: "l1", Text: "Milk", ItemOrder: 0, Notes: models.StringPtr("2%"), CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, c.Upsert(ctx, list))
	require.NoError(t, c.Upsert(ctx, item))
	require.NoError(t, c.Upsert(ctx, models.Category{ID: "c1", ListID: "l1", Name: "Dairy", Color: "#fff", CreatedAt: t0}))

	item.Checked = true
	item.Text = "ignored"
	item.UpdatedAt = t0.Add(time.Second)
	require.NoError(t, c.Update(ctx, item, []string{models.FieldChecked, models.FieldUpdatedAt}))

	lists, err := c.FetchLists(ctx)
	require.NoError(t, err)
	require.Len(t, lists, 1)
	assert.True(t, lists[0].UpdatedAt.Equal(t0))

	items, err := c.FetchItems(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Checked)
	assert.Equal(t, "Milk", items[0].Text, "partial update must not touch other columns")
	assert.Equal(t, "2%", models.Deref(items[0].Notes))

	cats, err := c.FetchCategories(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, cats, 1)

	shares, err := c.FetchShares(ctx, "l1")
	require.NoError(t, err)
	assert.Empty(t, shares)

	require.NoError(t, c.Delete(ctx, models.TableListItems, "i1"))
	require.NoError(t, c.Delete(ctx, models.TableListItems, "i1"), "delete is idempotent")
	require.NoError(t, c.Update(ctx, item, []string{models.FieldChecked}), "update of a missing row is a no-op")
}

func TestHTTPClientBlobs(t *testing.T) {
	ctx := context.Background()
	c, ts := setupRemote(t)

	data := []byte("GIF89a tiny")
	url, err := c.Upload(ctx, "u1/i1-1700000000000.gif", data, "")
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/storage/v1/object/public/item-images/u1/i1-1700000000000.gif", url)

	path, ok := BlobPath(url)
	require.True(t, ok)
	assert.Equal(t, "u1/i1-1700000000000.gif", path)

	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	require.NoError(t, c.Remove(ctx, path))
	resp, err = http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   apperrors.ErrorCode
	}{
		{http.StatusBadRequest, apperrors.ErrRemoteRejected},
		{http.StatusConflict, apperrors.ErrRemoteRejected},
		{http.StatusUnauthorized, apperrors.ErrAuthRequired},
		{http.StatusForbidden, apperrors.ErrAuthRequired},
		{http.StatusRequestTimeout, apperrors.ErrTransientNetwork},
		{http.StatusTooManyRequests, apperrors.ErrTransientNetwork},
		{http.StatusInternalServerError, apperrors.ErrTransientNetwork},
		{http.StatusBadGateway, apperrors.ErrTransientNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer ts.Close()

			c := NewHTTPClient(Config{BaseURL: ts.URL, Token: "tok", UserID: "u1"})
			err := c.Delete(context.Background(), models.TableLists, "l1")
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.want != apperrors.ErrRemoteRejected, apperrors.IsTransient(err))
		})
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewHTTPClient(Config{BaseURL: url, Token: "tok", UserID: "u1", Timeout: time.Second})
	_, err := c.FetchLists(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransientNetwork))
}

func TestCurrentUser(t *testing.T) {
	c := NewHTTPClient(Config{BaseURL: "http://localhost", Token: "tok", UserID: "u1"})
	user, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", user)

	c = NewHTTPClient(Config{BaseURL: "http://localhost"})
	_, err = c.CurrentUser(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthRequired))
}

func TestBlobPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://x/storage/v1/object/public/item-images/u1/i1-5.jpg", "u1/i1-5.jpg", true},
		{"https://x/storage/v1/object/public/item-images/u1/i1-5.jpg?v=2", "u1/i1-5.jpg", true},
		{"https://x/other/u1/i1.jpg", "", false},
		{"https://x/storage/v1/object/public/item-images/", "", false},
	}
	for _, tt := range tests {
		got, ok := BlobPath(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}
}
