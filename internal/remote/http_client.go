package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/colabottles/basketbuddy/internal/errors"
	"github.com/colabottles/basketbuddy/internal/models"
)

// Config holds the remote connection settings.
type Config struct {
	BaseURL string
	Token   string
	UserID  string
	Timeout time.Duration
}

// HTTPClient speaks the REST, storage and health endpoints of the remote.
// It implements Store, Auth and Blobs.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
}

var (
	_ Store = (*HTTPClient)(nil)
	_ Auth  = (*HTTPClient)(nil)
	_ Blobs = (*HTTPClient)(nil)
)

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(config Config) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// BaseURL returns the remote root url.
func (c *HTTPClient) BaseURL() string {
	return c.config.BaseURL
}

// HealthURL returns the reachability endpoint.
func (c *HTTPClient) HealthURL() string {
	return c.config.BaseURL + "/healthz"
}

// CurrentUser returns the configured user. No network call is made.
func (c *HTTPClient) CurrentUser(ctx context.Context) (string, error) {
	if c.config.UserID == "" || c.config.Token == "" {
		return "", apperrors.New(apperrors.ErrAuthRequired, "not signed in")
	}
	return c.config.UserID, nil
}

// =====================================================
// Rows
// =====================================================

// Upsert posts the full row.
func (c *HTTPClient) Upsert(ctx context.Context, row models.Payload) error {
	body, err := json.Marshal(row)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode row", err)
	}
	return c.do(ctx, http.MethodPost, "/rest/v1/"+string(row.Table()), bytes.NewReader(body), "application/json", nil)
}

// Update patches the named columns of a row.
func (c *HTTPClient) Update(ctx context.Context, row models.Payload, fields []string) error {
	cols, err := models.Columns(row, fields)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to select columns", err)
	}
	body, err := json.Marshal(cols)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode columns", err)
	}
	path := "/rest/v1/" + string(row.Table()) + "/" + url.PathEscape(row.EntityID())
	return c.do(ctx, http.MethodPatch, path, bytes.NewReader(body), "application/json", nil)
}

// Delete removes a row by id.
func (c *HTTPClient) Delete(ctx context.Context, table models.Table, id string) error {
	return c.do(ctx, http.MethodDelete, "/rest/v1/"+string(table)+"/"+url.PathEscape(id), nil, "", nil)
}

// FetchLists returns every list the user owns or is shared on.
func (c *HTTPClient) FetchLists(ctx context.Context) ([]models.List, error) {
	var out []models.List
	err := c.do(ctx, http.MethodGet, "/rest/v1/"+string(models.TableLists), nil, "", &out)
	return out, err
}

// FetchItems returns a list's items.
func (c *HTTPClient) FetchItems(ctx context.Context, listID string) ([]models.Item, error) {
	var out []models.Item
	err := c.do(ctx, http.MethodGet, fetchPath(models.TableListItems, listID), nil, "", &out)
	return out, err
}

// FetchCategories returns a list's categories.
func (c *HTTPClient) FetchCategories(ctx context.Context, listID string) ([]models.Category, error) {
	var out []models.Category
	err := c.do(ctx, http.MethodGet, fetchPath(models.TableCategories, listID), nil, "", &out)
	return out, err
}

// FetchShares returns a list's shares.
func (c *HTTPClient) FetchShares(ctx context.Context, listID string) ([]models.ListShare, error) {
	var out []models.ListShare
	err := c.do(ctx, http.MethodGet, fetchPath(models.TableListShares, listID), nil, "", &out)
	return out, err
}

func fetchPath(table models.Table, listID string) string {
	return "/rest/v1/" + string(table) + "?list_id=" + url.QueryEscape(listID)
}

// =====================================================
// Blobs
// =====================================================

// Upload puts an object into the image bucket. An empty contentType is
// detected from data.
func (c *HTTPClient) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	if err := c.do(ctx, http.MethodPut, c.objectPath(path), bytes.NewReader(data), contentType, nil); err != nil {
		return "", err
	}
	return c.PublicURL(path), nil
}

// Remove deletes an object from the image bucket.
func (c *HTTPClient) Remove(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, c.objectPath(path), nil, "", nil)
}

// PublicURL returns the download url of an object.
func (c *HTTPClient) PublicURL(path string) string {
	return c.config.BaseURL + "/storage/v1/object/public/" + ImageBucket + "/" + escapePath(path)
}

func (c *HTTPClient) objectPath(path string) string {
	return "/storage/v1/object/" + ImageBucket + "/" + escapePath(path)
}

func escapePath(path string) string {
	parts := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// =====================================================
// Transport
// =====================================================

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to build request", err)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if c.config.UserID != "" {
		req.Header.Set("X-User-ID", c.config.UserID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransientNetwork, method+" "+path+" failed", err)
	}
	defer resp.Body.Close()

	if err := classify(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrTransientNetwork, "failed to decode "+path+" response", err)
	}
	return nil
}

// classify maps a response status onto the error taxonomy.
func classify(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := fmt.Sprintf("remote returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrAuthRequired, text)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrTransientNetwork, text)
	case resp.StatusCode >= 500:
		return apperrors.New(apperrors.ErrTransientNetwork, text)
	default:
		return apperrors.New(apperrors.ErrRemoteRejected, text)
	}
}
