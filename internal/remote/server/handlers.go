package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
)

const maxBlobBytes = 10 << 20

func (s *Server) upsertRow(c *gin.Context) {
	table, ok := validTable(c.Param("table"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown table"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	row, err := decodeRow(table, raw)
	if err != nil {
		s.fail(c, err)
		return
	}

	applied, inserted, err := s.rows.upsert(c.Request.Context(), row)
	if err != nil {
		s.fail(c, err)
		return
	}
	if p, ok := row.(models.Payload); ok && applied {
		typ := models.ChangeUpdate
		if inserted {
			typ = models.ChangeInsert
		}
		s.publish(typ, p)
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

func (s *Server) patchRow(c *gin.Context) {
	table, ok := validTable(c.Param("table"))
	if !ok || table == models.TableListShares {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown table"})
		return
	}
	var cols map[string]json.RawMessage
	if err := c.ShouldBindJSON(&cols); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	row, applied, err := s.rows.patch(c.Request.Context(), table, c.Param("id"), cols)
	if errors.Is(err, errNotFound) {
		// Updating a row that is gone is a no-op.
		c.JSON(http.StatusOK, gin.H{"applied": false})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	if applied {
		s.publish(models.ChangeUpdate, row)
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

func (s *Server) deleteRow(c *gin.Context) {
	table, ok := validTable(c.Param("table"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown table"})
		return
	}
	row, err := s.rows.remove(c.Request.Context(), table, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if row != nil {
		s.publish(models.ChangeDelete, row)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fetchRows(c *gin.Context) {
	table, ok := validTable(c.Param("table"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown table"})
		return
	}
	ctx := c.Request.Context()
	listID := c.Query("list_id")
	if table != models.TableLists && listID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "list_id required"})
		return
	}

	var out interface{}
	var err error
	switch table {
	case models.TableLists:
		out, err = s.rows.visibleLists(ctx, UserIDFromContext(c))
	case models.TableListItems:
		out, err = s.rows.items(ctx, "WHERE list_id = ? ORDER BY item_order, created_at, id", listID)
	case models.TableCategories:
		out, err = s.rows.categories(ctx, "WHERE list_id = ? ORDER BY item_order, created_at, id", listID)
	case models.TableListShares:
		out, err = s.rows.shares(ctx, listID)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// =====================================================
// Blobs
// =====================================================

func blobPath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

func (s *Server) putBlob(c *gin.Context) {
	path := blobPath(c)
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "object path required"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBlobBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if len(data) == 0 || len(data) > maxBlobBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "object must be 1 byte to 10 MiB"})
		return
	}

	contentType := c.GetHeader("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}

	hash, err := s.blobs.Store(data)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	previous, err := s.rows.putBlob(ctx, path, hash, contentType)
	if err != nil {
		s.fail(c, err)
		return
	}
	if previous != "" && previous != hash {
		s.dropIfOrphaned(c, previous)
	}
	c.JSON(http.StatusOK, gin.H{"key": ImageBucketPath(path), "hash": hash})
}

func (s *Server) deleteBlob(c *gin.Context) {
	orphan, err := s.rows.removeBlob(c.Request.Context(), blobPath(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if orphan != "" {
		if err := s.blobs.Delete(orphan); err != nil {
			logging.WarnErr("failed to delete orphaned blob", err, map[string]interface{}{"hash": orphan})
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getBlob(c *gin.Context) {
	hash, contentType, err := s.rows.getBlob(c.Request.Context(), blobPath(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	data, err := s.blobs.Retrieve(hash)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) dropIfOrphaned(c *gin.Context, hash string) {
	orphan, err := s.rows.orphaned(c.Request.Context(), hash)
	if err != nil || orphan == "" {
		return
	}
	if err := s.blobs.Delete(orphan); err != nil {
		logging.WarnErr("failed to delete replaced blob", err, map[string]interface{}{"hash": orphan})
	}
}

// ImageBucketPath returns the bucket-qualified key of an object.
func ImageBucketPath(path string) string {
	return "item-images/" + path
}

// =====================================================
// Realtime
// =====================================================

func (s *Server) realtime(c *gin.Context) {
	s.hub.Serve(c.Writer, c.Request, c.Param("id"))
}

func (s *Server) publish(typ models.ChangeType, row models.Payload) {
	ev, err := models.NewChangeEvent(typ, row, time.Now().UTC())
	if err != nil {
		logging.Error("failed to build change event", err, nil)
		return
	}
	s.hub.Publish(ev)
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		logging.Error("request failed", err, map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
