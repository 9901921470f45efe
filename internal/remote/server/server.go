// Package server is a development remote store. It serves the REST, storage
// and realtime endpoints the sync engine talks to, backed by sqlite and
// content-addressed blob storage.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/sync/storage"
)

// Config holds server settings.
type Config struct {
	Addr    string
	DBPath  string // empty means in-memory
	BlobDir string
	Token   string // empty disables the bearer check
}

// Server is the development remote.
type Server struct {
	config Config
	rows   *rowStore
	blobs  *storage.ContentAddressedStorage
	hub    *Hub
	router *gin.Engine
}

// New opens the server's stores and builds its router.
func New(config Config) (*Server, error) {
	if config.BlobDir == "" {
		return nil, errors.New("blob directory is required")
	}
	rows, err := openRowStore(config.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: config,
		rows:   rows,
		blobs:  storage.NewContentAddressedStorage(config.BlobDir),
		hub:    NewHub(),
	}
	s.router = s.newRouter()
	return s, nil
}

func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-User-ID"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/storage/v1/object/public/item-images/*path", s.getBlob)

	api := r.Group("/")
	api.Use(Auth(s.config.Token))
	{
		api.POST("/rest/v1/:table", s.upsertRow)
		api.GET("/rest/v1/:table", s.fetchRows)
		api.PATCH("/rest/v1/:table/:id", s.patchRow)
		api.DELETE("/rest/v1/:table/:id", s.deleteRow)

		api.PUT("/storage/v1/object/item-images/*path", s.putBlob)
		api.DELETE("/storage/v1/object/item-images/*path", s.deleteBlob)

		api.GET("/realtime/v1/lists/:id", s.realtime)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("request", map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the realtime hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on config.Addr until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("remote listening", map[string]interface{}{"addr": s.config.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the server's stores.
func (s *Server) Close() error {
	s.hub.Close()
	return s.rows.Close()
}
