// Package app wires the local store, outbox, remote client, connectivity
// and realtime pieces into one engine for the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/colabottles/basketbuddy/internal/config"
	"github.com/colabottles/basketbuddy/internal/db"
	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/remote"
	"github.com/colabottles/basketbuddy/internal/services"
	syncpkg "github.com/colabottles/basketbuddy/internal/sync"
	"github.com/colabottles/basketbuddy/internal/sync/connectivity"
	"github.com/colabottles/basketbuddy/internal/sync/queue"
	"github.com/colabottles/basketbuddy/internal/sync/realtime"
)

// Engine owns every long-lived component of a client.
type Engine struct {
	Config   *config.Config
	Repo     *db.Repository
	Outbox   *queue.Outbox
	Remote   *remote.HTTPClient
	Monitor  *connectivity.Monitor
	Prober   *connectivity.Prober
	Sync     *syncpkg.Coordinator
	Lists    *services.ListService
	Realtime *realtime.Manager

	database  *db.DB
	logCloser io.Closer
}

// SetupLogging points the global logger at the configured destination. The
// returned closer is nil when logging to stderr.
func SetupLogging(cfg config.LogConfig) io.Closer {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File == "" {
		logging.Init(os.Stderr, level)
		return nil
	}
	return logging.InitFile(cfg.File, level, cfg.MaxSizeMB, cfg.MaxBackups)
}

// Open builds an Engine from cfg and loads the local store into memory.
func Open(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{Config: cfg}
	e.logCloser = SetupLogging(cfg.Log)

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.database = database
	e.Repo = db.NewRepository(database.DB)

	e.Outbox = queue.New(e.Repo, queue.WithPolicy(queue.RetryPolicy{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.BackoffBase,
		MaxDelay:   cfg.Sync.BackoffMax,
	}))
	e.Remote = remote.NewHTTPClient(remote.Config{
		BaseURL: cfg.Remote.URL,
		Token:   cfg.Remote.Token,
		UserID:  cfg.Remote.UserID,
		Timeout: cfg.Remote.Timeout,
	})
	e.Monitor = connectivity.NewMonitor(cfg.Connectivity.StartOnline)
	e.Prober = connectivity.NewProber(e.Monitor, e.Remote.HealthURL(),
		cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
	e.Sync = syncpkg.NewCoordinator(e.Outbox, e.Remote, e.Monitor, e.Repo)
	e.Lists = services.NewListService(services.Deps{
		Repo:         e.Repo,
		Outbox:       e.Outbox,
		Remote:       e.Remote,
		Auth:         e.Remote,
		Blobs:        e.Remote,
		Connectivity: e.Monitor,
	})
	e.Realtime = realtime.NewManager(realtime.NewWebSocketFeed(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.UserID))

	if err := e.Lists.LoadLocal(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to load local store: %w", err)
	}

	logging.Info("engine opened", map[string]interface{}{
		"component": "app",
		"data_dir":  cfg.DataDir,
		"remote":    cfg.Remote.URL,
	})
	return e, nil
}

// Probe checks the remote once and records the result. One-shot commands
// call it instead of running the prober loop.
func (e *Engine) Probe(ctx context.Context) bool {
	online := e.Prober.Check(ctx)
	e.Monitor.Set(online)
	return online
}

// Run probes connectivity and drains the outbox until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Prober.Run(gctx) })
	g.Go(func() error { return e.Sync.Run(gctx) })
	return g.Wait()
}

// Close releases subscriptions, the local store and the log file.
func (e *Engine) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.Realtime != nil {
		e.Realtime.UnsubscribeAll()
	}
	if e.Repo != nil {
		keep(e.Repo.Close())
	}
	if e.database != nil {
		keep(e.database.Close())
	}
	if e.logCloser != nil {
		keep(e.logCloser.Close())
	}
	return firstErr
}
