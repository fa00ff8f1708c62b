// Package gateway orchestrates all gateway components.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/lightwatcher/lightwatcher/internal/api"
	"github.com/lightwatcher/lightwatcher/internal/config"
	"github.com/lightwatcher/lightwatcher/internal/connpool"
	"github.com/lightwatcher/lightwatcher/internal/daemon"
	"github.com/lightwatcher/lightwatcher/internal/workerpool"
)

// Gateway is the main orchestrator: it owns the process-lifetime pools,
// the daemon client and the HTTP server, and starts and stops them in
// dependency order.
type Gateway struct {
	log *zap.Logger
	cfg *config.Config

	workers   *workerpool.Pool
	connPool  *connpool.Pool
	bird      *daemon.Client
	apiServer *api.Server

	cancel context.CancelFunc
}

// New creates a new Gateway with the given configuration.
func New(log *zap.Logger, cfg *config.Config) *Gateway {
	return &Gateway{
		log: log,
		cfg: cfg,
	}
}

// Start initializes and starts all components.
func (g *Gateway) Start(ctx context.Context) error {
	_, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	g.log.Info("=== Starting Lightwatcher Gateway ===")

	// Step 1: Start the routes worker pool. It must be running before
	// any daemon dialog can stream route blocks into it.
	g.workers = workerpool.New(g.log, g.cfg.RoutesWorkerPoolSize)
	g.workers.Start()

	// Step 2: Start the daemon connection pool.
	g.connPool = connpool.New(g.log, g.cfg.ConnectionPoolSize)
	g.connPool.Start()

	// Step 3: Create the daemon client on top of both pools.
	g.bird = daemon.New(g.log, g.cfg.BirdCtl, g.connPool, g.workers)

	// Step 4: Start the HTTP API server.
	g.apiServer = api.NewServer(g.log, g.cfg, g.bird)
	if err := g.apiServer.Start(); err != nil {
		g.connPool.Stop()
		g.workers.Stop()
		return err
	}

	g.log.Info("=== Lightwatcher Gateway Started ===",
		zap.String("listen", g.cfg.Listen),
		zap.String("bird_ctl", g.cfg.BirdCtl),
	)

	return nil
}

// Stop gracefully shuts down all components in reverse order.
func (g *Gateway) Stop() {
	g.log.Info("=== Stopping Lightwatcher Gateway ===")

	if g.cancel != nil {
		g.cancel()
	}

	if g.apiServer != nil {
		g.apiServer.Stop()
	}
	if g.connPool != nil {
		g.connPool.Stop()
	}
	if g.workers != nil {
		g.workers.Stop()
	}

	g.log.Info("=== Lightwatcher Gateway Stopped ===")
}
