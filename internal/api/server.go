// Package api implements the read-only HTTP gateway in front of the
// routing daemon: cached status, protocol and route endpoints, rate
// limiting, and a health probe.
package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lightwatcher/lightwatcher/internal/cache"
	"github.com/lightwatcher/lightwatcher/internal/config"
	"github.com/lightwatcher/lightwatcher/internal/daemon"
	"github.com/lightwatcher/lightwatcher/internal/model"
	"github.com/lightwatcher/lightwatcher/internal/ratelimit"
	"github.com/lightwatcher/lightwatcher/internal/workerpool"
)

// statusCacheTTL bounds how stale GET /status may be. The status call is
// cheap, so this cache exists only to absorb bursts.
const statusCacheTTL = 5 * time.Second

// BirdClient is the daemon surface the handlers consume. Satisfied by
// *daemon.Client; narrowed to an interface so handler tests can stub the
// daemon away.
type BirdClient interface {
	ShowStatus(ctx context.Context) (model.BirdStatus, error)
	ShowProtocolsAll(ctx context.Context, bgpOnly bool) (model.ProtocolsMap, error)
	ShowRouteAllTable(ctx context.Context, table daemon.TableID) (<-chan workerpool.Result, error)
	ShowRouteAllFilteredTable(ctx context.Context, table daemon.TableID) (<-chan workerpool.Result, error)
	ShowRouteAllProtocol(ctx context.Context, protocol daemon.ProtocolID) (<-chan workerpool.Result, error)
	ShowRouteAllFilteredProtocol(ctx context.Context, protocol daemon.ProtocolID) (<-chan workerpool.Result, error)
	ShowRouteAllNoexportProtocol(ctx context.Context, protocol daemon.ProtocolID) (<-chan workerpool.Result, error)
	ShowRouteAllTablePeer(ctx context.Context, table daemon.TableID, peer daemon.PeerID) (<-chan workerpool.Result, error)
}

// Server implements the HTTP API.
type Server struct {
	log     *zap.Logger
	cfg     *config.Config
	bird    BirdClient
	limiter *ratelimit.Limiter

	httpServer *http.Server

	// One cache per endpoint; each endpoint does its own
	// check-fetch-fill without in-flight deduplication. Two concurrent
	// misses both fetch; the connection pool bounds the damage.
	statusCache         *cache.Cache[*StatusResponse]
	protocolsCache      *cache.Cache[*ProtocolsResponse]
	neighborsCache      *cache.Cache[*ProtocolsResponse]
	routesReceivedCache *cache.Cache[*RoutesResponse]
	routesFilteredCache *cache.Cache[*RoutesResponse]
	routesNoexportCache *cache.Cache[*RoutesResponse]
	tableCache          *cache.Cache[*RoutesResponse]
	tableFilteredCache  *cache.Cache[*RoutesResponse]
	tablePeerCache      *cache.Cache[*RoutesResponse]
}

// NewServer creates the API server.
func NewServer(log *zap.Logger, cfg *config.Config, bird BirdClient) *Server {
	neighborsCfg := cache.Config{
		MaxEntries: cfg.NeighborsCache.MaxEntries,
		TTL:        cfg.NeighborsCache.TTL,
	}
	routesCfg := cache.Config{
		MaxEntries: cfg.RoutesCache.MaxEntries,
		TTL:        cfg.RoutesCache.TTL,
	}

	return &Server{
		log:     log,
		cfg:     cfg,
		bird:    bird,
		limiter: ratelimit.New(ratelimit.Config(cfg.GetRateLimit())),

		statusCache:         cache.New[*StatusResponse](cache.Config{MaxEntries: 1, TTL: statusCacheTTL}),
		protocolsCache:      cache.New[*ProtocolsResponse](neighborsCfg),
		neighborsCache:      cache.New[*ProtocolsResponse](neighborsCfg),
		routesReceivedCache: cache.New[*RoutesResponse](routesCfg),
		routesFilteredCache: cache.New[*RoutesResponse](routesCfg),
		routesNoexportCache: cache.New[*RoutesResponse](routesCfg),
		tableCache:          cache.New[*RoutesResponse](routesCfg),
		tableFilteredCache:  cache.New[*RoutesResponse](routesCfg),
		tablePeerCache:      cache.New[*RoutesResponse](routesCfg),
	}
}

// Handler builds the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleWelcome)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /protocols", s.handleProtocols)
	mux.HandleFunc("GET /protocols/bgp", s.handleProtocolsBGP)
	mux.HandleFunc("GET /routes/received/{id}", s.handleRoutesReceived)
	mux.HandleFunc("GET /routes/protocol/{id}", s.handleRoutesReceived)
	mux.HandleFunc("GET /routes/filtered/{id}", s.handleRoutesFiltered)
	mux.HandleFunc("GET /routes/noexport/{id}", s.handleRoutesNoexport)
	mux.HandleFunc("GET /routes/table/{table}", s.handleRoutesTable)
	mux.HandleFunc("GET /routes/table/{table}/filtered", s.handleRoutesTableFiltered)
	mux.HandleFunc("GET /routes/table/{table}/peer/{peer}", s.handleRoutesTablePeer)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	var h http.Handler = mux
	h = gzipMiddleware(h)
	h = s.rateLimitMiddleware(h)
	h = trailingSlashMiddleware(h)
	h = s.logMiddleware(h)
	return h
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Handler: s.Handler()}

	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.log.Info("HTTP API server starting", zap.String("listen", s.cfg.Listen))

	go func() {
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
		s.log.Info("HTTP API server stopped")
	}
}

// --- Middleware ---

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ratelimit.ClientKey(r)
		if !s.limiter.Allow(key) {
			s.log.Warn("rate limit reached", zap.String("client", key))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// trailingSlashMiddleware rewrites "/status/" to "/status" before routing.
func trailingSlashMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) > 1 && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimRight(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	zw *gzip.Writer
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) {
	return g.zw.Write(b)
}

func gzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		defer zw.Close()
		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, zw: zw}, r)
	})
}

// --- Handlers ---

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "lightwatcher v%s", Version)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if res, ok := s.statusCache.Get("status"); ok {
		writeJSON(w, res)
		return
	}

	status, err := s.bird.ShowStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	res := NewStatusResponse(status, statusCacheTTL)
	s.statusCache.Put("status", res.Clone())
	writeJSON(w, res)
}

func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	s.serveProtocols(w, r, s.protocolsCache, false)
}

func (s *Server) handleProtocolsBGP(w http.ResponseWriter, r *http.Request) {
	s.serveProtocols(w, r, s.neighborsCache, true)
}

func (s *Server) serveProtocols(
	w http.ResponseWriter,
	r *http.Request,
	c *cache.Cache[*ProtocolsResponse],
	bgpOnly bool,
) {
	if res, ok := c.Get("all"); ok {
		writeJSON(w, res)
		return
	}

	protocols, err := s.bird.ShowProtocolsAll(r.Context(), bgpOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res := NewProtocolsResponse(protocols)
	c.Put("all", res.Clone())
	writeJSON(w, res)
}

// routesFetch opens one streaming daemon dialog.
type routesFetch func(ctx context.Context) (<-chan workerpool.Result, error)

func (s *Server) handleRoutesReceived(w http.ResponseWriter, r *http.Request) {
	s.serveProtocolRoutes(w, r, s.routesReceivedCache, s.bird.ShowRouteAllProtocol)
}

func (s *Server) handleRoutesFiltered(w http.ResponseWriter, r *http.Request) {
	s.serveProtocolRoutes(w, r, s.routesFilteredCache, s.bird.ShowRouteAllFilteredProtocol)
}

func (s *Server) handleRoutesNoexport(w http.ResponseWriter, r *http.Request) {
	s.serveProtocolRoutes(w, r, s.routesNoexportCache, s.bird.ShowRouteAllNoexportProtocol)
}

// serveProtocolRoutes is the shared shape of the three per-protocol
// routes endpoints: validate, check cache, stream with cutoff, fill.
func (s *Server) serveProtocolRoutes(
	w http.ResponseWriter,
	r *http.Request,
	c *cache.Cache[*RoutesResponse],
	fetch func(ctx context.Context, protocol daemon.ProtocolID) (<-chan workerpool.Result, error),
) {
	protocol, err := daemon.ParseProtocolID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	key := string(protocol)
	if res, ok := c.Get(key); ok {
		writeJSON(w, res)
		return
	}

	routes, err := s.collectRoutes(r.Context(), key, s.cfg.GetRoutesProtocolCutoff(),
		func(ctx context.Context) (<-chan workerpool.Result, error) {
			return fetch(ctx, protocol)
		})
	if err != nil {
		s.writeError(w, err)
		return
	}

	res := NewRoutesResponse(routes)
	c.Put(key, res.Clone())
	writeJSON(w, res)
}

func (s *Server) handleRoutesTable(w http.ResponseWriter, r *http.Request) {
	table, err := daemon.ParseTableID(r.PathValue("table"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveTableRoutes(w, r, s.tableCache, string(table),
		func(ctx context.Context) (<-chan workerpool.Result, error) {
			return s.bird.ShowRouteAllTable(ctx, table)
		})
}

func (s *Server) handleRoutesTableFiltered(w http.ResponseWriter, r *http.Request) {
	table, err := daemon.ParseTableID(r.PathValue("table"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.serveTableRoutes(w, r, s.tableFilteredCache, string(table),
		func(ctx context.Context) (<-chan workerpool.Result, error) {
			return s.bird.ShowRouteAllFilteredTable(ctx, table)
		})
}

func (s *Server) handleRoutesTablePeer(w http.ResponseWriter, r *http.Request) {
	table, err := daemon.ParseTableID(r.PathValue("table"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	peer, err := daemon.ParsePeerID(r.PathValue("peer"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	key := cache.CompositeKey(string(table), string(peer))
	s.serveTableRoutes(w, r, s.tablePeerCache, key,
		func(ctx context.Context) (<-chan workerpool.Result, error) {
			return s.bird.ShowRouteAllTablePeer(ctx, table, peer)
		})
}

// serveTableRoutes serves the table-scoped routes endpoints. No cutoff:
// these feed sync pipelines and must be complete.
func (s *Server) serveTableRoutes(
	w http.ResponseWriter,
	r *http.Request,
	c *cache.Cache[*RoutesResponse],
	key string,
	fetch routesFetch,
) {
	if res, ok := c.Get(key); ok {
		writeJSON(w, res)
		return
	}

	routes, err := s.collectRoutes(r.Context(), key, nil, fetch)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res := NewRoutesResponse(routes)
	c.Put(key, res.Clone())
	writeJSON(w, res)
}

// collectRoutes drains one streaming dialog into a route list. Per-block
// parse failures are logged and skipped; a daemon-reported error fails
// the whole call. When cutoff is set and reached, the stream is
// abandoned and the partial list returned.
func (s *Server) collectRoutes(
	parent context.Context,
	label string,
	cutoff *int,
	fetch routesFetch,
) ([]model.Route, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	results, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	var routes []model.Route
	for res := range results {
		if res.Err != nil {
			var derr *daemon.DaemonError
			if errors.As(res.Err, &derr) {
				return nil, res.Err
			}
			s.log.Error("error decoding routes block", zap.Error(res.Err))
			continue
		}
		routes = append(routes, res.Routes...)

		if cutoff != nil && len(routes) >= *cutoff {
			s.log.Warn("cutting off routes parser as max routes received reached",
				zap.String("protocol", label),
				zap.Int("routes", len(routes)),
				zap.Int("cutoff", *cutoff),
			)
			break
		}
	}
	return routes, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := HealthResponse{
		Version:    Version,
		BirdSocket: s.cfg.BirdCtl,
	}

	status, err := s.bird.ShowStatus(r.Context())
	if err != nil {
		errStr := "Could not connect to bird daemon"
		birdErr := err.Error()
		res.Status = "error"
		res.Error = &errStr
		res.BirdError = &birdErr
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(res)
		return
	}

	res.Status = "ok"
	res.BirdStatus = &status
	writeJSON(w, res)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps any handler error to the wrapped 500 JSON shape.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:  http.StatusInternalServerError,
		Error: err.Error(),
	})
}
