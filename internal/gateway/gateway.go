// ABOUTME: Gateway orchestrator wiring registry, matcher, dispatcher, and HTTP server
// ABOUTME: Manages provider catalog, fan-out pipeline, and endpoint lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"tailscale.com/tsnet"

	"github.com/nlweb/nlweb-gateway/internal/aggregate"
	"github.com/nlweb/nlweb-gateway/internal/auth"
	"github.com/nlweb/nlweb-gateway/internal/config"
	"github.com/nlweb/nlweb-gateway/internal/dispatch"
	"github.com/nlweb/nlweb-gateway/internal/matcher"
	"github.com/nlweb/nlweb-gateway/internal/metric"
	"github.com/nlweb/nlweb-gateway/internal/providerclient"
	"github.com/nlweb/nlweb-gateway/internal/registry"
	"github.com/nlweb/nlweb-gateway/internal/respcache"
	"github.com/nlweb/nlweb-gateway/internal/schema"
	"github.com/nlweb/nlweb-gateway/internal/store"
)

// responseCacheMaxEntries bounds the correlation-id replay cache.
const responseCacheMaxEntries = 10_000

// Gateway orchestrates the nlweb-gateway server components.
// It owns the provider registry, the ask fan-out pipeline, and the HTTP
// server exposing the protocol and admin endpoints.
type Gateway struct {
	config      *config.Config
	registry    *registry.Registry
	store       store.Store
	matcher     *matcher.Matcher
	dispatcher  *dispatch.Dispatcher
	respCache   *respcache.Cache
	metrics     *metric.Metrics
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore creates the provider catalog store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("NLWEB_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(s, logger.With("component", "registry"))
	if err := reg.Load(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	m := matcher.New(nil, matcher.Config{
		DegradedPenalty: cfg.Ask.DegradedScorePenalty,
	}, logger.With("component", "matcher"))

	client := providerclient.New(logger.With("component", "provider-client"))
	disp := dispatch.New(client, dispatch.Config{
		PerProviderTimeout: cfg.Ask.PerProviderTimeout,
		OverallDeadline:    cfg.Ask.OverallDeadline,
		MaxFanoutWidth:     cfg.Ask.MaxFanoutWidth,
	}, logger.With("component", "dispatcher"))

	metrics := metric.NewMetrics()
	metrics.SetRegisteredProviders(reg.Len())

	gw := &Gateway{
		config:     cfg,
		registry:   reg,
		store:      s,
		matcher:    m,
		dispatcher: disp,
		respCache:  respcache.New(cfg.Ask.ResponseCacheTTL, responseCacheMaxEntries),
		metrics:    metrics,
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Protocol and health endpoints - no auth required
	mux.HandleFunc("/nlweb/ask", gw.handleAsk)
	mux.HandleFunc("/nlweb/who", gw.handleWho)
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	// Admin endpoints - auth required if JWT secret is configured
	gw.registerAdminRoutes(mux, cfg, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerAdminRoutes registers the provider admin API with or without auth middleware.
func (g *Gateway) registerAdminRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	if cfg.Auth.JWTSecret != "" {
		verifier := auth.NewHMACKey([]byte(cfg.Auth.JWTSecret))
		authMiddleware := auth.HTTPAuthMiddleware(verifier)
		mux.Handle("/api/providers", authMiddleware(http.HandlerFunc(g.handleProviders)))
		mux.Handle("/api/providers/", authMiddleware(http.HandlerFunc(g.handleProviderRoutes)))
		logger.Info("HTTP auth middleware enabled")
		return
	}
	mux.HandleFunc("/api/providers", g.handleProviders)
	mux.HandleFunc("/api/providers/", g.handleProviderRoutes)
	logger.Warn("HTTP auth disabled - no jwt_secret configured")
}

// setupTCPListener creates a standard TCP listener for the HTTP server.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources. The
// in-memory registry is torn down; persisted catalog records survive for
// the next start.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.respCache.Close()
	g.registry.Teardown()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one provider is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.registry.Len()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no providers registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d providers)", n)
}

// buildResponse runs the full ask pipeline: match, fan out, collect, and
// aggregate. It blocks until every selected provider has reached a terminal
// state or the caller's context is done.
func (g *Gateway) buildResponse(ctx context.Context, req *schema.AskRequest) *schema.AskResponse {
	snapshot := g.registry.List(registry.Filter{})
	matches := g.matcher.Match(req.Query, snapshot)

	start := time.Now()
	selected, results := g.dispatcher.Dispatch(ctx, req, matches)

	collected := make([]dispatch.SubResult, 0, len(selected))
	for res := range results {
		g.metrics.RecordSubQuery(res.ProviderID, string(res.Status), res.Latency)
		collected = append(collected, res)
	}
	g.metrics.RecordFanout(time.Since(start))

	return aggregate.Build(req.CorrelationID, selected, collected)
}
