package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"echorelay/internal/api"
	"echorelay/internal/config"
	"echorelay/internal/instrument"
	"echorelay/internal/janitor"
	"echorelay/internal/journal"
	"echorelay/internal/router"
	"echorelay/internal/websocket"
	"echorelay/pkg/interfaces"
	"echorelay/pkg/types"
)

// Application wires the relay components together and owns their
// lifecycle.
type Application struct {
	config  *config.Config
	clock   clock.Clock
	started time.Time

	registry  *websocket.Registry
	limiter   *router.RateLimiter
	router    *router.Router
	wsHandler *websocket.Handler
	journal   *journal.SQLite
	metrics   *instrument.Metrics
	janitor   *janitor.Janitor
	apiServer *api.Server

	handler    http.Handler
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
}

// Option customizes an Application.
type Option func(*Application)

// WithClock replaces the wall clock used by the rate limiter, the janitor
// and uptime reporting.
func WithClock(clk clock.Clock) Option {
	return func(a *Application) { a.clock = clk }
}

// NewApplication builds every component in dependency order:
// journal → registry → limiter → router → handler → janitor → HTTP.
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{
		config: cfg,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.started = a.clock.Now()

	if cfg.Metrics.Enabled {
		a.metrics = instrument.New()
	}

	// Optional journal. A nil *journal.SQLite must never reach an
	// interface value, so the collaborators below branch on it.
	var presence interfaces.Journal
	if cfg.Journal.Path != "" {
		jcfg := journal.DefaultConfig()
		jcfg.Path = cfg.Journal.Path
		jcfg.Retention = cfg.Journal.Retention
		jcfg.QueueSize = cfg.Journal.QueueSize

		j, err := journal.Open(jcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open presence journal: %w", err)
		}
		a.journal = j
		presence = j
	}

	a.registry = websocket.NewRegistry()

	limiter, err := router.NewRateLimiter(router.RateLimiterConfig{
		Rate:       cfg.RateLimit.Rate,
		Burst:      cfg.RateLimit.Burst,
		MaxBuckets: cfg.RateLimit.MaxBuckets,
		IdleTTL:    cfg.RateLimit.IdleTTL,
	}, a.clock)
	if err != nil {
		a.closeJournal()
		return nil, err
	}
	a.limiter = limiter

	routerOpts := []router.Option{router.WithMetrics(a.metrics)}
	handlerOpts := []websocket.HandlerOption{websocket.WithMetrics(a.metrics)}
	if presence != nil {
		routerOpts = append(routerOpts, router.WithJournal(presence))
		handlerOpts = append(handlerOpts, websocket.WithJournal(presence))
	}
	a.router = router.NewRouter(a.registry, routerOpts...)

	policy, err := websocket.ParseOverflowPolicy(cfg.WebSocket.OverflowPolicy)
	if err != nil {
		a.closeJournal()
		return nil, err
	}
	a.wsHandler = websocket.NewHandler(a.router, a.limiter, websocket.HandlerConfig{
		Connection: websocket.ConnectionOptions{
			QueueSize:    cfg.WebSocket.OutboundQueue,
			Policy:       policy,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
		},
		ReadLimit:         cfg.WebSocket.ReadLimit,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	}, handlerOpts...)

	tasks := []janitor.Task{janitor.SweepTask(a.limiter)}
	if a.journal != nil {
		tasks = append(tasks, janitor.PruneTask(a.journal, cfg.Journal.Retention, a.clock))
	}
	tasks = append(tasks, janitor.FuncTask("refresh_gauges", func() {
		a.metrics.SetTableSizes(a.registry.Len(), a.limiter.Len())
	}))
	a.janitor, err = janitor.New(cfg.RateLimit.SweepInterval, a.clock, tasks...)
	if err != nil {
		a.closeJournal()
		return nil, err
	}

	a.apiServer = api.NewServer(api.StatsFunc(a.Stats), presence)

	mux := http.NewServeMux()
	apiHandler := http.TimeoutHandler(a.apiServer, cfg.Server.WriteTimeout, `{"error":"Service Unavailable","code":503,"message":"request timed out"}`)
	mux.Handle("/health", apiHandler)
	mux.Handle("/api/", apiHandler)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	// Every other path is the relay endpoint.
	mux.Handle("/", a.wsHandler)
	a.handler = mux

	a.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	return a, nil
}

// Handler returns the root HTTP handler, for embedding in another server.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Start binds the listener, starts the janitor and serves in the
// background. It returns once the listener is bound.
func (a *Application) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}

	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	if err := a.StartBackground(ctx); err != nil {
		_ = ln.Close()
		return err
	}

	go func() {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Application.Start",
				"error":    err.Error(),
			}).Error("HTTP server stopped unexpectedly")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function":        "Application.Start",
		"addr":            ln.Addr().String(),
		"overflow_policy": a.config.WebSocket.OverflowPolicy,
		"journal":         a.journal != nil,
		"metrics":         a.metrics != nil,
	}).Info("Relay listening")
	return nil
}

// StartBackground starts housekeeping without binding a listener. Start
// calls it; callers serving Handler themselves call it directly.
func (a *Application) StartBackground(ctx context.Context) error {
	if err := a.janitor.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	return nil
}

// Stop shuts down in reverse dependency order: listener, live
// connections, janitor, journal.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Application.Stop",
	}).Info("Shutting down relay")

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.wsHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket handler: %w", err))
	}
	if err := a.janitor.Stop(); err != nil && !errors.Is(err, janitor.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("janitor: %w", err))
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Application.Stop",
	}).Info("Relay shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address, or the configured one before
// Start.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.httpServer.Addr
}

// Stats reports live relay state.
func (a *Application) Stats() types.Stats {
	return types.Stats{
		RegisteredIdentities: a.registry.Len(),
		OpenConnections:      a.wsHandler.OpenConnections(),
		RateLimitBuckets:     a.limiter.Len(),
		UptimeSeconds:        a.clock.Since(a.started).Seconds(),
	}
}

// RunHousekeeping runs one janitor pass immediately.
func (a *Application) RunHousekeeping(ctx context.Context) {
	a.janitor.RunOnce(ctx)
}

func (a *Application) closeJournal() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
}
