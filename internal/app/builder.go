package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toolhive-docsync/internal/api"
	"github.com/stacklok/toolhive-docsync/internal/cache"
	"github.com/stacklok/toolhive-docsync/internal/config"
	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/health"
	"github.com/stacklok/toolhive-docsync/internal/retry"
	"github.com/stacklok/toolhive-docsync/internal/service"
	"github.com/stacklok/toolhive-docsync/internal/sync/coalescer"
	"github.com/stacklok/toolhive-docsync/internal/telemetry"
	"github.com/stacklok/toolhive-docsync/internal/versions"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// instrumentationName names the tracer used by the sync pipeline and stores
	instrumentationName = "github.com/stacklok/toolhive-docsync"
)

// DocSyncAppOptions is a function that configures the app builder
type DocSyncAppOptions func(*docSyncAppConfig) error

// docSyncAppConfig holds the inputs of NewDocSyncApp. Component overrides
// are primarily for testing.
type docSyncAppConfig struct {
	config *config.Config

	store     docstore.Store
	telemetry *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...DocSyncAppOptions) (*docSyncAppConfig, error) {
	cfg := &docSyncAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = config.Default()
	}
	return cfg, nil
}

// NewDocSyncApp builds every component from configuration
func NewDocSyncApp(ctx context.Context, opts ...DocSyncAppOptions) (*DocSyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components := &AppComponents{Store: cfg.store, Telemetry: cfg.telemetry}

	// Release whatever was built if a later step fails
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			components.release(context.Background())
		}
	}()

	if components.Telemetry == nil {
		components.Telemetry, err = telemetry.New(ctx,
			telemetry.WithTelemetryConfig(cfg.config.Telemetry),
			telemetry.WithServiceVersion(versions.GetVersionInfo().Version),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}
	tracer := components.Telemetry.Tracer(instrumentationName)

	if components.Store == nil {
		components.Store, err = buildStore(ctx, cfg.config, tracer)
		if err != nil {
			return nil, fmt.Errorf("failed to create document store: %w", err)
		}
	}

	if err := buildSyncComponents(cfg.config, components); err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	cleanupNeeded = false
	return &DocSyncApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) DocSyncAppOptions {
	return func(cfg *docSyncAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) DocSyncAppOptions {
	return func(cfg *docSyncAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) DocSyncAppOptions {
	return func(cfg *docSyncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStore injects a document store instead of building one from configuration
func WithStore(store docstore.Store) DocSyncAppOptions {
	return func(cfg *docSyncAppConfig) error {
		if store == nil {
			return fmt.Errorf("store cannot be nil")
		}
		cfg.store = store
		return nil
	}
}

// WithTelemetry injects telemetry providers instead of building them from configuration
func WithTelemetry(t *telemetry.Telemetry) DocSyncAppOptions {
	return func(cfg *docSyncAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// buildSyncComponents wires cache, monitor, retry executor and coalescer
// around the store. Every component shares the same sync metrics.
func buildSyncComponents(cfg *config.Config, c *AppComponents) error {
	slog.Info("Initializing sync components")

	syncMetrics, err := telemetry.NewSyncMetrics(c.Telemetry.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	c.Cache = cache.New(
		cache.WithTTL(cfg.GetCacheTTL()),
		cache.WithRecorder(syncMetrics),
	)
	c.Monitor = health.NewMonitor(
		health.WithInterval(cfg.GetProbeInterval()),
		health.WithRecorder(syncMetrics),
	)
	c.Retry, err = retry.New(
		retry.WithMaxAttempts(cfg.GetMaxAttempts()),
		retry.WithInitialDelay(cfg.GetInitialDelay()),
		retry.WithMultiplier(cfg.GetMultiplier()),
		retry.WithMaxDelay(cfg.GetMaxDelay()),
		retry.WithRecorder(syncMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create retry executor: %w", err)
	}

	c.Coalescer, err = coalescer.New(c.Store, c.Cache, c.Monitor, c.Retry,
		coalescer.WithDebounce(cfg.GetDebounceInterval()),
		coalescer.WithCooldown(cfg.GetCooldownInterval()),
		coalescer.WithSyncMetrics(syncMetrics),
		coalescer.WithTracer(c.Telemetry.Tracer(instrumentationName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create coalescer: %w", err)
	}

	c.SyncService = service.New(c.Coalescer, c.Monitor, c.Store.Probe)

	slog.Info("Sync components initialized successfully",
		"debounce", cfg.GetDebounceInterval(),
		"cooldown", cfg.GetCooldownInterval(),
		"cache_ttl", cfg.GetCacheTTL(),
	)
	return nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *docSyncAppConfig, c *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Tracing and metrics wrap everything so rejected requests are observed too
	metricsMiddleware, err := telemetry.MetricsMiddleware(c.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	middlewares := []func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(c.Telemetry.TracerProvider()),
	}
	if metricsMiddleware != nil {
		middlewares = append(middlewares, metricsMiddleware)
	}
	middlewares = append(middlewares, b.middlewares...)

	router := api.NewServer(c.SyncService,
		api.WithMiddlewares(middlewares...),
		api.WithMetricsHandler(c.Telemetry.MetricsHandler()),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}

// release stops the coalescer, then flushes telemetry and closes the store.
func (c *AppComponents) release(ctx context.Context) error {
	var errs []error
	if c.Coalescer != nil {
		if err := c.Coalescer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop coalescer: %w", err))
		}
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown telemetry: %w", err))
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close document store: %w", err))
		}
	}
	return errors.Join(errs...)
}
