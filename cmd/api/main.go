// Package main is the entry point for the story view API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/storyviews/internal/api"
	"github.com/onnwee/storyviews/internal/audit"
	"github.com/onnwee/storyviews/internal/auth"
	"github.com/onnwee/storyviews/internal/config"
	"github.com/onnwee/storyviews/internal/db"
	"github.com/onnwee/storyviews/internal/geo"
	"github.com/onnwee/storyviews/internal/health"
	"github.com/onnwee/storyviews/internal/identity"
	"github.com/onnwee/storyviews/internal/jobs"
	"github.com/onnwee/storyviews/internal/middleware"
	"github.com/onnwee/storyviews/internal/storyview"
	"github.com/onnwee/storyviews/internal/tracing"
)

const serviceName = "storyviews-api"

// metricsSet is a package's group of Prometheus collectors.
type metricsSet interface {
	Register(prometheus.Registerer) error
}

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", os.Getenv("STORYVIEWS_CONFIG"), "path to YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Story Views API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	env := "development"
	if cfg != nil {
		env = cfg.Env
	}
	logger := middleware.NewLogger(env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := middleware.NewMetrics()
	viewMetrics := storyview.NewMetrics()
	geoMetrics := geo.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, m := range []metricsSet{httpMetrics, viewMetrics, geoMetrics, jobMetrics} {
		if err := m.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	// Storage
	var (
		viewRepo  storyview.Repository = storyview.NewInMemoryRepository()
		auditRepo audit.Repository     = audit.NewInMemoryRepository()
		checkers  []health.Checker
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(context.Background(), cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.VerifySchema(context.Background(), conn); err != nil {
			return err
		}
		viewRepo = storyview.NewPostgresRepository(conn)
		auditRepo = audit.NewPostgresRepository(conn)
		checkers = append(checkers, health.NewDBChecker(conn))
		logger.Info("using postgres storage")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = openRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}

	// Rate limiting
	stop := make(chan struct{})
	defer close(stop)
	var limitStore middleware.RateLimitStore
	if redisClient != nil {
		limitStore = middleware.NewRedisRateLimitStore(redisClient).
			WithMetrics(httpMetrics).
			WithLogger(logger)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go memStore.RunCleanup(stop)
		limitStore = memStore
	}

	// Page registry and idle sweeper
	locator, err := newLocator(cfg, redisClient, geoMetrics, logger)
	if err != nil {
		return err
	}
	registry := storyview.NewPageRegistry(storyview.RegistryConfig{
		Repository: viewRepo,
		Locator:    locator,
		Policy:     cfg.ViewPolicy(),
		Metrics:    viewMetrics,
		Logger:     logger,
	})
	go storyview.RunPeriodicSweep(registry, cfg.SweepInterval(), cfg.PageIdleTimeout(), jobMetrics, stop)

	// HTTP
	mux := api.NewRouter(api.RouterConfig{
		Views:          api.NewViewHandlers(registry, logger),
		Stats:          api.NewStatsHandlers(viewRepo, auditRepo, logger),
		Health:         api.NewHealthHandlers(api.HealthHandlersConfig{Checkers: checkers, Logger: logger}),
		Validator:      auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret),
		RateLimitStore: limitStore,
		PlaybackLimit:  middleware.RateLimitConfig{RequestsPerWindow: cfg.PlaybackRateLimit, WindowDuration: time.Minute},
		AnalyticsLimit: middleware.RateLimitConfig{RequestsPerWindow: cfg.AnalyticsRateLimit, WindowDuration: time.Minute},
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	// Apply middleware: RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS
	var handler http.Handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins))(mux)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	// Playback surfaces are gone with the server; commit what they left open.
	if err := registry.Shutdown(ctx); err != nil {
		logger.Error("failed to commit open sessions", "error", err)
	}
	registry.Writes().LogSummary(logger, "story_views")
	return nil
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// newLocator builds the geolocation chain. It returns nil when no provider
// is configured, which leaves views without location.
func newLocator(cfg *config.Config, client *redis.Client, metrics *geo.Metrics, logger *slog.Logger) (identity.Locator, error) {
	providers, err := geo.NewProviders(cfg.GeoProviders, geo.NewHTTPClient(cfg.GeoTimeout()))
	if err != nil {
		return nil, fmt.Errorf("geo providers: %w", err)
	}
	if len(providers) == 0 {
		logger.Info("geolocation disabled")
		return nil, nil
	}

	locatorCfg := geo.LocatorConfig{
		ProviderTimeout: cfg.GeoTimeout(),
		Metrics:         metrics,
		Logger:          logger,
	}
	if client != nil {
		locatorCfg.Cache = geo.NewRedisCache(client, cfg.GeoCacheTTL())
	}
	return geo.NewChainLocator(providers, locatorCfg), nil
}
