package api

import (
	"net/http"

	"github.com/onnwee/storyviews/internal/middleware"
)

// Rate limit scopes.
const (
	ScopePlayback  = "playback"
	ScopeAnalytics = "analytics"
)

// RouterConfig wires handlers and per-route middleware.
type RouterConfig struct {
	Views  *ViewHandlers
	Stats  *StatsHandlers
	Health *HealthHandlers

	// Validator authenticates analytics requests. Required when Stats is set.
	Validator middleware.TokenValidator

	// RateLimitStore enables rate limiting when non-nil.
	RateLimitStore middleware.RateLimitStore
	PlaybackLimit  middleware.RateLimitConfig
	AnalyticsLimit middleware.RateLimitConfig
	Metrics        *middleware.Metrics

	// MetricsHandler serves GET /metrics when non-nil.
	MetricsHandler http.Handler
}

// NewRouter builds the route table. Request-wide middleware (request id,
// logging, tracing, CORS) is applied by the caller around the result.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /ready", cfg.Health.Ready)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	if v := cfg.Views; v != nil {
		playback := limiter(cfg, middleware.RateLimitRule{
			Scope:   ScopePlayback,
			Config:  cfg.PlaybackLimit,
			KeyFunc: middleware.IPKeyFunc(),
		})
		mux.Handle("POST /v1/pages", playback(http.HandlerFunc(v.OpenPage)))
		mux.Handle("DELETE /v1/pages/{page}", playback(http.HandlerFunc(v.ClosePage)))
		mux.Handle("POST /v1/pages/{page}/views", playback(http.HandlerFunc(v.BeginView)))
		mux.Handle("POST /v1/pages/{page}/views/{session}/events", playback(http.HandlerFunc(v.RecordEvent)))
		mux.Handle("POST /v1/pages/{page}/views/{session}/commit", playback(http.HandlerFunc(v.CommitView)))
	}

	if s := cfg.Stats; s != nil {
		rate := limiter(cfg, middleware.RateLimitRule{
			Scope:   ScopeAnalytics,
			Config:  cfg.AnalyticsLimit,
			KeyFunc: middleware.ActorKeyFunc(),
		})
		requireAuth := middleware.RequireBearer(cfg.Validator)
		analytics := func(h http.HandlerFunc) http.Handler {
			return requireAuth(rate(h))
		}
		mux.Handle("GET /v1/stories/{story}/stats", analytics(s.GetStats))
		mux.Handle("GET /v1/stories/{story}/stats/{dimension}", analytics(s.GetGroupedStats))
		mux.Handle("GET /v1/stories/{story}/views", analytics(s.ListViews))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})
	return mux
}

func limiter(cfg RouterConfig, rule middleware.RateLimitRule) func(http.Handler) http.Handler {
	if cfg.RateLimitStore == nil || rule.Config.Validate() != nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimiter(cfg.RateLimitStore, rule, cfg.Metrics)
}
