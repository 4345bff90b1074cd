package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// unmatchedRoute is the path label for requests outside the known routes.
const unmatchedRoute = "other"

// normalizePath maps request paths to route patterns so path labels stay
// bounded, e.g. /v1/pages/abc/views to /v1/pages/{page}/views.
func normalizePath(path string) string {
	switch path {
	case "/health", "/ready", "/metrics":
		return path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		return unmatchedRoute
	}
	for _, p := range parts {
		if p == "" {
			return unmatchedRoute
		}
	}

	switch parts[1] {
	case "pages":
		switch {
		case len(parts) == 2:
			return "/v1/pages"
		case len(parts) == 3:
			return "/v1/pages/{page}"
		case len(parts) == 4 && parts[3] == "views":
			return "/v1/pages/{page}/views"
		case len(parts) == 6 && parts[3] == "views" && (parts[5] == "events" || parts[5] == "commit"):
			return "/v1/pages/{page}/views/{session}/" + parts[5]
		}
	case "stories":
		switch {
		case len(parts) == 4 && (parts[3] == "stats" || parts[3] == "views"):
			return "/v1/stories/{story}/" + parts[3]
		case len(parts) == 5 && parts[3] == "stats":
			return "/v1/stories/{story}/stats/{dimension}"
		}
	}
	return unmatchedRoute
}

// HTTPMetrics is a middleware that records HTTP request metrics: duration,
// request/response sizes and request counts per normalized route.
// Health check endpoints are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(rw.statusCode),
				time.Since(start).Seconds(),
				max(r.ContentLength, 0),
				int64(rw.size),
			)
		})
	}
}
