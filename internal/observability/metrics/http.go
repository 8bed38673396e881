package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware records request counts and latency labelled by method,
// normalized route and status.
func Middleware(next http.Handler) http.Handler {
	if !enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := normalizePath(r.URL.Path)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// normalizePath collapses ID segments so that labels stay low-cardinality.
// API paths follow /api/v1/{resource}/{id}/{action}.
func normalizePath(path string) string {
	switch path {
	case "/metrics", "/healthz", "/readyz":
		return path
	}
	if !strings.HasPrefix(path, "/api/v1/") {
		return "other"
	}

	parts := strings.Split(strings.Trim(path[len("/api/v1/"):], "/"), "/")
	normalized := []string{"/api/v1"}
	for i, part := range parts {
		if i%2 == 1 && part != "latest" {
			part = "{id}"
		}
		normalized = append(normalized, part)
	}
	return strings.Join(normalized, "/")
}
