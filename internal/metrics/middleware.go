// internal/metrics/middleware.go
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware provides metrics collection for HTTP requests
func Middleware(collector *Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// nothing was written; net/http answers 200
				status = http.StatusOK
			}
			collector.RecordRequest(r.Method, normalizePath(r.URL.Path), status, time.Since(start))
		})
	}
}

// normalizePath keeps label cardinality bounded: only known routes are
// reported verbatim.
func normalizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	switch path {
	case "":
		return "/"
	case "/health", "/status", "/metrics", "/encrypt", "/decrypt", "/batch/encrypt", "/batch/decrypt":
		return path
	default:
		return "other"
	}
}
