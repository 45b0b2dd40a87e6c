// Package middleware holds the HTTP middleware of the retrieval server:
// request ids, Prometheus metrics, CORS, rate limiting and write timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

// routes are reported by path; anything else is labelled "other" so a
// scanner cannot blow up the label set.
var routes = map[string]bool{
	"/api/v1/retrieve":         true,
	"/api/v1/stats":            true,
	"/api/v1/cache/stats":      true,
	"/api/v1/cache/invalidate": true,
}

// Metrics records request count, latency, response size and the in-flight
// gauge.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			path := route(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			m.HTTPResponseSize.WithLabelValues(path).Observe(float64(rw.bytes))
		})
	}
}

func route(path string) string {
	path = strings.TrimSuffix(path, "/")
	switch {
	case routes[path]:
		return path
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health"
	}
	return "other"
}

// responseRecorder captures the status code and body size.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *responseRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
