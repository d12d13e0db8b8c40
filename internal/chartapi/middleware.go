package chartapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"stockchart/internal/logger"
	"stockchart/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack is required by the websocket upgrader.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

var routes = map[string]bool{
	"/api/datasets":   true,
	"/api/symbols":    true,
	"/api/summary":    true,
	"/api/series":     true,
	"/api/indicators": true,
	"/api/compute":    true,
	"/ws":             true,
	"/healthz":        true,
}

func routeLabel(path string) string {
	if routes[path] {
		return path
	}
	return "other"
}

// withTrace tags each request with a trace ID (taken from X-Request-ID when
// present), echoes it in the response, and counts requests by route.
func withTrace(next http.Handler, prom *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get("X-Request-ID")
		if tid == "" {
			tid = logger.GenerateTraceID("req", time.Now())
		}
		w.Header().Set("X-Request-ID", tid)
		ctx := logger.WithTraceID(r.Context(), tid)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if prom != nil && r.URL.Path != "/metrics" {
			prom.HTTPRequests.WithLabelValues(routeLabel(r.URL.Path), strconv.Itoa(rec.status)).Inc()
		}
	})
}
