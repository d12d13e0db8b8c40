package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of the chart service.
type Metrics struct {
	// Indicator compute
	ComputeDur   *prometheus.HistogramVec // labels: indicator
	ComputeTotal *prometheus.CounterVec   // labels: indicator, result=ok|error

	// Dataset lifecycle
	UploadsTotal   *prometheus.CounterVec // labels: result=new|cached|error
	UploadBytes    prometheus.Histogram
	PrepDur        prometheus.Histogram
	DatasetsLoaded prometheus.Gauge

	// Cache layers
	CacheHits   *prometheus.CounterVec // labels: layer=cache|store
	CacheMisses *prometheus.CounterVec // labels: layer

	// Redis circuit breaker
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter

	// HTTP and websocket surface
	HTTPRequests *prometheus.CounterVec // labels: route, code
	WSClients    prometheus.Gauge

	// Scheduled re-imports
	ImportRuns *prometheus.CounterVec // labels: result=ok|unchanged|error

	handler http.Handler
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// means the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chart_indicator_compute_duration_seconds",
			Help:    "Indicator compute latency per request item",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"indicator"}),
		ComputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_indicator_computations_total",
			Help: "Indicator computations by outcome",
		}, []string{"indicator", "result"}),

		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_uploads_total",
			Help: "Workbook uploads by outcome",
		}, []string{"result"}),
		UploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_upload_bytes",
			Help:    "Size of uploaded workbooks",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		}),
		PrepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chart_prep_duration_seconds",
			Help:    "Workbook parse and prepare latency",
			Buckets: prometheus.DefBuckets,
		}),
		DatasetsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_datasets_cached",
			Help: "Datasets held in the in-process cache",
		}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_cache_hits_total",
			Help: "Dataset lookups served, by layer",
		}, []string{"layer"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_cache_misses_total",
			Help: "Dataset lookups missed, by layer",
		}, []string{"layer"}),

		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chart_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chart_ws_clients",
			Help: "Connected websocket clients",
		}),

		ImportRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chart_scheduled_imports_total",
			Help: "Scheduled workbook re-imports by outcome",
		}, []string{"result"}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.ComputeDur,
		m.ComputeTotal,
		m.UploadsTotal,
		m.UploadBytes,
		m.PrepDur,
		m.DatasetsLoaded,
		m.CacheHits,
		m.CacheMisses,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.HTTPRequests,
		m.WSClients,
		m.ImportRuns,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.handler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	} else {
		m.handler = promhttp.Handler()
	}
	return m
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler { return m.handler }

// ObserveCompute records one indicator computation.
func (m *Metrics) ObserveCompute(indicator string, d time.Duration, err error) {
	m.ComputeDur.WithLabelValues(indicator).Observe(d.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ComputeTotal.WithLabelValues(indicator, result).Inc()
}

// SetBreakerState mirrors a breaker transition. Entering state 1 counts a trip.
func (m *Metrics) SetBreakerState(state int) {
	m.RedisBreakerState.Set(float64(state))
	if state == 1 {
		m.RedisBreakerTrips.Inc()
	}
}

// Pinger is a dependency the liveness checker can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool `json:"redis_enabled"`
	RedisConnected bool `json:"redis_connected"`
	SQLiteOK       bool `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		SQLiteOK:  true,
	}
}

func probe(ctx context.Context, p Pinger) (bool, float64) {
	start := time.Now()
	err := p.Ping(ctx)
	return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, p Pinger) {
	ok, ms := probe(ctx, p)
	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = ok
	h.RedisLatencyMs = ms
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, p Pinger) {
	ok, ms := probe(ctx, p)
	h.mu.Lock()
	h.SQLiteOK = ok
	h.SQLiteLatencyMs = ms
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the dependencies every interval until ctx
// is cancelled. Either pinger may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redis, sqlite Pinger, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if redis != nil {
			h.CheckRedis(probeCtx, redis)
		}
		if sqlite != nil {
			h.CheckSQLite(probeCtx, sqlite)
		}
	}
	check()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. A Redis outage only degrades
// the service; SQLite being down makes it unhealthy.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if h.RedisEnabled && !h.RedisConnected {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	lastCheck := ""
	if !h.LastCheckAt.IsZero() {
		lastCheck = h.LastCheckAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     lastCheck,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
