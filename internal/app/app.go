// Package app wires the chart service, its stores and the HTTP server, and
// manages their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockchart/config"
	"stockchart/internal/cache"
	"stockchart/internal/chart"
	"stockchart/internal/chartapi"
	"stockchart/internal/indicator"
	"stockchart/internal/metrics"
	"stockchart/internal/model"
	"stockchart/internal/scheduler"
	redisstore "stockchart/internal/store/redis"
	sqlitestore "stockchart/internal/store/sqlite"
)

// App owns every long-lived dependency of the chart daemon.
type App struct {
	cfg *config.Config

	store  *sqlitestore.Store
	redis  *redisstore.Cache // nil when disabled or unreachable
	svc    *chart.Service
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	sched  *scheduler.Scheduler // nil unless a workbook is watched
	srv    *http.Server
}

// New opens SQLite, connects to Redis when configured, and builds the
// service and its HTTP handler. A Redis failure is not fatal; the service
// then runs on the in-process cache alone.
func New(cfg *config.Config) (*App, error) {
	a := &App{
		cfg:    cfg,
		prom:   metrics.NewMetrics(prometheus.DefaultRegisterer),
		health: metrics.NewHealthStatus(),
	}

	if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	var err error
	a.store, err = sqlitestore.New(sqlitestore.Config{DBPath: cfg.Database.SQLitePath})
	if err != nil {
		return nil, err
	}

	var dc model.DatasetCache = cache.NewMemory(cfg.Cache.Size)
	if cfg.Redis.Addr != "" {
		a.redis, err = redisstore.NewCache(redisstore.CacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			slog.Warn("redis unavailable, using in-process cache only", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.redis.Breaker().OnTransition = func(from, to redisstore.State) {
				a.prom.SetBreakerState(int(to))
				slog.Warn("redis circuit breaker transition", "from", from.String(), "to", to.String())
			}
			dc = cache.Tiered{Local: dc, Shared: a.redis}
		}
	}

	reg := indicator.NewRegistry()
	preset, err := chart.ParsePreset(reg, cfg.Compute.Preset)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = chart.NewService(chart.Config{
		Cache:    dc,
		Store:    a.store,
		Registry: reg,
		Metrics:  a.prom,
		Workers:  cfg.Compute.Workers,
		Preset:   preset,
	})

	if cfg.Watch.Workbook != "" {
		a.sched = scheduler.New(cfg.Watch.Workbook, a.svc, a.prom)
	}

	a.srv = &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: chartapi.NewHandler(a.svc, chartapi.Options{
			MaxUploadBytes: cfg.MaxUploadBytes(),
			Metrics:        a.prom,
			Health:         a.health,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// Service returns the chart service.
func (a *App) Service() *chart.Service { return a.svc }

// Run serves HTTP and runs the scheduler until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var redisPing metrics.Pinger
	if a.redis != nil {
		redisPing = a.redis
	}
	a.health.StartLivenessChecker(ctx, redisPing, metrics.PingFunc(a.store.DB().PingContext), 15*time.Second)

	if a.sched != nil {
		if _, err := a.sched.RunNow(ctx); err != nil {
			slog.Warn("initial import failed", "path", a.cfg.Watch.Workbook, "error", err)
		}
		if err := a.sched.Register(ctx, a.cfg.Watch.Cron); err != nil {
			return err
		}
		a.sched.Start()
		defer a.sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.cfg.HTTP.Addr)
		if err := a.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("http server stopped")
	return nil
}

// Close releases the stores.
func (a *App) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
