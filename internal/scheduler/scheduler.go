// Package scheduler re-imports a watched workbook on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stockchart/internal/chart"
	"stockchart/internal/logger"
	"stockchart/internal/metrics"
)

// Uploader is the part of chart.Service the scheduler needs.
type Uploader interface {
	Upload(ctx context.Context, source string, data []byte) (chart.UploadResult, error)
}

// Scheduler re-reads Path on every tick and uploads it. Unchanged content
// hashes to the same key and costs only a cache lookup.
type Scheduler struct {
	Cron     *cron.Cron
	Path     string
	Uploader Uploader
	Metrics  *metrics.Metrics // optional

	mu      sync.Mutex
	lastKey string
}

// New creates a scheduler using six-field (seconds first) cron specs.
func New(path string, up Uploader, prom *metrics.Metrics) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Path:     path,
		Uploader: up,
		Metrics:  prom,
	}
}

// Register schedules the import on spec.
func (s *Scheduler) Register(ctx context.Context, spec string) error {
	if _, err := s.Cron.AddFunc(spec, func() {
		if _, err := s.RunNow(ctx); err != nil {
			slog.Error("scheduled import failed", "path", s.Path, "error", err)
		}
	}); err != nil {
		return fmt.Errorf("register import %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	slog.Info("scheduler started", "path", s.Path)
}

// Stop stops the scheduler and waits for a running import to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// LastKey returns the dataset key of the most recent successful import.
func (s *Scheduler) LastKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKey
}

// RunNow imports the workbook immediately.
func (s *Scheduler) RunNow(ctx context.Context) (chart.UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("import", time.Now()))
	data, err := os.ReadFile(s.Path)
	if err != nil {
		s.count("error")
		return chart.UploadResult{}, fmt.Errorf("read workbook: %w", err)
	}
	res, err := s.Uploader.Upload(ctx, filepath.Base(s.Path), data)
	if err != nil {
		s.count("error")
		return chart.UploadResult{}, err
	}

	if res.Key == s.lastKey {
		s.count("unchanged")
	} else {
		s.count("ok")
		logger.FromContext(ctx).Info("workbook imported",
			"path", s.Path, "dataset", res.Key, "symbols", res.Symbols, "dates", res.Dates)
	}
	s.lastKey = res.Key
	return res, nil
}

func (s *Scheduler) count(result string) {
	if s.Metrics != nil {
		s.Metrics.ImportRuns.WithLabelValues(result).Inc()
	}
}
