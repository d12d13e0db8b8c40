package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Database.SQLitePath != "data/charts.db" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Cache.TTL != 24*time.Hour || cfg.Compute.Workers != runtime.GOMAXPROCS(0) {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("redis should be disabled by default, got %q", cfg.Redis.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if cfg.MaxUploadBytes() != 32<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.yaml")
	yml := `
http:
  addr: ":9000"
redis:
  addr: "cache:6379"
cache:
  ttl: 2h
  size: 3
compute:
  workers: 2
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHART_WORKERS", "6")
	t.Setenv("CACHE_TTL", "90m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.Redis.Addr != "cache:6379" || cfg.Cache.Size != 3 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Compute.Workers != 6 {
		t.Errorf("env should override file: workers = %d", cfg.Compute.Workers)
	}
	if cfg.Cache.TTL != 90*time.Minute {
		t.Errorf("CACHE_TTL = %s", cfg.Cache.TTL)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("http: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("CACHE_SIZE", "lots")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.Size != 8 {
		t.Errorf("invalid CACHE_SIZE should fall back to default, got %d", cfg.Cache.Size)
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := Load("")
	cfg.Compute.Workers = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative workers")
	}
}
