package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the chart service configuration.
type Config struct {
	HTTP struct {
		Addr        string `yaml:"addr"`
		MaxUploadMB int    `yaml:"max_upload_mb"`
	} `yaml:"http"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"` // empty disables the shared cache
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Cache struct {
		TTL  time.Duration `yaml:"ttl"`
		Size int           `yaml:"size"`
	} `yaml:"cache"`
	Compute struct {
		Workers int    `yaml:"workers"`
		Preset  string `yaml:"preset"` // e.g. "SMA:50,RSI:14"
	} `yaml:"compute"`
	Watch struct {
		Workbook string `yaml:"workbook"`
		Cron     string `yaml:"cron"`
	} `yaml:"watch"`
	LogLevel string `yaml:"log_level"`
}

// Load reads config from an optional YAML file, then applies environment
// variable overrides, then defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// Environment variable overrides
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", cfg.HTTP.MaxUploadMB)
	cfg.Database.SQLitePath = getEnv("SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.Size = getEnvInt("CACHE_SIZE", cfg.Cache.Size)
	cfg.Compute.Workers = getEnvInt("CHART_WORKERS", cfg.Compute.Workers)
	cfg.Compute.Preset = getEnv("CHART_PRESET", cfg.Compute.Preset)
	cfg.Watch.Workbook = getEnv("WATCH_WORKBOOK", cfg.Watch.Workbook)
	cfg.Watch.Cron = getEnv("WATCH_CRON", cfg.Watch.Cron)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	// Defaults
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxUploadMB == 0 {
		cfg.HTTP.MaxUploadMB = 32
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/charts.db"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = 8
	}
	if cfg.Compute.Workers == 0 {
		cfg.Compute.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Watch.Cron == "" {
		// seconds field first: every day at 18:00
		cfg.Watch.Cron = "0 0 18 * * *"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Database.SQLitePath == "" {
		return errors.New("database.sqlite_path is required")
	}
	if c.HTTP.MaxUploadMB <= 0 {
		return fmt.Errorf("http.max_upload_mb must be positive, got %d", c.HTTP.MaxUploadMB)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL)
	}
	if c.Compute.Workers <= 0 {
		return fmt.Errorf("compute.workers must be positive, got %d", c.Compute.Workers)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative, got %d", c.Redis.DB)
	}
	return nil
}

// MaxUploadBytes is the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.HTTP.MaxUploadMB) << 20
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q: %v", key, v, err)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q: %v", key, v, err)
		return fallback
	}
	return d
}
