package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"stockchart/config"
	"stockchart/internal/app"
	"stockchart/internal/logger"
)

func main() {
	configPath := flag.String("config", "chart.yaml", "optional YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[chartd] .env not loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[chartd] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[chartd] config: %v", err)
	}
	logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))

	a, err := app.New(cfg)
	if err != nil {
		slog.Error("init failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		a.Close()
		os.Exit(1)
	}
}
