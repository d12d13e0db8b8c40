// Command ingest imports a price workbook into the SQLite store, or lists
// the datasets already stored.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"stockchart/config"
	"stockchart/internal/cache"
	"stockchart/internal/chart"
	"stockchart/internal/logger"
	"stockchart/internal/prep"
	sqlitestore "stockchart/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "chart.yaml", "optional YAML config file")
	file := flag.String("file", "", "workbook (.xlsx) to import")
	list := flag.Bool("list", false, "list stored datasets and exit")
	prefix := flag.String("prefix", "VT:", "ticker prefix in the Symbol column")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[ingest] .env not loaded: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ingest] config: %v", err)
	}
	logger.Init("ingest", logger.ParseLevel(cfg.LogLevel))

	if !*list && *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	store, err := openStore(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("[ingest] %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *list {
		infos, err := store.ListDatasets(ctx)
		if err != nil {
			log.Fatalf("[ingest] %v", err)
		}
		enc.Encode(infos)
		return
	}

	opts := prep.DefaultOptions()
	opts.CodePrefix = *prefix
	svc := chart.NewService(chart.Config{
		Cache: cache.NewMemory(1),
		Store: store,
		Prep:  opts,
	})

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("[ingest] read %s: %v", *file, err)
	}
	res, err := svc.Upload(ctx, filepath.Base(*file), data)
	if err != nil {
		log.Fatalf("[ingest] import %s: %v", *file, err)
	}
	enc.Encode(res)
}

// openStore creates the database directory if needed and opens the store.
func openStore(path string) (*sqlitestore.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return sqlitestore.New(sqlitestore.Config{DBPath: path})
}
