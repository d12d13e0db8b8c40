package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// Business logic depends on these; Redis, SQLite and in-memory
// implementations satisfy them.

// DatasetCache holds recently used datasets keyed by upload content hash.
// A miss is reported as (nil, false, nil).
type DatasetCache interface {
	Get(ctx context.Context, key string) (*Dataset, bool, error)
	Put(ctx context.Context, ds *Dataset) error
}

// DatasetStore persists prepared datasets.
type DatasetStore interface {
	// SaveDataset writes ds, replacing any dataset stored under the same key.
	SaveDataset(ctx context.Context, ds *Dataset) error

	// LoadDataset returns (nil, nil) when no dataset has the key.
	LoadDataset(ctx context.Context, key string) (*Dataset, error)

	// ListDatasets returns stored datasets, newest first.
	ListDatasets(ctx context.Context) ([]DatasetInfo, error)
}

// DatasetInfo summarises a stored dataset.
type DatasetInfo struct {
	Key      string    `json:"key"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
	Symbols  int       `json:"symbols"`
	Dates    int       `json:"dates"`
}
