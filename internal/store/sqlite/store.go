// Package sqlite persists prepared datasets in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stockchart/internal/model"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/charts.db"
}

// Store implements model.DatasetStore.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; readers share the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS datasets (
			key        TEXT    PRIMARY KEY,
			source     TEXT    NOT NULL,
			loaded_at  INTEGER NOT NULL,
			n_symbols  INTEGER NOT NULL,
			n_dates    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS dataset_symbols (
			dataset_key TEXT    NOT NULL REFERENCES datasets(key) ON DELETE CASCADE,
			pos         INTEGER NOT NULL,
			name        TEXT    NOT NULL,
			code        TEXT    NOT NULL,
			full_name   TEXT    NOT NULL,
			start_date  INTEGER,
			category    TEXT    NOT NULL,
			exchange    TEXT    NOT NULL,
			market      TEXT    NOT NULL,
			currency    TEXT    NOT NULL,
			sector      TEXT    NOT NULL,
			PRIMARY KEY (dataset_key, pos)
		);

		CREATE TABLE IF NOT EXISTS dataset_columns (
			dataset_key TEXT    NOT NULL REFERENCES datasets(key) ON DELETE CASCADE,
			pos         INTEGER NOT NULL,
			code        TEXT    NOT NULL,
			PRIMARY KEY (dataset_key, pos)
		);

		CREATE TABLE IF NOT EXISTS dataset_dates (
			dataset_key TEXT    NOT NULL REFERENCES datasets(key) ON DELETE CASCADE,
			row         INTEGER NOT NULL,
			ts          INTEGER NOT NULL,
			PRIMARY KEY (dataset_key, row)
		);

		CREATE TABLE IF NOT EXISTS prices (
			dataset_key TEXT    NOT NULL REFERENCES datasets(key) ON DELETE CASCADE,
			code        TEXT    NOT NULL,
			row         INTEGER NOT NULL,
			price       REAL,
			PRIMARY KEY (dataset_key, code, row)
		);

		CREATE INDEX IF NOT EXISTS idx_datasets_loaded ON datasets(loaded_at DESC);
	`)
	return err
}

// SaveDataset writes ds in one transaction, replacing any previous copy.
func (s *Store) SaveDataset(ctx context.Context, ds *model.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE key = ?`, ds.Key); err != nil {
		return fmt.Errorf("sqlite delete dataset %s: %w", ds.Key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (key, source, loaded_at, n_symbols, n_dates) VALUES (?, ?, ?, ?, ?)`,
		ds.Key, ds.Source, ds.LoadedAt.UnixMilli(), len(ds.Symbols), len(ds.Prices.Dates),
	); err != nil {
		return fmt.Errorf("sqlite insert dataset %s: %w", ds.Key, err)
	}

	if err := insertSymbols(ctx, tx, ds); err != nil {
		return err
	}
	if err := insertPrices(ctx, tx, ds); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func insertSymbols(ctx context.Context, tx *sql.Tx, ds *model.Dataset) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_symbols
			(dataset_key, pos, name, code, full_name, start_date, category, exchange, market, currency, sector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare symbols: %w", err)
	}
	defer stmt.Close()

	for i, sym := range ds.Symbols {
		var start sql.NullInt64
		if !sym.StartDate.IsZero() {
			start = sql.NullInt64{Int64: sym.StartDate.Unix(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, ds.Key, i, sym.Name, sym.Code, sym.FullName, start,
			sym.Category, sym.Exchange, sym.Market, sym.Currency, sym.Sector); err != nil {
			return fmt.Errorf("sqlite insert symbol %s: %w", sym.Code, err)
		}
	}
	return nil
}

func insertPrices(ctx context.Context, tx *sql.Tx, ds *model.Dataset) error {
	colStmt, err := tx.PrepareContext(ctx, `INSERT INTO dataset_columns (dataset_key, pos, code) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare columns: %w", err)
	}
	defer colStmt.Close()
	for i, code := range ds.Prices.Codes {
		if _, err := colStmt.ExecContext(ctx, ds.Key, i, code); err != nil {
			return fmt.Errorf("sqlite insert column %s: %w", code, err)
		}
	}

	dateStmt, err := tx.PrepareContext(ctx, `INSERT INTO dataset_dates (dataset_key, row, ts) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare dates: %w", err)
	}
	defer dateStmt.Close()
	for i, d := range ds.Prices.Dates {
		if _, err := dateStmt.ExecContext(ctx, ds.Key, i, d.Unix()); err != nil {
			return fmt.Errorf("sqlite insert date row %d: %w", i, err)
		}
	}

	priceStmt, err := tx.PrepareContext(ctx, `INSERT INTO prices (dataset_key, code, row, price) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare prices: %w", err)
	}
	defer priceStmt.Close()
	for _, code := range ds.Prices.Codes {
		for row, v := range ds.Prices.Columns[code] {
			if _, err := priceStmt.ExecContext(ctx, ds.Key, code, row, nullPrice(v)); err != nil {
				return fmt.Errorf("sqlite insert price %s[%d]: %w", code, row, err)
			}
		}
	}
	return nil
}

// nullPrice maps NaN to SQL NULL.
func nullPrice(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// LoadDataset implements model.DatasetStore.
func (s *Store) LoadDataset(ctx context.Context, key string) (*model.Dataset, error) {
	ds := &model.Dataset{Key: key}
	var loadedMs int64
	var nDates int
	err := s.db.QueryRowContext(ctx,
		`SELECT source, loaded_at, n_dates FROM datasets WHERE key = ?`, key,
	).Scan(&ds.Source, &loadedMs, &nDates)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query dataset %s: %w", key, err)
	}
	ds.LoadedAt = time.UnixMilli(loadedMs).UTC()

	if ds.Symbols, err = s.loadSymbols(ctx, key); err != nil {
		return nil, err
	}
	if ds.Prices, err = s.loadPrices(ctx, key, nDates); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *Store) loadSymbols(ctx context.Context, key string) ([]model.SymbolInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, code, full_name, start_date, category, exchange, market, currency, sector
		FROM dataset_symbols WHERE dataset_key = ? ORDER BY pos ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []model.SymbolInfo
	for rows.Next() {
		var sym model.SymbolInfo
		var start sql.NullInt64
		if err := rows.Scan(&sym.Name, &sym.Code, &sym.FullName, &start,
			&sym.Category, &sym.Exchange, &sym.Market, &sym.Currency, &sym.Sector); err != nil {
			return nil, fmt.Errorf("sqlite scan symbol: %w", err)
		}
		if start.Valid {
			sym.StartDate = time.Unix(start.Int64, 0).UTC()
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *Store) loadPrices(ctx context.Context, key string, nDates int) (model.PriceTable, error) {
	pt := model.PriceTable{
		Dates:   make([]time.Time, 0, nDates),
		Columns: make(map[string]model.Column),
	}

	dates, err := s.db.QueryContext(ctx, `SELECT ts FROM dataset_dates WHERE dataset_key = ? ORDER BY row ASC`, key)
	if err != nil {
		return pt, fmt.Errorf("sqlite query dates: %w", err)
	}
	for dates.Next() {
		var ts int64
		if err := dates.Scan(&ts); err != nil {
			dates.Close()
			return pt, fmt.Errorf("sqlite scan date: %w", err)
		}
		pt.Dates = append(pt.Dates, time.Unix(ts, 0).UTC())
	}
	dates.Close()
	if err := dates.Err(); err != nil {
		return pt, err
	}

	cols, err := s.db.QueryContext(ctx, `SELECT code FROM dataset_columns WHERE dataset_key = ? ORDER BY pos ASC`, key)
	if err != nil {
		return pt, fmt.Errorf("sqlite query columns: %w", err)
	}
	for cols.Next() {
		var code string
		if err := cols.Scan(&code); err != nil {
			cols.Close()
			return pt, fmt.Errorf("sqlite scan column: %w", err)
		}
		pt.Codes = append(pt.Codes, code)
		col := make(model.Column, len(pt.Dates))
		for i := range col {
			col[i] = math.NaN()
		}
		pt.Columns[code] = col
	}
	cols.Close()
	if err := cols.Err(); err != nil {
		return pt, err
	}

	prices, err := s.db.QueryContext(ctx, `SELECT code, row, price FROM prices WHERE dataset_key = ?`, key)
	if err != nil {
		return pt, fmt.Errorf("sqlite query prices: %w", err)
	}
	defer prices.Close()
	for prices.Next() {
		var code string
		var row int
		var price sql.NullFloat64
		if err := prices.Scan(&code, &row, &price); err != nil {
			return pt, fmt.Errorf("sqlite scan price: %w", err)
		}
		col, ok := pt.Columns[code]
		if !ok || row < 0 || row >= len(col) {
			return pt, fmt.Errorf("sqlite price %s[%d] outside table", code, row)
		}
		if price.Valid {
			col[row] = price.Float64
		}
	}
	return pt, prices.Err()
}

// ListDatasets implements model.DatasetStore.
func (s *Store) ListDatasets(ctx context.Context) ([]model.DatasetInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, source, loaded_at, n_symbols, n_dates
		FROM datasets ORDER BY loaded_at DESC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query datasets: %w", err)
	}
	defer rows.Close()

	var out []model.DatasetInfo
	for rows.Next() {
		var info model.DatasetInfo
		var loadedMs int64
		if err := rows.Scan(&info.Key, &info.Source, &loadedMs, &info.Symbols, &info.Dates); err != nil {
			return nil, fmt.Errorf("sqlite scan dataset: %w", err)
		}
		info.LoadedAt = time.UnixMilli(loadedMs).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
