package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"stockchart/internal/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "charts.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDataset(key string, loaded time.Time) *model.Dataset {
	d := func(day int) time.Time { return time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC) }
	return &model.Dataset{
		Key:      key,
		Source:   "prices.xlsx",
		LoadedAt: loaded,
		Symbols: []model.SymbolInfo{
			{Name: "Vietcombank", Code: "VCB", Exchange: "HOSE", Sector: "Banks", StartDate: d(1)},
			{Name: "Hoa Phat", Code: "HPG", Exchange: "HOSE", Sector: "Steel"},
		},
		Prices: model.PriceTable{
			Dates: []time.Time{d(1), d(4), d(5)},
			Codes: []string{"VCB", "HPG"},
			Columns: map[string]model.Column{
				"VCB": {90.5, math.NaN(), 91.25},
				"HPG": {27, 27.5, 28},
			},
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	loaded := time.Date(2024, 3, 6, 9, 30, 0, 0, time.UTC)
	want := sampleDataset("abc", loaded)

	if err := s.SaveDataset(ctx, want); err != nil {
		t.Fatalf("SaveDataset: %v", err)
	}
	got, err := s.LoadDataset(ctx, "abc")
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if got == nil {
		t.Fatal("dataset not found after save")
	}

	if got.Source != want.Source || !got.LoadedAt.Equal(loaded) {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.Symbols) != 2 || got.Symbols[0].Code != "VCB" || got.Symbols[1].Code != "HPG" {
		t.Fatalf("symbols out of order: %+v", got.Symbols)
	}
	if !got.Symbols[0].StartDate.Equal(want.Symbols[0].StartDate) {
		t.Errorf("start date = %v", got.Symbols[0].StartDate)
	}
	if !got.Symbols[1].StartDate.IsZero() {
		t.Errorf("blank start date should stay zero, got %v", got.Symbols[1].StartDate)
	}
	if len(got.Prices.Dates) != 3 || !got.Prices.Dates[1].Equal(want.Prices.Dates[1]) {
		t.Errorf("dates = %v", got.Prices.Dates)
	}
	if got.Prices.Codes[0] != "VCB" || got.Prices.Codes[1] != "HPG" {
		t.Errorf("codes = %v", got.Prices.Codes)
	}

	vcb := got.Prices.Columns["VCB"]
	if vcb[0] != 90.5 || !math.IsNaN(vcb[1]) || vcb[2] != 91.25 {
		t.Errorf("VCB column = %v", vcb)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("loaded dataset invalid: %v", err)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := openTemp(t)
	got, err := s.LoadDataset(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", got, err)
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	ds := sampleDataset("abc", time.Unix(100, 0))
	if err := s.SaveDataset(ctx, ds); err != nil {
		t.Fatal(err)
	}

	ds.Prices.Columns["HPG"] = model.Column{1, 2, 3}
	ds.Source = "renamed.xlsx"
	if err := s.SaveDataset(ctx, ds); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.LoadDataset(ctx, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != "renamed.xlsx" || got.Prices.Columns["HPG"][2] != 3 {
		t.Errorf("replacement not applied: %+v", got)
	}
	infos, err := s.ListDatasets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Errorf("expected a single dataset, got %d", len(infos))
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	for i, key := range []string{"old", "new"} {
		if err := s.SaveDataset(ctx, sampleDataset(key, time.Unix(int64(1000*(i+1)), 0))); err != nil {
			t.Fatal(err)
		}
	}

	infos, err := s.ListDatasets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Key != "new" || infos[1].Key != "old" {
		t.Fatalf("unexpected order: %+v", infos)
	}
	if infos[0].Symbols != 2 || infos[0].Dates != 3 {
		t.Errorf("counts = %+v", infos[0])
	}
}
