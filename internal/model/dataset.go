package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"stockchart/internal/series"
)

// ErrUnknownSymbol is returned when a dataset has no price column for a code.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Dataset is the prepared content of one uploaded workbook: symbol metadata
// plus a date-indexed price table with one column per symbol code.
type Dataset struct {
	Key      string       `json:"key"`    // content hash of the source bytes
	Source   string       `json:"source"` // file name, informational
	LoadedAt time.Time    `json:"loaded_at"`
	Symbols  []SymbolInfo `json:"symbols"`
	Prices   PriceTable   `json:"prices"`
}

// PriceTable holds prices by date. Columns[code][i] is the price on Dates[i],
// NaN where the sheet had no value.
type PriceTable struct {
	Dates   []time.Time       `json:"dates"`
	Codes   []string          `json:"codes"` // column order as in the sheet
	Columns map[string]Column `json:"columns"`
}

// Column is a price column. NaN entries encode as JSON null.
type Column []float64

func (c Column) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(c))
	for i := range c {
		if math.IsNaN(c[i]) || math.IsInf(c[i], 0) {
			continue
		}
		v := c[i]
		out[i] = &v
	}
	return json.Marshal(out)
}

func (c *Column) UnmarshalJSON(data []byte) error {
	var in []*float64
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	col := make(Column, len(in))
	for i, v := range in {
		if v == nil {
			col[i] = math.NaN()
			continue
		}
		col[i] = *v
	}
	*c = col
	return nil
}

// Validate checks the structural invariants the engine relies on.
func (d *Dataset) Validate() error {
	p := d.Prices
	for i := 1; i < len(p.Dates); i++ {
		if !p.Dates[i].After(p.Dates[i-1]) {
			return fmt.Errorf("dataset %s: dates not strictly increasing at row %d", d.Key, i)
		}
	}
	for _, code := range p.Codes {
		col, ok := p.Columns[code]
		if !ok {
			return fmt.Errorf("dataset %s: missing column %s", d.Key, code)
		}
		if len(col) != len(p.Dates) {
			return fmt.Errorf("dataset %s: column %s has %d rows, want %d", d.Key, code, len(col), len(p.Dates))
		}
	}
	return nil
}

// Symbol returns the metadata row for a code.
func (d *Dataset) Symbol(code string) (SymbolInfo, bool) {
	for _, s := range d.Symbols {
		if s.Code == code {
			return s, true
		}
	}
	return SymbolInfo{}, false
}

// Series returns the raw price column for code, NaNs included.
func (d *Dataset) Series(code string) (*series.Series, error) {
	col, ok := d.Prices.Columns[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, code)
	}
	return series.New(code, d.Prices.Dates, col)
}

// DateRange returns the first and last dates of the price table.
func (d *Dataset) DateRange() (first, last time.Time) {
	if n := len(d.Prices.Dates); n > 0 {
		return d.Prices.Dates[0], d.Prices.Dates[n-1]
	}
	return time.Time{}, time.Time{}
}
